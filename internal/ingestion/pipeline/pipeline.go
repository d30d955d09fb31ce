package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docstack/docstack-backend/internal/ingestion/chunker"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type IngestInput struct {
	DocumentID uuid.UUID
	UserID     uuid.UUID
	Filename   string
	Text       string
	// Metadata is caller-supplied and merged into every chunk record.
	// Reserved keys (document_id, user_id, chunk_index, total_chunks,
	// filename) always win over caller values.
	Metadata map[string]any
}

type IngestOutput struct {
	ChunkCount int
	ChunkIDs   []string
}

// Pipeline turns extracted document text into chunk records and writes them
// to the vector store in one logical batch. It never touches the document's
// processing status; that belongs to the job that drives it.
type Pipeline struct {
	log     *logger.Logger
	store   vectorstore.Store
	chunker *chunker.Chunker
}

func New(log *logger.Logger, store vectorstore.Store, ck *chunker.Chunker) (*Pipeline, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if ck == nil {
		ck = chunker.New(chunker.DefaultSize, chunker.DefaultOverlap)
	}
	return &Pipeline{
		log:     log.With("service", "IngestionPipeline"),
		store:   store,
		chunker: ck,
	}, nil
}

// Ingest chunks the text, assigns each chunk a fresh unique ID, and upserts
// the batch. Chunk IDs are never derived from the document ID so re-ingestion
// cannot collide with chunks still awaiting cascade deletion. Upsert failures
// propagate to the caller untouched; retry policy lives in the job layer.
func (p *Pipeline) Ingest(ctx context.Context, in IngestInput) (IngestOutput, error) {
	out := IngestOutput{}
	if in.DocumentID == uuid.Nil {
		return out, fmt.Errorf("ingest: missing document_id: %w", apperrors.ErrInvalidArgument)
	}
	if in.UserID == uuid.Nil {
		return out, fmt.Errorf("ingest: missing user_id: %w", apperrors.ErrInvalidArgument)
	}

	chunks := p.chunker.Split(in.Text)
	if len(chunks) == 0 {
		return out, &apperrors.EmptyDocumentError{DocumentID: in.DocumentID}
	}

	records := make([]vectorstore.Record, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, text := range chunks {
		id := uuid.NewString()
		ids = append(ids, id)

		metadata := make(map[string]any, len(in.Metadata)+5)
		for k, v := range in.Metadata {
			metadata[k] = v
		}
		metadata[vectorstore.MetaDocumentID] = in.DocumentID.String()
		metadata[vectorstore.MetaUserID] = in.UserID.String()
		metadata[vectorstore.MetaChunkIndex] = i
		metadata[vectorstore.MetaTotalChunks] = len(chunks)
		metadata[vectorstore.MetaFilename] = in.Filename

		records = append(records, vectorstore.Record{
			ID:       id,
			Content:  text,
			Metadata: metadata,
		})
	}

	if err := p.store.Upsert(ctx, records); err != nil {
		return out, err
	}

	p.log.Info("document ingested",
		"document_id", in.DocumentID.String(),
		"user_id", in.UserID.String(),
		"chunks", len(records),
	)
	out.ChunkCount = len(records)
	out.ChunkIDs = ids
	return out, nil
}
