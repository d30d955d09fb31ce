package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/docstack/docstack-backend/internal/ingestion/chunker"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type fakeStore struct {
	upserts  [][]vectorstore.Record
	upsertFn func([]vectorstore.Record) error
}

func (f *fakeStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if f.upsertFn != nil {
		if err := f.upsertFn(records); err != nil {
			return err
		}
	}
	f.upserts = append(f.upserts, records)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, query string, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	return nil, nil
}

func (f *fakeStore) Delete(ctx context.Context, ids []string) error { return nil }

func newTestPipeline(t *testing.T, store vectorstore.Store, ck *chunker.Chunker) *Pipeline {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p, err := New(log, store, ck)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestIngestEmptyTextFailsWithoutUpsert(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil)

	_, err := p.Ingest(context.Background(), IngestInput{
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Filename:   "empty.txt",
		Text:       "   \n",
	})
	var emptyErr *apperrors.EmptyDocumentError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("want EmptyDocumentError, got %v", err)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("upserts: want=0 got=%d", len(store.upserts))
	}
}

func TestIngestMissingUserIDIsInvalidArgument(t *testing.T) {
	p := newTestPipeline(t, &fakeStore{}, nil)
	_, err := p.Ingest(context.Background(), IngestInput{
		DocumentID: uuid.New(),
		Text:       "some text",
	})
	if !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}

func TestIngestAttachesChunkBookkeepingMetadata(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, chunker.New(1000, 100))

	docID := uuid.New()
	userID := uuid.New()
	out, err := p.Ingest(context.Background(), IngestInput{
		DocumentID: docID,
		UserID:     userID,
		Filename:   "notes.pdf",
		Text:       strings.Repeat("y", 3000),
		Metadata:   map[string]any{"collection": "research", "user_id": "spoofed"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if out.ChunkCount != 4 {
		t.Fatalf("chunk count: want=4 got=%d", out.ChunkCount)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected one logical batch, got %d", len(store.upserts))
	}

	records := store.upserts[0]
	if len(records) != 4 {
		t.Fatalf("records: want=4 got=%d", len(records))
	}
	for i, r := range records {
		if r.Metadata[vectorstore.MetaChunkIndex] != i {
			t.Fatalf("record %d chunk_index: got=%v", i, r.Metadata[vectorstore.MetaChunkIndex])
		}
		if r.Metadata[vectorstore.MetaTotalChunks] != 4 {
			t.Fatalf("record %d total_chunks: got=%v", i, r.Metadata[vectorstore.MetaTotalChunks])
		}
		if r.Metadata[vectorstore.MetaDocumentID] != docID.String() {
			t.Fatalf("record %d document_id: got=%v", i, r.Metadata[vectorstore.MetaDocumentID])
		}
		if r.Metadata[vectorstore.MetaUserID] != userID.String() {
			t.Fatalf("reserved user_id must win over caller metadata, got=%v", r.Metadata[vectorstore.MetaUserID])
		}
		if r.Metadata[vectorstore.MetaFilename] != "notes.pdf" {
			t.Fatalf("record %d filename: got=%v", i, r.Metadata[vectorstore.MetaFilename])
		}
		if r.Metadata["collection"] != "research" {
			t.Fatalf("caller metadata dropped: got=%v", r.Metadata["collection"])
		}
	}
}

func TestIngestAssignsFreshIDsAcrossReingestion(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, nil)

	in := IngestInput{
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Filename:   "doc.txt",
		Text:       "Stable content that gets re-ingested.",
	}
	first, err := p.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := p.Ingest(context.Background(), in)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	seen := map[string]struct{}{}
	for _, id := range append(append([]string{}, first.ChunkIDs...), second.ChunkIDs...) {
		if _, dup := seen[id]; dup {
			t.Fatalf("chunk id %s reused across ingestions", id)
		}
		seen[id] = struct{}{}
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("chunk id %s is not a uuid: %v", id, err)
		}
	}
}

func TestIngestSurfacesUpsertFailure(t *testing.T) {
	wantErr := &apperrors.StoreWriteError{Op: "upsert", Err: errors.New("index unavailable")}
	store := &fakeStore{upsertFn: func([]vectorstore.Record) error { return wantErr }}
	p := newTestPipeline(t, store, nil)

	_, err := p.Ingest(context.Background(), IngestInput{
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Filename:   "doc.txt",
		Text:       "some content",
	})
	var writeErr *apperrors.StoreWriteError
	if !errors.As(err, &writeErr) {
		t.Fatalf("want StoreWriteError, got %v", err)
	}
}
