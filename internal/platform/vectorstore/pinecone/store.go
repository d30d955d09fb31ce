package pinecone

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

// contentKey carries the chunk text inside vector metadata so search results
// can surface it without a secondary lookup.
const contentKey = "_ds_content"

type store struct {
	log       *logger.Logger
	pc        Client
	embedder  vectorstore.Embedder
	indexName string
	indexHost string
	namespace string
	dimension int
}

// NewStore resolves the index host and dimension up front; the dimension is
// needed to build the zero vector used for filter-only scans.
func NewStore(log *logger.Logger, pc Client, embedder vectorstore.Embedder) (vectorstore.Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	desc, err := pc.DescribeIndex(context.Background(), indexName)
	if err != nil {
		return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
	}
	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))
	if host == "" {
		host = strings.TrimSpace(desc.Host)
	}
	if host == "" {
		return nil, fmt.Errorf("pinecone describe_index returned empty host")
	}

	namespace := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE"))
	if namespace == "" {
		namespace = "docstack"
	}

	s := &store{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		embedder:  embedder,
		indexName: indexName,
		indexHost: host,
		namespace: namespace,
		dimension: desc.Dimension,
	}
	log.Info("Pinecone vector store selected",
		"provider", "pinecone",
		"index_name", indexName,
		"namespace", namespace,
		"dimension", desc.Dimension,
	)
	return s, nil
}

func (s *store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Content)
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return &apperrors.StoreWriteError{Op: "upsert", Err: err}
	}

	vectors := make([]Vector, 0, len(records))
	for i, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return &apperrors.StoreWriteError{Op: "upsert", Err: fmt.Errorf("record %d has empty id", i)}
		}
		metadata := make(map[string]any, len(r.Metadata)+1)
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		metadata[contentKey] = r.Content
		vectors = append(vectors, Vector{ID: id, Values: embeddings[i], Metadata: metadata})
	}

	if err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
		Namespace: s.namespace,
		Vectors:   vectors,
	}); err != nil {
		return &apperrors.StoreWriteError{Op: "upsert", Err: err}
	}
	return nil
}

func (s *store) Search(ctx context.Context, query string, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return []vectorstore.Match{}, nil
	}

	var qVec []float32
	query = strings.TrimSpace(query)
	if query == "" {
		// Filter-only scan: Pinecone has no metadata-only query, so probe with
		// a zero vector and let the filter do the work. Scores are meaningless
		// in this mode and callers only use the IDs/metadata.
		if s.dimension <= 0 {
			return nil, &apperrors.StoreReadError{Op: "search", Err: &apperrors.FilterOnlyUnsupportedError{Provider: "pinecone"}}
		}
		qVec = make([]float32, s.dimension)
	} else {
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, &apperrors.StoreReadError{Op: "search", Err: err}
		}
		qVec = vecs[0]
	}

	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       s.namespace,
		Vector:          qVec,
		TopK:            topK,
		Filter:          translateFilter(filter),
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, &apperrors.StoreReadError{Op: "search", Err: err}
	}

	out := make([]vectorstore.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if strings.TrimSpace(m.ID) == "" {
			continue
		}
		content, _ := m.Metadata[contentKey].(string)
		metadata := make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			if k == contentKey {
				continue
			}
			metadata[k] = v
		}
		out = append(out, vectorstore.Match{
			ID:       m.ID,
			Content:  content,
			Score:    normalizeScore(m.Score),
			Metadata: metadata,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *store) Delete(ctx context.Context, ids []string) error {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	if err := s.pc.DeleteVectors(ctx, s.indexHost, DeleteRequest{
		Namespace: s.namespace,
		IDs:       cleaned,
	}); err != nil {
		return &apperrors.StoreWriteError{Op: "delete", Err: err}
	}
	return nil
}

// translateFilter maps equality filters onto Pinecone's $eq syntax.
func translateFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

// normalizeScore clamps cosine similarity onto [0,1]. Pinecone cosine scores
// range over [-1,1] depending on index metric.
func normalizeScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
