package pinecone

import (
	"context"
	"testing"

	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = make([]float32, 4)
		out[i][i%4] = 1
	}
	return out, nil
}

type fakeClient struct {
	describe IndexDescription

	upserts []UpsertRequest
	queries []QueryRequest
	deletes []DeleteRequest

	queryResp *QueryResponse
}

func (f *fakeClient) DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error) {
	d := f.describe
	return &d, nil
}

func (f *fakeClient) UpsertVectors(ctx context.Context, host string, req UpsertRequest) error {
	f.upserts = append(f.upserts, req)
	return nil
}

func (f *fakeClient) Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error) {
	f.queries = append(f.queries, req)
	if f.queryResp != nil {
		return f.queryResp, nil
	}
	return &QueryResponse{}, nil
}

func (f *fakeClient) DeleteVectors(ctx context.Context, host string, req DeleteRequest) error {
	f.deletes = append(f.deletes, req)
	return nil
}

func newFakeStore(t *testing.T) (vectorstore.Store, *fakeClient) {
	t.Helper()
	t.Setenv("PINECONE_INDEX_NAME", "docstack-test")
	t.Setenv("PINECONE_INDEX_HOST", "")
	t.Setenv("PINECONE_NAMESPACE", "")

	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	fc := &fakeClient{describe: IndexDescription{
		Name:      "docstack-test",
		Host:      "docstack-test.svc.pinecone.io",
		Dimension: 4,
		Metric:    "cosine",
	}}
	s, err := NewStore(log, fc, fakeEmbedder{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, fc
}

func TestUpsertCarriesContentInMetadata(t *testing.T) {
	s, fc := newFakeStore(t)

	err := s.Upsert(context.Background(), []vectorstore.Record{
		{ID: "c1", Content: "chunk text", Metadata: map[string]any{"document_id": "d1"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(fc.upserts) != 1 || len(fc.upserts[0].Vectors) != 1 {
		t.Fatalf("upserts: %+v", fc.upserts)
	}
	vec := fc.upserts[0].Vectors[0]
	if vec.Metadata[contentKey] != "chunk text" {
		t.Fatalf("content not embedded in metadata: %+v", vec.Metadata)
	}
	if vec.Metadata["document_id"] != "d1" {
		t.Fatalf("caller metadata dropped: %+v", vec.Metadata)
	}
}

func TestFilterOnlySearchProbesWithZeroVector(t *testing.T) {
	s, fc := newFakeStore(t)
	fc.queryResp = &QueryResponse{Matches: []QueryMatch{
		{ID: "c1", Score: 0.1, Metadata: map[string]any{contentKey: "text", "document_id": "d1"}},
	}}

	matches, err := s.Search(context.Background(), "  ", 10, map[string]any{"document_id": "d1"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(fc.queries) != 1 {
		t.Fatalf("queries: %d", len(fc.queries))
	}
	for _, v := range fc.queries[0].Vector {
		if v != 0 {
			t.Fatalf("expected zero probe vector, got %v", fc.queries[0].Vector)
		}
	}
	eq, _ := fc.queries[0].Filter["document_id"].(map[string]any)
	if eq["$eq"] != "d1" {
		t.Fatalf("filter translation: %+v", fc.queries[0].Filter)
	}
	if len(matches) != 1 || matches[0].Content != "text" {
		t.Fatalf("matches: %+v", matches)
	}
	if _, leaked := matches[0].Metadata[contentKey]; leaked {
		t.Fatalf("content key leaked into metadata")
	}
}

func TestSearchClampsScores(t *testing.T) {
	s, fc := newFakeStore(t)
	fc.queryResp = &QueryResponse{Matches: []QueryMatch{
		{ID: "hi", Score: 1.7, Metadata: map[string]any{contentKey: "a"}},
		{ID: "lo", Score: -0.4, Metadata: map[string]any{contentKey: "b"}},
	}}

	matches, err := s.Search(context.Background(), "query", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: %d", len(matches))
	}
	if matches[0].Score != 1 || matches[1].Score != 0 {
		t.Fatalf("clamping: %v %v", matches[0].Score, matches[1].Score)
	}
}

func TestDeleteSkipsBlankIDs(t *testing.T) {
	s, fc := newFakeStore(t)

	if err := s.Delete(context.Background(), []string{" ", ""}); err != nil {
		t.Fatalf("Delete blanks: %v", err)
	}
	if len(fc.deletes) != 0 {
		t.Fatalf("blank-only delete must be a no-op")
	}

	if err := s.Delete(context.Background(), []string{"c1", " c2 "}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fc.deletes) != 1 || len(fc.deletes[0].IDs) != 2 {
		t.Fatalf("deletes: %+v", fc.deletes)
	}
}
