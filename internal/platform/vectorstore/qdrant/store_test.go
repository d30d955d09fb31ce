package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(len(inputs[i])%7) + float32(j)
		}
		out[i] = vec
	}
	return out, nil
}

// fakeQdrant emulates the subset of the HTTP API the store talks to.
type fakeQdrant struct {
	mu     sync.Mutex
	points map[string]map[string]any
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: map[string]map[string]any{}}
}

func envelopeJSON(result any) []byte {
	raw, _ := json.Marshal(map[string]any{"result": result, "status": "ok"})
	return raw
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/collections/testcoll", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(envelopeJSON(map[string]any{
			"config": map[string]any{
				"params": map[string]any{
					"vectors": map[string]any{"size": 8, "distance": "Cosine"},
				},
			},
		}))
	})
	mux.HandleFunc("/collections/testcoll/points", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for _, p := range req.Points {
			f.points[p.ID] = p.Payload
		}
		f.mu.Unlock()
		_, _ = w.Write(envelopeJSON(nil))
	})
	mux.HandleFunc("/collections/testcoll/points/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(envelopeJSON(f.matchAll(nil, 0.75)))
	})
	mux.HandleFunc("/collections/testcoll/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Filter map[string]any `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = w.Write(envelopeJSON(map[string]any{"points": f.matchAll(req.Filter, 1)}))
	})
	mux.HandleFunc("/collections/testcoll/points/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []string `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for _, id := range req.Points {
			delete(f.points, id)
		}
		f.mu.Unlock()
		_, _ = w.Write(envelopeJSON(nil))
	})
	return mux
}

func (f *fakeQdrant) matchAll(filter map[string]any, score float64) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for id, payload := range f.points {
		if !payloadMatches(payload, filter) {
			continue
		}
		out = append(out, map[string]any{"id": id, "score": score, "payload": payload})
	}
	return out
}

func payloadMatches(payload, filter map[string]any) bool {
	if filter == nil {
		return true
	}
	must, _ := filter["must"].([]any)
	for _, cond := range must {
		c, _ := cond.(map[string]any)
		key, _ := c["key"].(string)
		match, _ := c["match"].(map[string]any)
		if payload[key] != match["value"] {
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T) (vectorstore.Store, *fakeQdrant) {
	t.Helper()
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store, err := NewStore(log, Config{
		URL:        srv.URL,
		Collection: "testcoll",
		VectorDim:  8,
	}, fixedEmbedder{dim: 8})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, fake
}

func TestStoreRoundTripThroughHTTPAPI(t *testing.T) {
	store, fake := newTestStore(t)

	err := store.Upsert(context.Background(), []vectorstore.Record{
		{ID: "chunk-1", Content: "first chunk", Metadata: map[string]any{"document_id": "d1"}},
		{ID: "chunk-2", Content: "second chunk", Metadata: map[string]any{"document_id": "d2"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(fake.points) != 2 {
		t.Fatalf("stored points: want=2 got=%d", len(fake.points))
	}

	matches, err := store.Search(context.Background(), "chunk", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: want=2 got=%d", len(matches))
	}
	byID := map[string]vectorstore.Match{}
	for _, m := range matches {
		byID[m.ID] = m
	}
	got, ok := byID["chunk-1"]
	if !ok {
		t.Fatalf("record id lost in round trip: %+v", matches)
	}
	if got.Content != "first chunk" {
		t.Fatalf("content: got=%q", got.Content)
	}
	if got.Metadata["document_id"] != "d1" {
		t.Fatalf("metadata: got=%v", got.Metadata)
	}
	// Bookkeeping payload keys never surface as metadata.
	if _, leaked := got.Metadata[payloadContentKey]; leaked {
		t.Fatalf("content payload key leaked into metadata")
	}
	if got.Score < 0 || got.Score > 1 {
		t.Fatalf("score out of range: %v", got.Score)
	}

	if err := store.Delete(context.Background(), []string{"chunk-1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(fake.points) != 1 {
		t.Fatalf("points after delete: want=1 got=%d", len(fake.points))
	}
}

func TestFilterOnlySearchUsesScroll(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Upsert(context.Background(), []vectorstore.Record{
		{ID: "a", Content: "alpha", Metadata: map[string]any{"document_id": "d1"}},
		{ID: "b", Content: "beta", Metadata: map[string]any{"document_id": "d2"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := store.Search(context.Background(), "", 10, map[string]any{"document_id": "d1"})
	if err != nil {
		t.Fatalf("filter-only Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("scroll filter: %+v", matches)
	}
	if matches[0].Score != 1 {
		t.Fatalf("scroll score: want=1 got=%v", matches[0].Score)
	}
}

func TestPointIDIsDeterministic(t *testing.T) {
	a := pointID("record-1")
	b := pointID("record-1")
	c := pointID("record-2")
	if a != b {
		t.Fatalf("same record id produced different points: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("distinct record ids collided")
	}
}

func TestTranslateFilterBuildsConjunction(t *testing.T) {
	if translateFilter(nil) != nil {
		t.Fatalf("nil filter must translate to nil")
	}
	out := translateFilter(map[string]any{"user_id": "u1", "document_id": "d1"})
	must, ok := out["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("must conditions: %+v", out)
	}
}

func TestNormalizeScoreByDistanceMetric(t *testing.T) {
	cosineStore := &Store{distance: "Cosine"}
	if got := cosineStore.normalizeScore(1.5); got != 1 {
		t.Fatalf("cosine clamp high: got=%v", got)
	}
	if got := cosineStore.normalizeScore(-0.2); got != 0 {
		t.Fatalf("cosine clamp low: got=%v", got)
	}

	euclidStore := &Store{distance: "Euclid"}
	if got := euclidStore.normalizeScore(0); got != 1 {
		t.Fatalf("euclid zero distance: got=%v", got)
	}
	near := euclidStore.normalizeScore(1)
	far := euclidStore.normalizeScore(9)
	if near <= far {
		t.Fatalf("closer points must score higher: near=%v far=%v", near, far)
	}
	if far < 0 || near > 1 {
		t.Fatalf("scores out of range: near=%v far=%v", near, far)
	}
}

func TestParseEnvelopeStatus(t *testing.T) {
	if got := parseEnvelopeStatus(json.RawMessage(`"ok"`)); got != "" {
		t.Fatalf("ok status: got=%q", got)
	}
	if got := parseEnvelopeStatus(nil); got != "" {
		t.Fatalf("empty status: got=%q", got)
	}
	if got := parseEnvelopeStatus(json.RawMessage(`{"error":"collection not found"}`)); got != "collection not found" {
		t.Fatalf("error status: got=%q", got)
	}
}
