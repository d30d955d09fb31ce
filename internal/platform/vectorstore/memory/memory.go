package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type entry struct {
	record vectorstore.Record
	vector []float32
}

// Store is an in-process vector store used for local development and tests.
// Similarity is cosine over embeddings from the injected embedder; an empty
// query runs a pure metadata scan.
type Store struct {
	log      *logger.Logger
	embedder vectorstore.Embedder

	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewStore(log *logger.Logger, embedder vectorstore.Embedder) *Store {
	return &Store{
		log:      log.With("service", "MemoryVectorStore"),
		embedder: embedder,
		entries:  map[string]entry{},
	}
}

func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		texts = append(texts, r.Content)
	}
	var vectors [][]float32
	if s.embedder != nil {
		var err error
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return &apperrors.StoreWriteError{Op: "upsert", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		e := entry{record: r}
		if vectors != nil {
			e.vector = vectors[i]
		}
		if _, exists := s.entries[id]; !exists {
			s.order = append(s.order, id)
		}
		s.entries[id] = e
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query string, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	if topK <= 0 {
		return []vectorstore.Match{}, nil
	}

	query = strings.TrimSpace(query)
	var qVec []float32
	if query != "" {
		if s.embedder == nil {
			return nil, &apperrors.StoreReadError{Op: "search", Err: errors.New("no embedder configured")}
		}
		vecs, err := s.embedder.Embed(ctx, []string{query})
		if err != nil {
			return nil, &apperrors.StoreReadError{Op: "search", Err: err}
		}
		qVec = vecs[0]
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vectorstore.Match, 0, topK)
	for _, id := range s.order {
		e := s.entries[id]
		if !matchesFilter(e.record.Metadata, filter) {
			continue
		}
		m := vectorstore.Match{
			ID:       e.record.ID,
			Content:  e.record.Content,
			Metadata: e.record.Metadata,
			Score:    1,
		}
		if qVec != nil {
			m.Score = normalizeCosine(cosine(qVec, e.vector))
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		drop[id] = struct{}{}
		delete(s.entries, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares scalars across the numeric widenings JSON round-trips
// introduce.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as == bs
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalizeCosine maps [-1,1] similarity onto the [0,1] score contract.
func normalizeCosine(sim float64) float64 {
	score := (sim + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
