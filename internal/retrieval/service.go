package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/docstack/docstack-backend/internal/domain"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

type Query struct {
	Text   string
	UserID uuid.UUID
	TopK   int
	// Filter narrows results by chunk metadata. A user_id key in here is
	// always overwritten by the authenticated user; callers cannot widen
	// their scope.
	Filter map[string]any
}

// Service runs semantic queries against the vector store under a mandatory
// per-user filter. No caching: every call re-queries the adapter.
type Service struct {
	log   *logger.Logger
	store vectorstore.Store
}

func NewService(log *logger.Logger, store vectorstore.Store) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	return &Service{
		log:   log.With("service", "RetrievalService"),
		store: store,
	}, nil
}

// Retrieve returns up to TopK sources ordered by descending relevance.
// Empty query text runs a metadata-only scan when the backend supports it.
func (s *Service) Retrieve(ctx context.Context, q Query) ([]domain.Source, error) {
	if q.UserID == uuid.Nil {
		return nil, fmt.Errorf("retrieve: missing user_id: %w", apperrors.ErrInvalidArgument)
	}
	if q.TopK <= 0 {
		return nil, fmt.Errorf("retrieve: top_k must be positive, got %d: %w", q.TopK, apperrors.ErrInvalidArgument)
	}

	filter := make(map[string]any, len(q.Filter)+1)
	for k, v := range q.Filter {
		filter[k] = v
	}
	filter[vectorstore.MetaUserID] = q.UserID.String()

	matches, err := s.store.Search(ctx, q.Text, q.TopK, filter)
	if err != nil {
		return nil, err
	}
	return toSources(matches), nil
}

// enumerate runs an unscoped filter-only scan. It exists for cascade
// deletion, which works on document identity alone and must see chunks
// regardless of the owner filter.
func (s *Service) enumerate(ctx context.Context, filter map[string]any, limit int) ([]vectorstore.Match, error) {
	return s.store.Search(ctx, "", limit, filter)
}

func (s *Service) deleteIDs(ctx context.Context, ids []string) error {
	return s.store.Delete(ctx, ids)
}

func toSources(matches []vectorstore.Match) []domain.Source {
	out := make([]domain.Source, 0, len(matches))
	for _, m := range matches {
		src := domain.Source{
			ChunkID:  m.ID,
			Content:  m.Content,
			Score:    clampScore(m.Score),
			Metadata: m.Metadata,
		}
		if raw, ok := m.Metadata[vectorstore.MetaDocumentID].(string); ok {
			if docID, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
				src.DocumentID = docID
			}
		}
		if name, ok := m.Metadata[vectorstore.MetaFilename].(string); ok {
			src.Filename = name
		}
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
