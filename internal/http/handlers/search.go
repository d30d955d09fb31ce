package handlers

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/docstack/docstack-backend/internal/domain"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/pkg/requestdata"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/retrieval"
)

type SearchHandler struct {
	log       *logger.Logger
	retriever *retrieval.Service
}

func NewSearchHandler(log *logger.Logger, retriever *retrieval.Service) *SearchHandler {
	return &SearchHandler{
		log:       log.With("handler", "SearchHandler"),
		retriever: retriever,
	}
}

type searchRequest struct {
	Query  string         `json:"query"`
	TopK   int            `json:"top_k"`
	Filter map[string]any `json:"filter"`
}

type searchHit struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// POST /api/search
// Direct retrieval without the chat wrapper. Scores come back rounded
// to two decimals for display; ranking uses the raw values.
func (h *SearchHandler) Search(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	sources, err := h.retriever.Retrieve(c.Request.Context(), retrieval.Query{
		Text:   req.Query,
		UserID: rd.UserID,
		TopK:   req.TopK,
		Filter: req.Filter,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": toSearchHits(sources)})
}

func toSearchHits(sources []types.Source) []searchHit {
	out := make([]searchHit, 0, len(sources))
	for _, src := range sources {
		out = append(out, searchHit{
			ChunkID:    src.ChunkID,
			DocumentID: src.DocumentID,
			Filename:   src.Filename,
			Content:    src.Content,
			Score:      roundScore(src.Score),
			Metadata:   src.Metadata,
		})
	}
	return out
}

func roundScore(score float64) float64 {
	return math.Round(score*100) / 100
}
