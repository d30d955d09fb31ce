package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/docstack/docstack-backend/internal/data/repos/documents"
	types "github.com/docstack/docstack-backend/internal/domain"
	"github.com/docstack/docstack-backend/internal/jobs/ingest"
	"github.com/docstack/docstack-backend/internal/pkg/dbctx"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/pkg/requestdata"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/retrieval"
)

type DocumentHandler struct {
	log     *logger.Logger
	docs    documents.DocumentRepo
	worker  *ingest.Worker
	deleter *retrieval.Deleter
}

func NewDocumentHandler(log *logger.Logger, docs documents.DocumentRepo, worker *ingest.Worker, deleter *retrieval.Deleter) *DocumentHandler {
	return &DocumentHandler{
		log:     log.With("handler", "DocumentHandler"),
		docs:    docs,
		worker:  worker,
		deleter: deleter,
	}
}

type createDocumentRequest struct {
	Filename string         `json:"filename" binding:"required"`
	Text     string         `json:"text" binding:"required"`
	MimeType string         `json:"mime_type"`
	Metadata map[string]any `json:"metadata"`
}

// POST /api/documents
// Registers an extracted document and queues it for chunking + embedding.
func (h *DocumentHandler) Create(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	metaJSON := []byte("{}")
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_argument", err)
			return
		}
		metaJSON = raw
	}

	doc := &types.Document{
		UserID:           rd.UserID,
		Filename:         strings.TrimSpace(req.Filename),
		SizeB:            int64(len(req.Text)),
		MimeType:         req.MimeType,
		ProcessingStatus: types.DocumentStatusPending,
		Metadata:         datatypes.JSON(metaJSON),
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if _, err := h.docs.Create(dbc, []*types.Document{doc}); err != nil {
		RespondAppError(c, err)
		return
	}

	if err := h.worker.Enqueue(c.Request.Context(), ingest.Task{
		DocumentID: doc.ID,
		UserID:     rd.UserID,
		Filename:   doc.Filename,
		Text:       req.Text,
		Metadata:   req.Metadata,
	}); err != nil {
		RespondError(c, http.StatusServiceUnavailable, "queue_full", err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

type reingestRequest struct {
	Text     string         `json:"text" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// POST /api/documents/:id/ingest
// Re-runs the pipeline with fresh text; superseded chunks are replaced.
func (h *DocumentHandler) Reingest(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	doc, err := h.ownedDocument(c, rd.UserID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	var req reingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	if err := h.worker.Enqueue(c.Request.Context(), ingest.Task{
		DocumentID: doc.ID,
		UserID:     rd.UserID,
		Filename:   doc.Filename,
		Text:       req.Text,
		Metadata:   req.Metadata,
	}); err != nil {
		RespondError(c, http.StatusServiceUnavailable, "queue_full", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"document_id": doc.ID, "status": types.DocumentStatusPending})
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	docs, err := h.docs.ListByUser(dbc, rd.UserID, 0)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"documents": docs})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	doc, err := h.ownedDocument(c, rd.UserID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, doc)
}

// DELETE /api/documents/:id
// Removes the record, then clears its vectors in the background. Vector
// cleanup failures never block the delete.
func (h *DocumentHandler) Delete(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	doc, err := h.ownedDocument(c, rd.UserID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.docs.SoftDelete(dbc, doc.ID); err != nil {
		RespondAppError(c, err)
		return
	}

	go func(documentID uuid.UUID) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.deleter.DeleteDocumentVectors(ctx, documentID)
	}(doc.ID)

	RespondOK(c, gin.H{"deleted": doc.ID})
}

func (h *DocumentHandler) ownedDocument(c *gin.Context, userID uuid.UUID) (*types.Document, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, fmt.Errorf("invalid document id: %w", apperrors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	doc, err := h.docs.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return doc, nil
}
