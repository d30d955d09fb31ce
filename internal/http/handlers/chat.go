package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docstack/docstack-backend/internal/chat"
	chatrepo "github.com/docstack/docstack-backend/internal/data/repos/chat"
	types "github.com/docstack/docstack-backend/internal/domain"
	"github.com/docstack/docstack-backend/internal/pkg/dbctx"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/pkg/requestdata"
	"github.com/docstack/docstack-backend/internal/platform/logger"
)

type ChatHandler struct {
	log          *logger.Logger
	orchestrator *chat.Orchestrator
	threads      chatrepo.ChatThreadRepo
	messages     chatrepo.ChatMessageRepo
}

func NewChatHandler(log *logger.Logger, orchestrator *chat.Orchestrator, threads chatrepo.ChatThreadRepo, messages chatrepo.ChatMessageRepo) *ChatHandler {
	return &ChatHandler{
		log:          log.With("handler", "ChatHandler"),
		orchestrator: orchestrator,
		threads:      threads,
		messages:     messages,
	}
}

type sendMessageRequest struct {
	ChatID  *uuid.UUID `json:"chat_id"`
	Message string     `json:"message" binding:"required"`
	TopK    int        `json:"top_k"`
}

type sendMessageResponse struct {
	ChatID           uuid.UUID          `json:"chat_id"`
	Title            string             `json:"title"`
	UserMessage      *types.ChatMessage `json:"user_message"`
	AssistantMessage *types.ChatMessage `json:"assistant_message"`
	Sources          []searchHit        `json:"sources"`
}

// POST /api/chats/messages
// One full turn: question in, cited answer out. Omitting chat_id starts
// a new thread.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
		return
	}

	out, err := h.orchestrator.SendMessage(c.Request.Context(), chat.SendMessageInput{
		ChatID:  req.ChatID,
		UserID:  rd.UserID,
		Message: req.Message,
		TopK:    req.TopK,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, sendMessageResponse{
		ChatID:           out.Thread.ID,
		Title:            out.Thread.Title,
		UserMessage:      out.UserMessage,
		AssistantMessage: out.AssistantMessage,
		Sources:          toSearchHits(out.Sources),
	})
}

// GET /api/chats
func (h *ChatHandler) ListThreads(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	threads, err := h.threads.ListByUser(dbc, rd.UserID, 0)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"chats": threads})
}

// GET /api/chats/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	thread, err := h.ownedThread(c, rd.UserID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	messages, err := h.messages.ListByThread(dbc, thread.ID, 0)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"chat": thread, "messages": messages})
}

// DELETE /api/chats/:id
func (h *ChatHandler) DeleteThread(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondAppError(c, apperrors.ErrUnauthorized)
		return
	}
	thread, err := h.ownedThread(c, rd.UserID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	if err := h.threads.SoftDelete(dbc, thread.ID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": thread.ID})
}

func (h *ChatHandler) ownedThread(c *gin.Context, userID uuid.UUID) (*types.ChatThread, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, apperrors.ErrInvalidArgument
	}
	dbc := dbctx.Context{Ctx: c.Request.Context()}
	thread, err := h.threads.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if thread.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return thread, nil
}
