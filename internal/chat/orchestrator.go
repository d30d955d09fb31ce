package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	chatrepo "github.com/docstack/docstack-backend/internal/data/repos/chat"
	types "github.com/docstack/docstack-backend/internal/domain"
	"github.com/docstack/docstack-backend/internal/pkg/dbctx"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/realtime"
	"github.com/docstack/docstack-backend/internal/realtime/bus"
	"github.com/docstack/docstack-backend/internal/retrieval"
)

const (
	DefaultTopK = 5
	MaxTopK     = 20

	// DisplaySourceLimit caps how many sources surface in the response;
	// the full hit set still persists on the assistant message.
	DisplaySourceLimit = 3

	titleRuneLimit = 80
)

// Retriever is the slice of the retrieval service the orchestrator consumes.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]types.Source, error)
}

// Generator produces a grounded answer from the query and context passages.
type Generator interface {
	Generate(ctx context.Context, query string, passages []string) (string, error)
}

type SendMessageInput struct {
	ChatID  *uuid.UUID
	UserID  uuid.UUID
	Message string
	TopK    int
}

type SendMessageOutput struct {
	Thread           *types.ChatThread
	UserMessage      *types.ChatMessage
	AssistantMessage *types.ChatMessage
	// Sources holds the display subset, highest scores first.
	Sources []types.Source
}

// threadLocks serializes turns per thread with a fixed stripe set; two
// threads sharing a stripe contend, which is harmless.
type threadLocks struct {
	stripes [64]sync.Mutex
}

func (l *threadLocks) forThread(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(id[:])
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// Orchestrator runs one chat turn end to end: persist the user message,
// retrieve context, generate the answer, persist the assistant message.
// A turn either commits both messages or neither.
type Orchestrator struct {
	log       *logger.Logger
	threads   chatrepo.ChatThreadRepo
	messages  chatrepo.ChatMessageRepo
	retriever Retriever
	generator Generator
	notify    bus.Bus

	locks threadLocks
}

func NewOrchestrator(
	log *logger.Logger,
	threads chatrepo.ChatThreadRepo,
	messages chatrepo.ChatMessageRepo,
	retriever Retriever,
	generator Generator,
	notify bus.Bus,
) (*Orchestrator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if threads == nil || messages == nil {
		return nil, fmt.Errorf("chat repos required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator required")
	}
	if notify == nil {
		notify = bus.NewNoopBus()
	}
	return &Orchestrator{
		log:       log.With("service", "ChatOrchestrator"),
		threads:   threads,
		messages:  messages,
		retriever: retriever,
		generator: generator,
		notify:    notify,
	}, nil
}

func (o *Orchestrator) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, fmt.Errorf("send message: empty message: %w", apperrors.ErrInvalidArgument)
	}
	if in.UserID == uuid.Nil {
		return nil, fmt.Errorf("send message: missing user_id: %w", apperrors.ErrInvalidArgument)
	}
	topK := in.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	dbc := dbctx.Context{Ctx: ctx}

	thread, err := o.resolveThread(dbc, in.ChatID, in.UserID, message)
	if err != nil {
		return nil, err
	}

	lock := o.locks.forThread(thread.ID)
	lock.Lock()
	defer lock.Unlock()

	maxSeq, err := o.messages.GetMaxSeq(dbc, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("send message: sequence lookup: %w", err)
	}

	userMsg := &types.ChatMessage{
		ThreadID: thread.ID,
		UserID:   in.UserID,
		Seq:      maxSeq + 1,
		Role:     types.MessageRoleUser,
		Content:  message,
	}
	if _, err := o.messages.Create(dbc, []*types.ChatMessage{userMsg}); err != nil {
		return nil, fmt.Errorf("send message: persist user message: %w", err)
	}

	sources, err := o.retriever.Retrieve(ctx, retrieval.Query{
		Text:   message,
		UserID: in.UserID,
		TopK:   topK,
	})
	if err != nil {
		o.rollback(ctx, thread.ID, userMsg.ID)
		return nil, fmt.Errorf("send message: retrieval: %w", err)
	}

	passages := make([]string, 0, len(sources))
	for _, src := range sources {
		passages = append(passages, src.Content)
	}

	answer, err := o.generator.Generate(ctx, message, passages)
	if err != nil {
		o.rollback(ctx, thread.ID, userMsg.ID)
		return nil, fmt.Errorf("send message: %w", err)
	}

	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		o.rollback(ctx, thread.ID, userMsg.ID)
		return nil, fmt.Errorf("send message: encode sources: %w", err)
	}

	assistantMsg := &types.ChatMessage{
		ThreadID: thread.ID,
		UserID:   in.UserID,
		Seq:      userMsg.Seq + 1,
		Role:     types.MessageRoleAssistant,
		Content:  answer,
		Sources:  datatypes.JSON(sourcesJSON),
	}
	if _, err := o.messages.Create(dbc, []*types.ChatMessage{assistantMsg}); err != nil {
		o.rollback(ctx, thread.ID, userMsg.ID)
		return nil, fmt.Errorf("send message: persist assistant message: %w", err)
	}

	if err := o.threads.UpdateFields(dbc, thread.ID, map[string]interface{}{
		"last_message_at": time.Now().UTC(),
	}); err != nil {
		o.log.Warn("thread timestamp update failed",
			"thread_id", thread.ID.String(),
			"error", err,
		)
	}

	o.publish(thread.ID, in.UserID, len(sources))

	display := sources
	if len(display) > DisplaySourceLimit {
		display = display[:DisplaySourceLimit]
	}
	return &SendMessageOutput{
		Thread:           thread,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Sources:          display,
	}, nil
}

func (o *Orchestrator) resolveThread(dbc dbctx.Context, chatID *uuid.UUID, userID uuid.UUID, message string) (*types.ChatThread, error) {
	if chatID != nil && *chatID != uuid.Nil {
		thread, err := o.threads.GetByID(dbc, *chatID)
		if err != nil {
			return nil, fmt.Errorf("send message: thread lookup: %w", err)
		}
		// Foreign threads read as missing; existence is not disclosed.
		if thread.UserID != userID {
			return nil, fmt.Errorf("send message: thread lookup: %w", apperrors.ErrNotFound)
		}
		return thread, nil
	}

	thread := &types.ChatThread{
		UserID:        userID,
		Title:         titleFromMessage(message),
		LastMessageAt: time.Now().UTC(),
	}
	if _, err := o.threads.Create(dbc, []*types.ChatThread{thread}); err != nil {
		return nil, fmt.Errorf("send message: create thread: %w", err)
	}
	return thread, nil
}

// rollback removes the orphaned user message so a failed turn leaves the
// thread exactly as it was. The detached context lets this run even when
// the caller already gave up.
func (o *Orchestrator) rollback(ctx context.Context, threadID, messageID uuid.UUID) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	dbc := dbctx.Context{Ctx: detached}
	if err := o.messages.HardDeleteByIDs(dbc, []uuid.UUID{messageID}); err != nil {
		o.log.Error("user message rollback failed; thread has a dangling turn",
			"thread_id", threadID.String(),
			"message_id", messageID.String(),
			"error", err,
		)
		return
	}
	o.log.Info("rolled back user message after failed turn",
		"thread_id", threadID.String(),
		"message_id", messageID.String(),
	)
}

func (o *Orchestrator) publish(threadID, userID uuid.UUID, sourcesCount int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := o.notify.Publish(ctx, realtime.Event{
			Type:   realtime.EventChatMessage,
			UserID: userID,
			Payload: map[string]any{
				"chat_id":       threadID.String(),
				"sources_count": sourcesCount,
			},
		})
		if err != nil {
			o.log.Warn("chat event publish failed",
				"thread_id", threadID.String(),
				"error", err,
			)
		}
	}()
}

func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	runes := []rune(title)
	if len(runes) > titleRuneLimit {
		title = strings.TrimSpace(string(runes[:titleRuneLimit])) + "…"
	}
	if title == "" {
		title = "New Chat"
	}
	return title
}
