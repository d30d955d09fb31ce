package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docstack/docstack-backend/internal/data/repos/documents"
	types "github.com/docstack/docstack-backend/internal/domain"
	"github.com/docstack/docstack-backend/internal/ingestion/pipeline"
	"github.com/docstack/docstack-backend/internal/pkg/dbctx"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/realtime"
	"github.com/docstack/docstack-backend/internal/realtime/bus"
	"github.com/docstack/docstack-backend/internal/retrieval"
)

const (
	DefaultQueueSize   = 64
	DefaultConcurrency = 2
)

// Task carries one extracted document into the pipeline. Text is the
// plain text produced by the upload collaborator; extraction itself
// happens upstream.
type Task struct {
	DocumentID uuid.UUID
	UserID     uuid.UUID
	Filename   string
	Text       string
	Metadata   map[string]any
}

// Worker owns document status transitions around pipeline runs. Nothing
// else writes processing_status once a document is enqueued.
type Worker struct {
	log     *logger.Logger
	docs    documents.DocumentRepo
	pipe    *pipeline.Pipeline
	deleter *retrieval.Deleter
	notify  bus.Bus

	tasks       chan Task
	concurrency int
	eg          errgroup.Group
}

func NewWorker(
	log *logger.Logger,
	docs documents.DocumentRepo,
	pipe *pipeline.Pipeline,
	deleter *retrieval.Deleter,
	notify bus.Bus,
	queueSize int,
	concurrency int,
) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if docs == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if pipe == nil {
		return nil, fmt.Errorf("ingestion pipeline required")
	}
	if deleter == nil {
		return nil, fmt.Errorf("cascade deleter required")
	}
	if notify == nil {
		notify = bus.NewNoopBus()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Worker{
		log:         log.With("component", "IngestWorker"),
		docs:        docs,
		pipe:        pipe,
		deleter:     deleter,
		notify:      notify,
		tasks:       make(chan Task, queueSize),
		concurrency: concurrency,
	}, nil
}

func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case task, ok := <-w.tasks:
					if !ok {
						return nil
					}
					w.runTask(ctx, task)
				}
			}
		})
	}
}

// Stop closes the queue and waits for in-flight tasks to drain.
func (w *Worker) Stop() {
	close(w.tasks)
	_ = w.eg.Wait()
}

// Enqueue hands a task to the worker pool, failing fast when the queue
// is full so the HTTP layer can return backpressure instead of blocking.
func (w *Worker) Enqueue(ctx context.Context, task Task) error {
	if task.DocumentID == uuid.Nil || task.UserID == uuid.Nil {
		return fmt.Errorf("enqueue ingest: missing ids: %w", apperrors.ErrInvalidArgument)
	}
	select {
	case w.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("ingest queue full")
	}
}

func (w *Worker) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("ingest task panic",
				"document_id", task.DocumentID.String(),
				"panic", r,
			)
			w.markFailed(ctx, task, fmt.Sprintf("panic: %v", r))
		}
	}()

	dbc := dbctx.Context{Ctx: ctx}
	if err := w.docs.UpdateFields(dbc, task.DocumentID, map[string]interface{}{
		"processing_status": types.DocumentStatusProcessing,
		"processing_error":  "",
	}); err != nil {
		w.log.Warn("status transition to processing failed",
			"document_id", task.DocumentID.String(),
			"error", err,
		)
	}

	// Re-ingestion: capture the superseded chunks before the new batch
	// lands. Deleting by document id afterwards would take the new
	// chunks with it.
	stale := w.deleter.SnapshotChunkIDs(ctx, task.DocumentID)

	out, err := w.pipe.Ingest(ctx, pipeline.IngestInput{
		DocumentID: task.DocumentID,
		UserID:     task.UserID,
		Filename:   task.Filename,
		Text:       task.Text,
		Metadata:   task.Metadata,
	})
	if err != nil {
		w.markFailed(ctx, task, failureMessage(err))
		return
	}

	w.deleter.DeleteChunkIDs(ctx, stale)

	if err := w.docs.UpdateFields(dbc, task.DocumentID, map[string]interface{}{
		"processing_status": types.DocumentStatusCompleted,
		"chunk_count":       out.ChunkCount,
	}); err != nil {
		w.log.Error("status transition to completed failed",
			"document_id", task.DocumentID.String(),
			"error", err,
		)
		return
	}

	w.log.Info("document ingested",
		"document_id", task.DocumentID.String(),
		"chunks", out.ChunkCount,
	)
	w.publish(task, realtime.EventDocumentProcessed, map[string]any{
		"document_id": task.DocumentID.String(),
		"chunk_count": out.ChunkCount,
	})
}

func (w *Worker) markFailed(ctx context.Context, task Task, reason string) {
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	if err := w.docs.UpdateFields(dbc, task.DocumentID, map[string]interface{}{
		"processing_status": types.DocumentStatusFailed,
		"processing_error":  reason,
	}); err != nil {
		w.log.Error("status transition to failed failed",
			"document_id", task.DocumentID.String(),
			"error", err,
		)
	}
	w.publish(task, realtime.EventDocumentFailed, map[string]any{
		"document_id": task.DocumentID.String(),
		"error":       reason,
	})
}

func failureMessage(err error) string {
	var emptyErr *apperrors.EmptyDocumentError
	if errors.As(err, &emptyErr) {
		return "document contains no extractable text"
	}
	return err.Error()
}

func (w *Worker) publish(task Task, eventType string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.notify.Publish(ctx, realtime.Event{
			Type:    eventType,
			UserID:  task.UserID,
			Payload: payload,
		}); err != nil {
			w.log.Warn("ingest event publish failed",
				"document_id", task.DocumentID.String(),
				"error", err,
			)
		}
	}()
}
