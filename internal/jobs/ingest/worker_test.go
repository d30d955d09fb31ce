package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	types "github.com/docstack/docstack-backend/internal/domain"
	"github.com/docstack/docstack-backend/internal/ingestion/chunker"
	"github.com/docstack/docstack-backend/internal/ingestion/pipeline"
	"github.com/docstack/docstack-backend/internal/pkg/dbctx"
	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore/memory"
	"github.com/docstack/docstack-backend/internal/retrieval"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		vec := make([]float32, 8)
		for j, r := range text {
			vec[(j+int(r))%8] += float32(r % 31)
		}
		out[i] = vec
	}
	return out, nil
}

type fakeDocRepo struct {
	mu     sync.Mutex
	fields map[uuid.UUID]map[string]interface{}
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{fields: map[uuid.UUID]map[string]interface{}{}}
}

func (f *fakeDocRepo) Create(dbc dbctx.Context, rows []*types.Document) ([]*types.Document, error) {
	return rows, nil
}

func (f *fakeDocRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Document, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakeDocRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*types.Document, error) {
	return nil, nil
}

func (f *fakeDocRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.fields[id]
	if !ok {
		cur = map[string]interface{}{}
		f.fields[id] = cur
	}
	for k, v := range updates {
		cur[k] = v
	}
	return nil
}

func (f *fakeDocRepo) SoftDelete(dbc dbctx.Context, id uuid.UUID) error { return nil }

func (f *fakeDocRepo) field(id uuid.UUID, key string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.fields[id]; ok {
		return cur[key]
	}
	return nil
}

type workerHarness struct {
	worker *Worker
	docs   *fakeDocRepo
	store  *memory.Store
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := memory.NewStore(log, stubEmbedder{})
	pipe, err := pipeline.New(log, store, chunker.New(200, 20))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	svc, err := retrieval.NewService(log, store)
	if err != nil {
		t.Fatalf("retrieval.NewService: %v", err)
	}
	deleter, err := retrieval.NewDeleter(log, svc)
	if err != nil {
		t.Fatalf("retrieval.NewDeleter: %v", err)
	}
	docs := newFakeDocRepo()
	w, err := NewWorker(log, docs, pipe, deleter, nil, 8, 1)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return &workerHarness{worker: w, docs: docs, store: store}
}

func TestWorkerIngestsAndCompletes(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.Start(context.Background())

	docID := uuid.New()
	err := h.worker.Enqueue(context.Background(), Task{
		DocumentID: docID,
		UserID:     uuid.New(),
		Filename:   "report.txt",
		Text:       strings.Repeat("A sentence about quarterly results. ", 30),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.worker.Stop()

	if got := h.docs.field(docID, "processing_status"); got != types.DocumentStatusCompleted {
		t.Fatalf("status: want=%q got=%v", types.DocumentStatusCompleted, got)
	}
	chunks, _ := h.docs.field(docID, "chunk_count").(int)
	if chunks <= 0 {
		t.Fatalf("chunk_count not recorded: %v", h.docs.field(docID, "chunk_count"))
	}
	if h.store.Len() != chunks {
		t.Fatalf("store entries: want=%d got=%d", chunks, h.store.Len())
	}
}

func TestWorkerMarksEmptyDocumentFailed(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.Start(context.Background())

	docID := uuid.New()
	err := h.worker.Enqueue(context.Background(), Task{
		DocumentID: docID,
		UserID:     uuid.New(),
		Filename:   "blank.pdf",
		Text:       "   \n\t ",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.worker.Stop()

	if got := h.docs.field(docID, "processing_status"); got != types.DocumentStatusFailed {
		t.Fatalf("status: want=%q got=%v", types.DocumentStatusFailed, got)
	}
	reason, _ := h.docs.field(docID, "processing_error").(string)
	if reason == "" {
		t.Fatalf("expected a recorded failure reason")
	}
	if h.store.Len() != 0 {
		t.Fatalf("no chunks should land for an empty document, got %d", h.store.Len())
	}
}

func TestWorkerReingestionReplacesChunks(t *testing.T) {
	h := newWorkerHarness(t)
	h.worker.Start(context.Background())

	docID := uuid.New()
	userID := uuid.New()
	if err := h.worker.Enqueue(context.Background(), Task{
		DocumentID: docID,
		UserID:     userID,
		Filename:   "notes.txt",
		Text:       strings.Repeat("First version of the notes. ", 40),
	}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := h.worker.Enqueue(context.Background(), Task{
		DocumentID: docID,
		UserID:     userID,
		Filename:   "notes.txt",
		Text:       "Second version, much shorter.",
	}); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	h.worker.Stop()

	chunks, _ := h.docs.field(docID, "chunk_count").(int)
	if chunks != 1 {
		t.Fatalf("chunk_count after re-ingest: want=1 got=%d", chunks)
	}
	// Only the second version's chunks survive.
	if h.store.Len() != chunks {
		t.Fatalf("store entries: want=%d got=%d", chunks, h.store.Len())
	}
}

func TestWorkerEnqueueValidatesAndBackpressures(t *testing.T) {
	h := newWorkerHarness(t)
	// Worker not started: the queue only drains up to its capacity.

	err := h.worker.Enqueue(context.Background(), Task{UserID: uuid.New(), Text: "x"})
	if err == nil {
		t.Fatalf("missing document id must be rejected")
	}

	for i := 0; i < 8; i++ {
		if err := h.worker.Enqueue(context.Background(), Task{
			DocumentID: uuid.New(),
			UserID:     uuid.New(),
			Text:       "content",
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	err = h.worker.Enqueue(context.Background(), Task{
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Text:       "overflow",
	})
	if err == nil {
		t.Fatalf("expected backpressure on full queue")
	}
}
