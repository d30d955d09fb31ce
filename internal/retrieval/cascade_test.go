package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/docstack/docstack-backend/internal/pkg/errors"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

// downStore simulates an unreachable vector store.
type downStore struct{}

func (downStore) Upsert(ctx context.Context, records []vectorstore.Record) error {
	return &apperrors.StoreWriteError{Op: "upsert", Err: errors.New("connection refused")}
}

func (downStore) Search(ctx context.Context, query string, topK int, filter map[string]any) ([]vectorstore.Match, error) {
	return nil, &apperrors.StoreReadError{Op: "search", Err: errors.New("connection refused")}
}

func (downStore) Delete(ctx context.Context, ids []string) error {
	return &apperrors.StoreWriteError{Op: "delete", Err: errors.New("connection refused")}
}

func newDeleter(t *testing.T, svc *Service) *Deleter {
	t.Helper()
	d, err := NewDeleter(testLogger(t), svc)
	if err != nil {
		t.Fatalf("NewDeleter: %v", err)
	}
	return d
}

func TestCascadeRemovesOnlyTargetDocument(t *testing.T) {
	svc, store := newMemoryService(t)
	d := newDeleter(t, svc)

	userID := uuid.New()
	docA := uuid.New()
	docB := uuid.New()
	seedChunks(t, store, docA, userID, "a one", "a two", "a three")
	seedChunks(t, store, docB, userID, "b one", "b two")

	d.DeleteDocumentVectors(context.Background(), docA)

	gone, err := svc.Retrieve(context.Background(), Query{
		UserID: userID,
		TopK:   EnumerationCeiling,
		Filter: map[string]any{vectorstore.MetaDocumentID: docA.String()},
	})
	if err != nil {
		t.Fatalf("Retrieve after cascade: %v", err)
	}
	if len(gone) != 0 {
		t.Fatalf("document A chunks survived cascade: %d", len(gone))
	}

	kept, err := svc.Retrieve(context.Background(), Query{
		UserID: userID,
		TopK:   EnumerationCeiling,
		Filter: map[string]any{vectorstore.MetaDocumentID: docB.String()},
	})
	if err != nil {
		t.Fatalf("Retrieve unrelated document: %v", err)
	}
	if len(kept) != 2 {
		t.Fatalf("document B chunks: want=2 got=%d", len(kept))
	}
}

func TestCascadeNeverRaisesWhenStoreIsDown(t *testing.T) {
	svc, err := NewService(testLogger(t), downStore{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	d := newDeleter(t, svc)

	// Must log and swallow; the call returning at all is the contract.
	d.DeleteDocumentVectors(context.Background(), uuid.New())
	d.DeleteChunkIDs(context.Background(), []string{"chunk-1"})
	if ids := d.SnapshotChunkIDs(context.Background(), uuid.New()); ids != nil {
		t.Fatalf("snapshot against down store: want nil, got %v", ids)
	}
}

func TestCascadeOnEmptyDocumentIsANoop(t *testing.T) {
	svc, _ := newMemoryService(t)
	d := newDeleter(t, svc)
	d.DeleteDocumentVectors(context.Background(), uuid.New())
}

func TestSnapshotThenDeleteSupportsReingestion(t *testing.T) {
	svc, store := newMemoryService(t)
	d := newDeleter(t, svc)

	userID := uuid.New()
	docID := uuid.New()
	oldIDs := seedChunks(t, store, docID, userID, "v1 chunk one", "v1 chunk two")

	snapshot := d.SnapshotChunkIDs(context.Background(), docID)
	if len(snapshot) != len(oldIDs) {
		t.Fatalf("snapshot size: want=%d got=%d", len(oldIDs), len(snapshot))
	}

	// New version lands, then superseded chunks are dropped.
	newIDs := seedChunks(t, store, docID, userID, "v2 chunk one", "v2 chunk two", "v2 chunk three")
	d.DeleteChunkIDs(context.Background(), snapshot)

	remaining, err := svc.Retrieve(context.Background(), Query{
		UserID: userID,
		TopK:   EnumerationCeiling,
		Filter: map[string]any{vectorstore.MetaDocumentID: docID.String()},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(remaining) != len(newIDs) {
		t.Fatalf("remaining chunks: want=%d got=%d", len(newIDs), len(remaining))
	}
	for _, src := range remaining {
		for _, old := range oldIDs {
			if src.ChunkID == old {
				t.Fatalf("superseded chunk %s survived", old)
			}
		}
	}
}
