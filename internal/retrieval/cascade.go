package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docstack/docstack-backend/internal/platform/logger"
	"github.com/docstack/docstack-backend/internal/platform/vectorstore"
)

// EnumerationCeiling caps how many chunk ids a cascade scan collects.
// Documents with more chunks than this leak the remainder; reconciliation
// is out of scope here.
const EnumerationCeiling = 1000

// Deleter removes a document's chunks from the vector store after the
// primary record goes away. All failures are logged and swallowed so a
// document is always deletable even when the index is unreachable; orphan
// chunks are an accepted, recoverable degradation.
type Deleter struct {
	log *logger.Logger
	svc *Service
}

func NewDeleter(log *logger.Logger, svc *Service) (*Deleter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if svc == nil {
		return nil, fmt.Errorf("retrieval service required")
	}
	return &Deleter{
		log: log.With("service", "CascadeDeleter"),
		svc: svc,
	}, nil
}

// DeleteDocumentVectors never returns an error; the fallible work lives in
// deleteDocumentVectors and its error branch ends here.
func (d *Deleter) DeleteDocumentVectors(ctx context.Context, documentID uuid.UUID) {
	deleted, err := d.deleteDocumentVectors(ctx, documentID)
	if err != nil {
		d.log.Warn("vector cascade delete failed; leaving orphan chunks",
			"document_id", documentID.String(),
			"error", err,
		)
		return
	}
	d.log.Info("vector cascade delete finished",
		"document_id", documentID.String(),
		"deleted", deleted,
	)
}

func (d *Deleter) deleteDocumentVectors(ctx context.Context, documentID uuid.UUID) (int, error) {
	if documentID == uuid.Nil {
		return 0, fmt.Errorf("missing document_id")
	}
	ids, err := d.collectChunkIDs(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := d.svc.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SnapshotChunkIDs enumerates a document's current chunk ids, best-effort.
// Re-ingestion uses this to capture the superseded chunks before the new
// batch lands.
func (d *Deleter) SnapshotChunkIDs(ctx context.Context, documentID uuid.UUID) []string {
	if documentID == uuid.Nil {
		return nil
	}
	ids, err := d.collectChunkIDs(ctx, documentID)
	if err != nil {
		d.log.Warn("chunk id snapshot failed",
			"document_id", documentID.String(),
			"error", err,
		)
		return nil
	}
	return ids
}

// DeleteChunkIDs removes specific chunks, best-effort.
func (d *Deleter) DeleteChunkIDs(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := d.svc.deleteIDs(ctx, ids); err != nil {
		d.log.Warn("chunk delete failed; leaving orphan chunks",
			"count", len(ids),
			"error", err,
		)
	}
}

func (d *Deleter) collectChunkIDs(ctx context.Context, documentID uuid.UUID) ([]string, error) {
	matches, err := d.svc.enumerate(ctx, map[string]any{
		vectorstore.MetaDocumentID: documentID.String(),
	}, EnumerationCeiling)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}
