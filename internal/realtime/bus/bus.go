package bus

import (
	"context"

	"github.com/docstack/docstack-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.Event) error
	Close() error
}
