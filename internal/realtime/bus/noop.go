package bus

import (
	"context"

	"github.com/docstack/docstack-backend/internal/realtime"
)

// noopBus stands in when REDIS_ADDR is unset; single-node deployments
// lose nothing but realtime notifications.
type noopBus struct{}

func NewNoopBus() Bus { return noopBus{} }

func (noopBus) Publish(ctx context.Context, msg realtime.Event) error { return nil }

func (noopBus) Close() error { return nil }
