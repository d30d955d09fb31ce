package ctxutil

import "context"

// Default guards against callers passing a nil context into clients that
// build HTTP requests from it.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
