package engine

import (
	"context"
	"time"
)

// DefaultTimeout bounds how long a deploy or destroy waits for the stack to
// settle.
const DefaultTimeout = 30 * time.Minute

// WithTimeout wraps a context with a wait timeout. Non-positive values fall
// back to DefaultTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
