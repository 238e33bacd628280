package task

import (
	"context"
	"time"
)

// shielded runs fn with a context detached from ctx's cancellation (so an
// upstream cancel/timeout cannot abort it) but bounded by its own timeout.
// It wraps ack/no_ack and the state-context dump so cleanup still runs to
// completion, or hits its own bound, regardless of why the caller was
// cancelled.
func shielded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	shieldCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return fn(shieldCtx)
}
