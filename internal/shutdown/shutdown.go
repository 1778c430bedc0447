// Package shutdown ties a context to process termination signals.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WithSignals returns a context cancelled on SIGINT or SIGTERM, or when the
// returned cancel func is called.
func WithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return withSignals(parent, syscall.SIGINT, syscall.SIGTERM)
}

func withSignals(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	go func() {
		defer signal.Stop(ch)
		select {
		case <-ctx.Done():
		case <-ch:
			cancel()
		}
	}()

	return ctx, cancel
}
