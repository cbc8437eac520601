package timer

import (
	"context"
	"time"
)

const DefaultTickInterval = time.Second

// Run ticks the engine until ctx is done or the engine is closed. The interval
// only controls how often subscribers see updates; accuracy comes from the
// clock, so a slow or suspended loop catches up on the next tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Tick()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.ctx.Done():
			return ErrClosed
		case <-ticker.C:
			e.Tick()
		}
	}
}
