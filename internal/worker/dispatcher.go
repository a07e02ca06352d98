package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// dispatcher is the event-lifetime adapter. Each handler runs as one
// extended unit of work: the event is not considered settled until the
// handler returns, and a handler that overruns the budget is abandoned
// the way the platform tears down an overrunning worker.
type dispatcher struct {
	logger *slog.Logger
	budget time.Duration
}

func newDispatcher(budget time.Duration, logger *slog.Logger) *dispatcher {
	return &dispatcher{logger: logger, budget: budget}
}

// waitUntil runs fn to completion within the lifetime budget.
func (d *dispatcher) waitUntil(ctx context.Context, event string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		d.logger.Debug("Event settled",
			"event", event,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return err
	case <-ctx.Done():
		d.logger.Error("Event exceeded lifetime budget, abandoning",
			"event", event,
			"budget", d.budget.String())
		return fmt.Errorf("%s event: %w", event, ctx.Err())
	}
}
