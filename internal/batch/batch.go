// Package batch fans independent generation requests out to the dispatcher
// and collects results keyed by request identity.
package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/vnmchuo/content-engine/internal/dispatch"
)

// Mode controls how a batch is executed. Sequential mode preserves input
// order and therefore deterministic round-robin rotation; in parallel mode
// the rotation order depends on goroutine scheduling.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Request is one batch item. An empty ID is assigned a uuid.
type Request struct {
	ID string
	dispatch.Request
}

type Coordinator struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewCoordinator(d *dispatch.Dispatcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{dispatcher: d, logger: logger}
}

// Run dispatches every request and returns the results keyed by request ID.
// Dispatch is total, so every launched request produces an entry. A
// cancelled context stops new launches; requests already in flight complete
// or time out on their own.
func (c *Coordinator) Run(ctx context.Context, requests []Request, mode Mode) map[string]dispatch.Result {
	c.logger.Info("starting batch", "requests", len(requests), "mode", string(mode))

	for i := range requests {
		if requests[i].ID == "" {
			requests[i].ID = uuid.New().String()
		}
	}

	results := make(map[string]dispatch.Result, len(requests))
	if mode == ModeParallel {
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, req := range requests {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			go func(req Request) {
				defer wg.Done()
				res := c.dispatcher.Dispatch(ctx, req.Request)
				mu.Lock()
				results[req.ID] = res
				mu.Unlock()
			}(req)
		}
		wg.Wait()
	} else {
		for _, req := range requests {
			if ctx.Err() != nil {
				break
			}
			results[req.ID] = c.dispatcher.Dispatch(ctx, req.Request)
		}
	}

	c.logger.Info("batch completed", "requests", len(requests), "results", len(results))
	return results
}
