// Package dispatcher manages worker fan-out over the sweep queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// Runner is anything that consumes the queue until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queued sweeps to a pool of workers.
type Dispatcher struct {
	queue   screens.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue screens.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item screens.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Size reports how many workers the dispatcher runs.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}
