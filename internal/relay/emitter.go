package relay

import (
	"context"
	"sync"
)

// orderedEmitter runs jobs concurrently but publishes their results in the
// order the jobs were started. Each job waits on its predecessor's done
// channel before publishing.
type orderedEmitter struct {
	ctx context.Context
	sem chan struct{}
	wg  sync.WaitGroup

	mu   sync.Mutex
	tail chan struct{}
}

func newOrderedEmitter(ctx context.Context, maxInflight int) *orderedEmitter {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &orderedEmitter{
		ctx: ctx,
		sem: make(chan struct{}, maxInflight),
	}
}

// Go starts work once an inflight slot is free; a slot is held until the job
// has published. work returns the publish step, or nil to publish nothing.
// Go returns false when ctx ended first.
func (e *orderedEmitter) Go(work func(ctx context.Context) func()) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.sem <- struct{}{}:
	case <-e.ctx.Done():
		return false
	}

	e.mu.Lock()
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }()
		defer close(done)

		publish := work(e.ctx)

		if prev != nil {
			select {
			case <-prev:
			case <-e.ctx.Done():
				return
			}
		}
		if publish != nil && e.ctx.Err() == nil {
			publish()
		}
	}()
	return true
}

// Wait blocks until every started job has finished.
func (e *orderedEmitter) Wait() {
	e.wg.Wait()
}
