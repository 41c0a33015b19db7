package queue

import (
	"context"
	"sync"
)

// Handle tracks one submitted unit.
type Handle struct {
	UnitID string

	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newHandle(unitID string) *Handle {
	return &Handle{UnitID: unitID, done: make(chan struct{})}
}

func (h *Handle) finish(result any, err error) {
	h.once.Do(func() {
		h.result, h.err = result, err
		close(h.done)
	})
}

// Done is closed when the unit completed, failed or was cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the unit finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is the last step's result; nil until Done.
func (h *Handle) Result() any {
	select {
	case <-h.done:
		return h.result
	default:
		return nil
	}
}

// Err is the unit's failure; nil until Done.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}
