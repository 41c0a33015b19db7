package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// backend is the part of capture.VideoBackend and capture.AudioBackend a
// monitor drives.
type backend interface {
	Open(ctx context.Context) error
	Start()
	Stop(joinTimeout time.Duration) error
	Failed() bool
}

type run[B backend] struct {
	b      B
	cancel context.CancelFunc
	opened chan struct{}
	// ok is set under runner.mu once Open succeeded.
	ok bool
}

// runner owns at most one backend at a time. Opening happens in the
// background so Start never blocks on hardware.
type runner[B backend] struct {
	openTimeout time.Duration
	joinTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	cur     *run[B]
	lastErr string
}

func (r *runner[B]) start(b B) {
	r.stop()

	ctx, cancel := context.WithTimeout(context.Background(), r.openTimeout)
	cur := &run[B]{b: b, cancel: cancel, opened: make(chan struct{})}

	r.mu.Lock()
	r.cur = cur
	r.lastErr = ""
	r.mu.Unlock()

	go func() {
		defer close(cur.opened)
		if err := b.Open(ctx); err != nil {
			r.mu.Lock()
			if r.cur == cur {
				r.lastErr = err.Error()
			}
			r.mu.Unlock()
			r.log.Warn().Err(err).Msg("Monitor open failed")
			return
		}
		r.mu.Lock()
		cur.ok = true
		r.mu.Unlock()
		b.Start()
		r.log.Debug().Msg("Monitor running")
	}()
}

// stop cancels a pending open, then stops the backend. A backend whose open
// outlives joinTimeout is stopped once the open returns.
func (r *runner[B]) stop() {
	r.mu.Lock()
	cur := r.cur
	r.cur = nil
	r.mu.Unlock()
	if cur == nil {
		return
	}

	cur.cancel()
	select {
	case <-cur.opened:
		cur.b.Stop(r.joinTimeout)
	case <-time.After(r.joinTimeout):
		r.log.Warn().Dur("timeout", r.joinTimeout).Msg("Monitor open still pending, deferring release")
		go func() {
			<-cur.opened
			cur.b.Stop(r.joinTimeout)
		}()
	}
}

// current returns the active backend, if any.
func (r *runner[B]) current() (B, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		var zero B
		return zero, false
	}
	return r.cur.b, true
}

// running is false while the open is still pending.
func (r *runner[B]) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil && r.cur.ok && r.lastErr == "" && !r.cur.b.Failed()
}

func (r *runner[B]) lastError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *runner[B]) setError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErr == "" {
		r.lastErr = msg
	}
}
