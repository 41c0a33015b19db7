// Package queue runs per-unit processing chains on a bounded worker pool.
// Steps of one unit run strictly in order on one worker; different units run
// in parallel up to the worker limit.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrCancelled is the error of a unit removed by CancelPending.
	ErrCancelled = errors.New("queue: unit cancelled before it started")
	// ErrShutdown is the error of a unit submitted after Shutdown.
	ErrShutdown = errors.New("queue: manager is shut down")
)

// Step is one named operation of a unit's chain.
type Step struct {
	Name string
	Run  func() (any, error)
}

// Progress is reported before and after every step.
type Progress struct {
	UnitID    string
	Completed int
	Total     int
	Label     string
}

// CostReport may be returned by a step to report spend; it triggers OnCost.
type CostReport struct {
	Total float64
	Entry any
}

// Hooks are called from worker goroutines. Any of them may be nil.
type Hooks struct {
	OnProgress func(Progress)
	OnComplete func(unitID string, result any)
	OnFail     func(unitID string, errText string)
	OnCost     func(total float64, entry any)
}

type unit struct {
	id     string
	steps  []Step
	handle *Handle
}

// Manager is a fixed-size pool executing unit chains.
type Manager struct {
	maxWorkers int
	hooks      Hooks
	log        zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*unit
	handles []*Handle
	queued  int
	active  int
	peak    int
	closed  bool

	workers sync.WaitGroup
}

// New starts maxWorkers workers. Values below one are treated as one.
func New(maxWorkers int, hooks Hooks, logger zerolog.Logger) *Manager {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	m := &Manager{
		maxWorkers: maxWorkers,
		hooks:      hooks,
		log:        logger.With().Str("component", "queue").Logger(),
	}
	m.cond = sync.NewCond(&m.mu)

	m.workers.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go m.worker()
	}
	return m
}

// AddUnit schedules steps for unitID and returns immediately.
func (m *Manager) AddUnit(unitID string, steps []Step) *Handle {
	h := newHandle(unitID)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.log.Warn().Str("unit", unitID).Msg("Unit submitted after shutdown")
		h.finish(nil, ErrShutdown)
		return h
	}
	m.pending = append(m.pending, &unit{id: unitID, steps: steps, handle: h})
	m.handles = append(m.handles, h)
	m.queued++
	m.cond.Signal()
	m.mu.Unlock()

	m.log.Debug().Str("unit", unitID).Int("steps", len(steps)).Msg("Unit queued")
	return h
}

func (m *Manager) worker() {
	defer m.workers.Done()
	for {
		m.mu.Lock()
		for len(m.pending) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		u := m.pending[0]
		m.pending[0] = nil
		m.pending = m.pending[1:]
		m.active++
		if m.active > m.peak {
			m.peak = m.active
		}
		m.mu.Unlock()

		res, err := m.runUnit(u)

		m.mu.Lock()
		m.active--
		m.queued--
		m.mu.Unlock()

		u.handle.finish(res, err)
	}
}

func (m *Manager) runUnit(u *unit) (any, error) {
	log := m.log.With().Str("unit", u.id).Logger()
	total := len(u.steps)

	var last any
	for i, step := range u.steps {
		m.progress(Progress{UnitID: u.id, Completed: i, Total: total, Label: "Starting " + step.Name})

		res, err := runStep(step)
		if err != nil {
			err = fmt.Errorf("%s: %w", step.Name, err)
			log.Error().Err(err).Msg("Unit failed")
			if m.hooks.OnFail != nil {
				m.hooks.OnFail(u.id, err.Error())
			}
			return nil, err
		}

		if cost, ok := asCost(res); ok && m.hooks.OnCost != nil {
			m.hooks.OnCost(cost.Total, cost.Entry)
		}
		m.progress(Progress{UnitID: u.id, Completed: i + 1, Total: total, Label: "Finished " + step.Name})
		last = res
	}

	log.Info().Int("steps", total).Msg("Unit completed")
	if m.hooks.OnComplete != nil {
		m.hooks.OnComplete(u.id, last)
	}
	return last, nil
}

// runStep converts a panicking step into an error.
func runStep(step Step) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if step.Run == nil {
		return nil, errors.New("step has no function")
	}
	return step.Run()
}

func asCost(v any) (CostReport, bool) {
	switch c := v.(type) {
	case CostReport:
		return c, true
	case *CostReport:
		if c != nil {
			return *c, true
		}
	}
	return CostReport{}, false
}

func (m *Manager) progress(p Progress) {
	if m.hooks.OnProgress != nil {
		m.hooks.OnProgress(p)
	}
}

// CancelPending removes every unit that has not started and returns how many
// were removed. Running chains are not interrupted.
func (m *Manager) CancelPending() int {
	m.mu.Lock()
	cancelled := m.pending
	m.pending = nil
	m.queued -= len(cancelled)
	m.mu.Unlock()

	for _, u := range cancelled {
		u.handle.finish(nil, ErrCancelled)
	}
	if len(cancelled) > 0 {
		m.log.Info().Int("cancelled", len(cancelled)).Msg("Pending units cancelled")
	}
	return len(cancelled)
}

// WaitForAll blocks until every unit submitted so far has finished or ctx is
// done. It returns the unit failures joined, ignoring cancellations.
func (m *Manager) WaitForAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, len(m.handles))
	copy(handles, m.handles)
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := h.Err(); err != nil && !errors.Is(err, ErrCancelled) {
			errs = append(errs, fmt.Errorf("%s: %w", h.UnitID, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops accepting units. Workers finish everything already queued;
// with wait the call blocks until they have.
func (m *Manager) Shutdown(wait bool) {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	if wait {
		m.workers.Wait()
	}
}

// QueueEmpty reports whether no unit is waiting or running.
func (m *Manager) QueueEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queued == 0
}

func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// PeakActiveWorkers is the highest number of units ever running at once.
func (m *Manager) PeakActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *Manager) MaxWorkers() int { return m.maxWorkers }
