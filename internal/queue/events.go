package queue

import "sync/atomic"

type EventKind int

const (
	EventProgress EventKind = iota
	EventComplete
	EventFail
	EventCost
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventComplete:
		return "complete"
	case EventFail:
		return "fail"
	case EventCost:
		return "cost"
	default:
		return "unknown"
	}
}

// Event is one hook invocation captured for a single-threaded consumer.
type Event struct {
	Kind     EventKind
	UnitID   string
	Progress Progress
	Result   any
	Err      string
	Cost     CostReport
}

// EventQueue turns Hooks into messages. Workers never call consumer code;
// the consumer drains the channel on its own schedule.
type EventQueue struct {
	ch      chan Event
	dropped atomic.Int64
}

func NewEventQueue(capacity int) *EventQueue {
	if capacity < 1 {
		capacity = 64
	}
	return &EventQueue{ch: make(chan Event, capacity)}
}

// Hooks returns hooks that enqueue events. Progress and cost events are
// dropped when the buffer is full; completion and failure events block until
// there is room.
func (q *EventQueue) Hooks() Hooks {
	return Hooks{
		OnProgress: func(p Progress) {
			q.offer(Event{Kind: EventProgress, UnitID: p.UnitID, Progress: p})
		},
		OnCost: func(total float64, entry any) {
			q.offer(Event{Kind: EventCost, Cost: CostReport{Total: total, Entry: entry}})
		},
		OnComplete: func(unitID string, result any) {
			q.ch <- Event{Kind: EventComplete, UnitID: unitID, Result: result}
		},
		OnFail: func(unitID string, errText string) {
			q.ch <- Event{Kind: EventFail, UnitID: unitID, Err: errText}
		},
	}
}

func (q *EventQueue) offer(e Event) {
	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
	}
}

// Events is the channel to receive from.
func (q *EventQueue) Events() <-chan Event { return q.ch }

// Drain delivers every buffered event to fn without blocking and returns the
// number delivered.
func (q *EventQueue) Drain(fn func(Event)) int {
	n := 0
	for {
		select {
		case e := <-q.ch:
			fn(e)
			n++
		default:
			return n
		}
	}
}

// Dropped counts progress and cost events lost to a full buffer.
func (q *EventQueue) Dropped() int64 { return q.dropped.Load() }
