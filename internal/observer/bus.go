// Package observer distributes run events to live consumers (TUI,
// event-stream server) and watches the active workspace's task list
// for progress.
package observer

import (
	"sync"
	"time"
)

// Kind categorizes an event on the bus.
type Kind string

const (
	KindPhaseStarted  Kind = "phase_started"
	KindPhaseFinished Kind = "phase_finished"
	KindAgentRunning  Kind = "agent_running"
	KindTasksUpdated  Kind = "tasks_updated"
	KindCIState       Kind = "ci_state"
	KindRunFinished   Kind = "run_finished"
	KindLog           Kind = "log"
)

// Event is one observable state change of the pipeline.
type Event struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	PhaseID string    `json:"phase_id,omitempty"`
	Message string    `json:"message,omitempty"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// pipeline. A nil Bus is valid and drops everything.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func must be
// called when the consumer is done; the channel is closed by it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
