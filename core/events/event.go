package events

import (
	"log/slog"
	"sort"
	"sync"

	"lotterychain/core/types"
)

// Event represents a structured state change emitted by the ledger engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the API, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// payload is implemented by events that carry a canonical types.Event.
type payload interface {
	Event() *types.Event
}

// Recorder buffers emitted events in order. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface. Events without a canonical payload
// are recorded by type only.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	var recorded *types.Event
	if p, ok := evt.(payload); ok {
		recorded = p.Event().Clone()
	}
	if recorded == nil {
		recorded = &types.Event{Type: evt.EventType()}
	}
	r.mu.Lock()
	r.events = append(r.events, recorded)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// LogEmitter writes every event to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements the Emitter interface.
func (l LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"type", evt.EventType()}
	if p, ok := evt.(payload); ok {
		if e := p.Event(); e != nil {
			keys := make([]string, 0, len(e.Attributes))
			for k := range e.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				args = append(args, k, e.Attributes[k])
			}
		}
	}
	logger.Info("event emitted", args...)
}

// Fanout forwards each event to every emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(evt)
		}
	}
}
