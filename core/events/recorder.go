package events

import (
	"sync"

	"srpchain/core/types"
)

// payloadEvent is implemented by emitted events that carry a canonical
// *types.Event payload alongside their type tag.
type payloadEvent interface {
	Event
	Event() *types.Event
}

// Recorder is an Emitter that keeps the canonical payload of every emitted
// event in memory so the RPC layer can serve it back to callers. It is safe
// for concurrent use.
type Recorder struct {
	mu     sync.RWMutex
	events []*types.Event
}

// NewRecorder returns an empty event recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements the Emitter interface. Events without a canonical payload
// are recorded with their type tag only.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	record := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if withPayload, ok := evt.(payloadEvent); ok {
		if payload := withPayload.Event(); payload != nil {
			record = payload
		}
	}
	r.mu.Lock()
	r.events = append(r.events, record)
	r.mu.Unlock()
}

// Tail returns up to n most recent events, oldest first. A non-positive n
// returns every recorded event.
func (r *Recorder) Tail(n int) []*types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start := 0
	if n > 0 && len(r.events) > n {
		start = len(r.events) - n
	}
	out := make([]*types.Event, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}
