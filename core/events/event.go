package events

import (
	"sync"

	"pharmaclear/core/types"
)

// Event represents a structured state change emitted by a native engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (runtime buffer, indexer).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

type payloadCarrier interface {
	Event() *types.Event
}

// Payload extracts the structured payload carried by evt. Events that do not
// expose one are converted into an attribute-less payload of the same type.
func Payload(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			return payload
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Wrap adapts a raw payload into an Event.
func Wrap(evt *types.Event) Event {
	return wrapped{evt: evt}
}

type wrapped struct {
	evt *types.Event
}

func (w wrapped) EventType() string {
	if w.evt == nil {
		return ""
	}
	return w.evt.Type
}

func (w wrapped) Event() *types.Event { return w.evt }

// Recorder buffers emitted payloads in order. The runtime uses one per call so
// events only leave the core once the call commits.
type Recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	payload := Payload(evt)
	if payload == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, payload)
	r.mu.Unlock()
}

// Events returns the buffered payloads.
func (r *Recorder) Events() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset drops every buffered payload.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// MultiEmitter fans events out to every wrapped emitter.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
