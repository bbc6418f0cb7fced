package slothlet

import (
	"context"
	"sync"
)

// Event is the payload handed to an Emitter handler.
type Event struct {
	Name    string
	Payload any
}

// Emitter is a small typed pub/sub type standing in for Node's global
// EventEmitter prototype patch: there is no monkey-patchable base class for
// callbacks in Go, and the only property of the original that matters here
// is that a listener fires after its registering call has already
// returned. Emitter captures the frame active in ctx at On time and
// re-injects it at Emit time, regardless of which goroutine or frame is
// active when Emit runs.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]*boundHandler
	closed   bool
}

type boundHandler struct {
	fn    func(context.Context, Event)
	frame *Frame
}

// NewEmitter returns an empty emitter. Instance.NewEmitter is the usual
// entry point so the emitter gets dropped on Shutdown along with every
// other resource the instance owns.
func NewEmitter() *Emitter {
	return &Emitter{handlers: map[string][]*boundHandler{}}
}

// On registers fn for event, capturing whatever frame is active on ctx at
// registration time. A closed emitter silently discards new registrations.
func (e *Emitter) On(ctx context.Context, event string, fn func(context.Context, Event)) {
	f, _ := frameFrom(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.handlers[event] = append(e.handlers[event], &boundHandler{fn: fn, frame: f})
}

// Emit invokes every handler registered for event, each under the frame it
// was registered with (falling back to ctx's own frame, if any, when a
// handler registered outside one).
func (e *Emitter) Emit(ctx context.Context, event string, payload Event) {
	e.mu.RLock()
	handlers := append([]*boundHandler(nil), e.handlers[event]...)
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return
	}
	for _, h := range handlers {
		callCtx := ctx
		if h.frame != nil {
			callCtx = withFrame(ctx, h.frame)
		}
		h.fn(callCtx, payload)
	}
}

// Close drops every registered handler. Called on each Emitter an instance
// created when that instance shuts down, so no handler retains a reference
// into a shut-down instance.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.handlers = nil
}
