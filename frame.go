package slothlet

import (
	"context"
	"sync"

	"github.com/cldmv/slothlet/node"
)

type frameKey struct{}
type overlayKey struct{}
type callStackKey struct{}

// Frame is the scoped-storage record threaded through every wrapped call:
// the instance's own node, its base context data, reference data, and
// whichever overlay the caller layered on via WithOverlay. It is the Go
// substitute for Node's AsyncLocalStorage-backed frame, carried explicitly
// on context.Context instead of implicitly across await boundaries.
type Frame struct {
	self      node.Node
	context   map[string]any
	reference map[string]any
}

// withFrame returns a context carrying f, replacing any frame already
// present. Called once per instance call at the wrapper boundary.
func withFrame(ctx context.Context, f *Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(ctx context.Context) (*Frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*Frame)
	return f, ok
}

// Self returns the instance's own composite node as observed by the
// currently active frame. Reads outside any frame return nil, the Go
// analogue of "reads outside any frame return a null-shaped empty value".
func Self(ctx context.Context) node.Node {
	f, ok := frameFrom(ctx)
	if !ok {
		return nil
	}
	return f.self
}

// Ctx returns the instance context merged with any per-request overlay
// active on ctx. The overlay, if present, takes precedence per key.
func Ctx(ctx context.Context) map[string]any {
	f, ok := frameFrom(ctx)
	if !ok {
		return nil
	}
	merged := make(map[string]any, len(f.context))
	for k, v := range f.context {
		merged[k] = v
	}
	if overlay, ok := ctx.Value(overlayKey{}).(map[string]any); ok {
		for k, v := range overlay {
			merged[k] = v
		}
	}
	return merged
}

// Reference returns the instance's reference data as observed by the
// active frame.
func Reference(ctx context.Context) map[string]any {
	f, ok := frameFrom(ctx)
	if !ok {
		return nil
	}
	return f.reference
}

// WithOverlay layers overlay over the instance's context map for the
// remainder of ctx's call chain, without mutating instance state. This is
// the per-request overlay from §4.5: a caller wanting to thread a trace id
// or user id through one call without touching the instance default.
func WithOverlay(ctx context.Context, overlay map[string]any) context.Context {
	return context.WithValue(ctx, overlayKey{}, overlay)
}

// callStack records, in entry order (most recent last), the metadata of every frame entered
// on this call chain so Metadata.Self/Metadata.Caller can walk up without a
// real runtime stack trace.
type callStack struct {
	mu      sync.Mutex
	entries []*node.MetadataStore
}

func withCallStack(ctx context.Context) (context.Context, *callStack) {
	if cs, ok := ctx.Value(callStackKey{}).(*callStack); ok {
		return ctx, cs
	}
	cs := &callStack{}
	return context.WithValue(ctx, callStackKey{}, cs), cs
}

func pushCaller(ctx context.Context, meta *node.MetadataStore) {
	if cs, ok := ctx.Value(callStackKey{}).(*callStack); ok {
		cs.mu.Lock()
		cs.entries = append(cs.entries, meta)
		cs.mu.Unlock()
	}
}

// callerMetadataAt returns the metadata depth frames up from the top of the
// call stack (0 = the immediate caller, 1 = its caller), per
// Metadata.Self/Metadata.Caller.
func callerMetadataAt(ctx context.Context, depth int) (*node.MetadataStore, bool) {
	cs, ok := ctx.Value(callStackKey{}).(*callStack)
	if !ok {
		return nil, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	idx := len(cs.entries) - 1 - depth
	if idx < 0 || idx >= len(cs.entries) {
		return nil, false
	}
	return cs.entries[idx], true
}
