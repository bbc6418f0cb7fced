package slothlet

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"github.com/cldmv/slothlet/node"
)

// Wrap binds target (and, recursively, every node reachable through it) to
// a frame built from self/contextData/referenceData. This is the
// makeWrapper analogue: every call made through the returned node installs
// the frame on ctx and records itself on ctx's call stack before invoking
// the underlying function, so Self/Ctx/Reference/Metadata.Self/
// Metadata.Caller observe it regardless of which node in the tree was
// called. Instance.API calls Wrap on its materialized root each time it is
// called; module authors
// and host code embedding slothlet call it directly to give an
// independently constructed node.Node the same frame-carrying behavior.
func Wrap(self node.Node, contextData, referenceData map[string]any, target node.Node) node.Node {
	if target == nil {
		return nil
	}
	return &boundNode{
		Node:      target,
		self:      self,
		context:   contextData,
		reference: referenceData,
	}
}

// boundNode decorates a node.Node with frame injection. It embeds the
// wrapped node so Kind/Path/SetPath/Metadata/Keys pass through unchanged;
// Call and Get (to propagate binding to children) are overridden, and Set
// forwards to a mutable wrapped node.
type boundNode struct {
	node.Node
	self      node.Node
	context   map[string]any
	reference map[string]any
}

func (b *boundNode) frame() *Frame {
	return &Frame{self: b.self, context: b.context, reference: b.reference}
}

func (b *boundNode) Call(ctx context.Context, args ...reflect.Value) ([]reflect.Value, error) {
	c, ok := b.Node.(node.Callable)
	if !ok {
		return nil, errors.Errorf("node at %q is not callable", b.Node.Path())
	}
	ctx = withFrame(ctx, b.frame())
	ctx, _ = withCallStack(ctx)
	pushCaller(ctx, b.Node.Metadata())
	return c.Call(ctx, args...)
}

func (b *boundNode) Get(name string) (node.Node, bool) {
	child, ok := b.Node.Get(name)
	if !ok {
		return nil, false
	}
	return Wrap(b.self, b.context, b.reference, child), true
}

// Set delegates to the wrapped node when it is mutable (and does nothing
// otherwise), so a bound node can still have properties attached without
// losing its binding.
func (b *boundNode) Set(name string, child node.Node) {
	if m, ok := b.Node.(node.MutableNode); ok {
		m.Set(name, child)
	}
}
