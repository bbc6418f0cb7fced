package slothlet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/node"
)

func TestSelfCtxReferenceOutsideFrame(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Self(ctx))
	assert.Nil(t, Ctx(ctx))
	assert.Nil(t, Reference(ctx))
}

func TestFrameAccessorsInsideFrame(t *testing.T) {
	root := node.NewObject(node.NewMetadataStore("", "", 0))
	f := &Frame{
		self:      root,
		context:   map[string]any{"tenant": "acme"},
		reference: map[string]any{"version": "1.2.3"},
	}
	ctx := withFrame(context.Background(), f)

	assert.Same(t, root, Self(ctx))
	assert.Equal(t, "acme", Ctx(ctx)["tenant"])
	assert.Equal(t, "1.2.3", Reference(ctx)["version"])
}

func TestWithOverlayTakesPrecedenceOverInstanceContext(t *testing.T) {
	f := &Frame{context: map[string]any{"tenant": "acme", "region": "us"}}
	ctx := withFrame(context.Background(), f)
	ctx = WithOverlay(ctx, map[string]any{"tenant": "overlay-tenant"})

	merged := Ctx(ctx)
	assert.Equal(t, "overlay-tenant", merged["tenant"])
	assert.Equal(t, "us", merged["region"])
}

func TestCallStackSelfAndCaller(t *testing.T) {
	ctx, _ := withCallStack(context.Background())

	outer := node.NewMetadataStore("outer", "outer.go", 1)
	inner := node.NewMetadataStore("inner", "inner.go", 2)

	pushCaller(ctx, outer)
	pushCaller(ctx, inner)

	self, ok := callerMetadataAt(ctx, 0)
	require.True(t, ok)
	assert.Same(t, inner, self)

	caller, ok := callerMetadataAt(ctx, 1)
	require.True(t, ok)
	assert.Same(t, outer, caller)

	_, ok = callerMetadataAt(ctx, 2)
	assert.False(t, ok)
}

func TestCallerMetadataAtWithoutCallStack(t *testing.T) {
	_, ok := callerMetadataAt(context.Background(), 0)
	assert.False(t, ok)
}
