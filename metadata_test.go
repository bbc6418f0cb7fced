package slothlet

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/node"
)

func TestMetadataGetWalksDottedPath(t *testing.T) {
	root := node.NewObject(node.NewMetadataStore("api", "", 0))
	leafMeta := node.NewMetadataStore("api/math", "api/math/add.go", 3)
	leaf := node.NewFunc("add", reflect.ValueOf(func(a, b int) int { return a + b }), leafMeta)
	math := node.NewObject(node.NewMetadataStore("api/math", "", 0))
	math.Set("add", leaf)
	root.Set("math", math)

	fields, ok := Metadata.Get(root, "math.add")
	require.True(t, ok)
	assert.Equal(t, "api/math/add.go", fields["sourceFile"])
	assert.Equal(t, 3, fields["sourceLine"])
}

func TestMetadataGetMissingSegment(t *testing.T) {
	root := node.NewObject(node.NewMetadataStore("api", "", 0))
	_, ok := Metadata.Get(root, "missing")
	assert.False(t, ok)
}

func TestMetadataSelfAndCaller(t *testing.T) {
	ctx, _ := withCallStack(context.Background())
	outer := node.NewMetadataStore("outer", "outer.go", 1)
	inner := node.NewMetadataStore("inner", "inner.go", 2)
	pushCaller(ctx, outer)
	pushCaller(ctx, inner)

	self, ok := Metadata.Self(ctx)
	require.True(t, ok)
	assert.Equal(t, "inner.go", self["sourceFile"])

	caller, ok := Metadata.Caller(ctx)
	require.True(t, ok)
	assert.Equal(t, "outer.go", caller["sourceFile"])
}

func TestMetadataSelfWithoutFrame(t *testing.T) {
	_, ok := Metadata.Self(context.Background())
	assert.False(t, ok)
}
