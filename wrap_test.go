package slothlet

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/node"
)

func TestWrapInjectsFrameIntoCall(t *testing.T) {
	var observedTenant any
	fn := reflect.ValueOf(func(ctx context.Context) string {
		observedTenant = Ctx(ctx)["tenant"]
		self := Self(ctx)
		if self == nil {
			return "no-self"
		}
		return self.Path()
	})
	leaf := node.NewFunc("handler", fn, node.NewMetadataStore("", "", 0))
	leaf.SetPath("handler")

	root := node.NewObject(node.NewMetadataStore("", "", 0))
	root.SetPath("")
	root.Set("handler", leaf)

	bound := Wrap(root, map[string]any{"tenant": "acme"}, nil, root)

	child, ok := bound.Get("handler")
	require.True(t, ok)
	callable, ok := child.(node.Callable)
	require.True(t, ok)

	out, err := callable.Call(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acme", observedTenant)
	assert.Equal(t, "", out[0].Interface())
}

func TestWrapLeavesUnboundCtxParamsUnaffected(t *testing.T) {
	fn := reflect.ValueOf(func(a, b int) int { return a + b })
	leaf := node.NewFunc("add", fn, node.NewMetadataStore("", "", 0))
	bound := Wrap(nil, nil, nil, leaf)
	callable := bound.(node.Callable)

	out, err := callable.Call(context.Background(), reflect.ValueOf(2), reflect.ValueOf(3))
	require.NoError(t, err)
	assert.Equal(t, 5, out[0].Interface())
}

func TestWrapRejectsCallOnNonCallable(t *testing.T) {
	obj := node.NewObject(node.NewMetadataStore("", "", 0))
	bound := Wrap(nil, nil, nil, obj).(node.Callable)
	_, err := bound.Call(context.Background())
	assert.Error(t, err)
}
