package slothlet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cldmv/slothlet/node"
)

func TestEmitterReinjectsFrameCapturedAtOn(t *testing.T) {
	root := node.NewObject(node.NewMetadataStore("", "", 0))
	registerCtx := withFrame(context.Background(), &Frame{self: root, context: map[string]any{"tenant": "acme"}})

	e := NewEmitter()
	var observed any
	e.On(registerCtx, "ready", func(ctx context.Context, ev Event) {
		observed = Ctx(ctx)["tenant"]
	})

	// Emit from a completely different, frame-less context.
	e.Emit(context.Background(), "ready", Event{Name: "ready"})

	assert.Equal(t, "acme", observed)
}

func TestEmitterHandlerWithoutFrameSeesEmitCtxFrame(t *testing.T) {
	e := NewEmitter()
	var sawSelf node.Node
	e.On(context.Background(), "go", func(ctx context.Context, ev Event) {
		sawSelf = Self(ctx)
	})

	root := node.NewObject(node.NewMetadataStore("", "", 0))
	ctx := withFrame(context.Background(), &Frame{self: root})
	e.Emit(ctx, "go", Event{})

	assert.Same(t, root, sawSelf)
}

func TestEmitterCloseDropsHandlers(t *testing.T) {
	e := NewEmitter()
	called := false
	e.On(context.Background(), "x", func(ctx context.Context, ev Event) { called = true })
	e.Close()
	e.Emit(context.Background(), "x", Event{})
	assert.False(t, called)

	// On after Close is a silent no-op, not a panic.
	e.On(context.Background(), "x", func(ctx context.Context, ev Event) { called = true })
	e.Emit(context.Background(), "x", Event{})
	assert.False(t, called)
}
