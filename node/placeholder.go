package node

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// State is the lazy-leaf state machine: Placeholder -> Loading -> Ready, or
// Placeholder -> Error on load failure (errors are never retried).
type State int

const (
	StatePlaceholder State = iota
	StateLoading
	StateReady
	StateError
)

// Loader produces the real Node behind a placeholder. It is called at most
// once per placeholder; concurrent triggers share the result via
// singleflight.
type Loader func(ctx context.Context) (Node, error)

// Placeholder stands in for a sub-tree that has not been loaded yet. It
// carries the same Path a loaded node would, so hooks and diagnostics can
// match on path before materialization (§4.4/§6.2). On first access it
// loads the real node and mutates itself in place: every reference held
// into the placeholder keeps working after resolution, because the
// placeholder's identity (the *Placeholder pointer) never changes.
type Placeholder struct {
	mu    sync.RWMutex
	path  string
	meta  *MetadataStore
	load  Loader
	group singleflight.Group

	state State
	real  Node
	err   error
}

// NewPlaceholder creates a not-yet-loaded sub-tree guarded by load.
func NewPlaceholder(meta *MetadataStore, load Loader) *Placeholder {
	return &Placeholder{meta: meta, load: load, state: StatePlaceholder}
}

func (p *Placeholder) Kind() Kind {
	if real, ok := p.resolved(); ok {
		return real.Kind()
	}
	return KindPlaceholder
}

func (p *Placeholder) Path() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.path
}

func (p *Placeholder) SetPath(path string) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
}

func (p *Placeholder) Metadata() *MetadataStore { return p.meta }

// Keys reports zero keys before resolution (see SPEC_FULL.md, Open Question
// decision 1) and the real node's keys after.
func (p *Placeholder) Keys() []string {
	if real, ok := p.resolved(); ok {
		return real.Keys()
	}
	return nil
}

func (p *Placeholder) Get(name string) (Node, bool) {
	real, err := p.ensure(context.Background())
	if err != nil {
		return nil, false
	}
	return real.Get(name)
}

// Call materializes the placeholder (if needed) and, if the resolved node is
// callable, invokes it.
func (p *Placeholder) Call(ctx context.Context, args ...reflect.Value) ([]reflect.Value, error) {
	real, err := p.ensure(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := real.(Callable)
	if !ok {
		return nil, errors.Errorf("node at %q is not callable", p.Path())
	}
	return c.Call(ctx, args...)
}

func (p *Placeholder) resolved() (Node, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == StateReady {
		return p.real, true
	}
	return nil, false
}

// ensure triggers the load exactly once across any number of concurrent
// callers (via singleflight) and returns the resolved node.
func (p *Placeholder) ensure(ctx context.Context) (Node, error) {
	if real, ok := p.resolved(); ok {
		return real, nil
	}
	p.mu.RLock()
	if p.state == StateError {
		err := p.err
		p.mu.RUnlock()
		return nil, err
	}
	p.mu.RUnlock()

	v, err, _ := p.group.Do("load", func() (any, error) {
		if real, ok := p.resolved(); ok {
			return real, nil
		}
		p.mu.Lock()
		p.state = StateLoading
		p.mu.Unlock()

		real, loadErr := p.load(ctx)

		p.mu.Lock()
		defer p.mu.Unlock()
		if loadErr != nil {
			p.state = StateError
			p.err = loadErr
			return nil, loadErr
		}
		real.SetPath(p.path)
		p.real = real
		p.state = StateReady
		return real, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Node), nil
}

// State reports the current lazy-leaf state without triggering a load.
func (p *Placeholder) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}
