// Package slothlet turns a directory of .go module files into a single
// composite API value, matching the folder layout to its shape (flattened,
// categorized, or nested) and wiring every call through a context-threaded
// frame so module code can observe the instance's own context and
// reference data without goroutine-local storage.
package slothlet

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/ptr"

	"github.com/cldmv/slothlet/internal/sanitize"
)

// Mode selects whether an instance's module tree is loaded up front or on
// first touch.
type Mode int

const (
	// ModeLazy defers loading each folder until it is first read or called.
	ModeLazy Mode = iota
	// ModeEager loads the entire tree during New.
	ModeEager
)

func (m Mode) String() string {
	if m == ModeEager {
		return "eager"
	}
	return "lazy"
}

// APIMode selects how the root of the composed tree is exposed.
type APIMode int

const (
	// APIModeAuto exposes the root as callable when its shape allows it
	// (single callable default at the root) and as an object otherwise.
	APIModeAuto APIMode = iota
	// APIModeFunction requires a callable root, returning ErrConfigError
	// from New if the discovered shape is not callable.
	APIModeFunction
	// APIModeObject always exposes the root as an object, even when its
	// shape would otherwise flatten to a single callable.
	APIModeObject
)

// RuntimeKind selects how the active Frame is carried across a call.
type RuntimeKind int

const (
	// RuntimeScopedStorage threads the Frame explicitly through
	// context.Context (Go has no ambient async-local storage to fall back
	// on), with Self fixed to the root that was current when API() ran.
	RuntimeScopedStorage RuntimeKind = iota
	// RuntimeLiveInstance additionally keeps Self pointed at the live,
	// still-mutable instance root rather than a snapshot, so a Reload that
	// happens mid-call is observed by any code still holding the frame.
	RuntimeLiveInstance
)

// Hook intercepts calls to every node whose path matches Pattern (a
// gobwas/glob pattern, e.g. "math.*" or "**"). Before runs prior to the
// underlying call and may replace ctx (e.g. to layer an overlay); After
// always runs, even when the call returned an error.
type Hook struct {
	Pattern string
	Before  func(ctx context.Context, path string) context.Context
	After   func(ctx context.Context, path string, err error)
}

// Config configures a new Instance. Dir is the only required field; every
// other field has a documented zero-value default.
type Config struct {
	Dir      string
	Mode     Mode
	APIDepth *int
	APIMode  APIMode
	Runtime  RuntimeKind
	// AllowAPIOverwrite permits AddAPI to replace an already-claimed path.
	// nil (the zero value) defaults to true, matching spec.md's "default
	// true" — a plain bool could not distinguish "left unset" from an
	// explicit false, the same reason APIDepth above is a pointer.
	AllowAPIOverwrite *bool
	HotReload         bool
	Context           map[string]any
	Reference         map[string]any
	SanitizerRules    sanitize.Options
	Hooks             []Hook
	WatchForReload    bool
	Logger            *logrus.Logger
}

func (c Config) validate() error {
	if c.Dir == "" {
		return errors.Wrap(ErrConfigError, "Dir is required")
	}
	if c.WatchForReload && !c.HotReload {
		return errors.Wrap(ErrConfigError, "WatchForReload requires HotReload")
	}
	return nil
}

// allowAPIOverwrite resolves Config.AllowAPIOverwrite's documented default.
func (c Config) allowAPIOverwrite() bool {
	return ptr.Deref(c.AllowAPIOverwrite, true)
}

// New discovers cfg.Dir's module tree, materializes it per cfg.Mode, and
// returns the running Instance. The returned error wraps ErrConfigError for
// a malformed Config or ErrLoadError for a discovery/materialization
// failure.
func New(ctx context.Context, cfg Config) (*Instance, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	return newInstance(ctx, cfg)
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
