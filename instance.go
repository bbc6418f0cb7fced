package slothlet

import (
	"context"
	"io"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/radovskyb/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/ptr"

	"github.com/cldmv/slothlet/internal/materialize"
	"github.com/cldmv/slothlet/internal/ownership"
	"github.com/cldmv/slothlet/internal/plan"
	"github.com/cldmv/slothlet/internal/printer"
	"github.com/cldmv/slothlet/internal/sanitize"
	"github.com/cldmv/slothlet/internal/source"
	"github.com/cldmv/slothlet/node"
)

// Selector names an API path for RemoveAPI/Reload, e.g. "math.advanced".
type Selector = string

type compiledHook struct {
	pattern glob.Glob
	hook    Hook
}

// Instance is the running, externally visible handle to one materialized
// module tree: the private record of id/rootDirectory/mode/runtimeKind/
// configSnapshot/contextData/referenceData/hooks/hotReloadState/
// ownershipTable from §2, plus the management methods that
// mutate it. Callers keep *Instance, not the composite node.Node, because
// Go has no dynamic property bag on an arbitrary function value for
// Shutdown/AddAPI/RemoveAPI/Reload to live on (§6.3).
type Instance struct {
	mu sync.RWMutex

	id      uuid.UUID
	fsys    afero.Fs
	rootDir string
	cfg     Config

	contextData   map[string]any
	referenceData map[string]any
	hooks         []compiledHook

	loader       *source.Interpreter
	sanitizeOpts sanitize.Options

	root    node.Node // live, mutable materialized tree
	hotGen  int       // bumped on every Reload, surfaced for diagnostics only
	logger  *logrus.Logger
	ownTbl  *ownership.Table
	emitter []*Emitter

	watch     *watcher.Watcher
	watchDone chan struct{}

	shutdown bool
}

func newInstance(ctx context.Context, cfg Config) (*Instance, error) {
	fsys := afero.NewOsFs()

	p, err := plan.Build(fsys, cfg.Dir, plan.Options{Sanitize: cfg.SanitizerRules, MaxDepth: ptr.Deref(cfg.APIDepth, 0)})
	if err != nil {
		return nil, errors.Wrap(ErrLoadError, err.Error())
	}
	if cfg.APIMode == APIModeFunction && !p.RootCallable {
		return nil, errors.Wrap(ErrConfigError, "APIModeFunction requires a callable root shape")
	}

	loader := source.NewInterpreter()
	var root node.Node
	if cfg.Mode == ModeEager {
		root, err = materialize.Eager(ctx, loader, p, cfg.SanitizerRules)
	} else {
		root, err = materialize.Lazy(ctx, loader, p, cfg.SanitizerRules)
	}
	if err != nil {
		return nil, errors.Wrap(ErrLoadError, err.Error())
	}
	if cfg.APIMode == APIModeObject {
		root = forceObjectShape(root)
	}

	referenceData := map[string]any{}
	if cfg.Reference != nil {
		if err := mergo.Merge(&referenceData, cfg.Reference); err != nil {
			return nil, errors.Wrap(ErrConfigError, err.Error())
		}
	}
	contextData := map[string]any{}
	if cfg.Context != nil {
		if err := mergo.Merge(&contextData, cfg.Context); err != nil {
			return nil, errors.Wrap(ErrConfigError, err.Error())
		}
	}

	compiled := make([]compiledHook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		g, err := glob.Compile(h.Pattern, '.')
		if err != nil {
			return nil, errors.Wrapf(ErrConfigError, "invalid hook pattern %q: %v", h.Pattern, err)
		}
		compiled = append(compiled, compiledHook{pattern: g, hook: h})
	}

	inst := &Instance{
		id:            uuid.New(),
		fsys:          fsys,
		rootDir:       cfg.Dir,
		cfg:           cfg,
		contextData:   contextData,
		referenceData: referenceData,
		hooks:         compiled,
		loader:        loader,
		sanitizeOpts:  cfg.SanitizerRules,
		root:          root,
		logger:        cfg.Logger,
		ownTbl:        ownership.NewTable(),
	}

	if cfg.WatchForReload {
		if err := inst.startWatch(); err != nil {
			return nil, errors.Wrap(ErrLifecycleError, err.Error())
		}
	}

	return inst, nil
}

// forceObjectShape wraps a callable root so it is always read as an object,
// demoting the callable itself to the reserved "value" key — the root-level
// analogue of internal/materialize's ensureMutable, applied when APIMode
// explicitly overrides the natural shape.
func forceObjectShape(root node.Node) node.Node {
	if root.Kind() == node.KindObject {
		return root
	}
	wrapper := node.NewObject(root.Metadata())
	wrapper.SetPath(root.Path())
	wrapper.Set("value", root)
	return wrapper
}

// API returns the current composite node, bound to this instance's frame
// and hooks. Its shape reflects every AddAPI/RemoveAPI/Reload applied so
// far — call API() again after a Reload rather than caching the result
// across one.
func (inst *Instance) API() node.Node {
	inst.mu.RLock()
	root := inst.root
	ctxData := inst.contextData
	refData := inst.referenceData
	runtime := inst.cfg.Runtime
	inst.mu.RUnlock()

	var self node.Node = root
	if runtime == RuntimeLiveInstance {
		self = &liveSelf{inst: inst}
	}
	return &hookedNode{Node: Wrap(self, ctxData, refData, root), inst: inst}
}

// liveSelf is Self(ctx)'s value under RuntimeLiveInstance: rather than the
// root node.Node pinned at the moment the call frame was built, it
// indirects through the instance on every access, so a Reload that lands
// mid-call is observed by code still holding that frame — the behavior
// ScopedStorage intentionally does not provide, since it freezes self to
// whatever root was current when Wrap ran.
type liveSelf struct{ inst *Instance }

func (s *liveSelf) current() node.Node {
	s.inst.mu.RLock()
	defer s.inst.mu.RUnlock()
	return s.inst.root
}

func (s *liveSelf) Kind() node.Kind               { return s.current().Kind() }
func (s *liveSelf) Path() string                  { return s.current().Path() }
func (s *liveSelf) SetPath(string)                {}
func (s *liveSelf) Metadata() *node.MetadataStore { return s.current().Metadata() }
func (s *liveSelf) Keys() []string                { return s.current().Keys() }
func (s *liveSelf) Get(name string) (node.Node, bool) { return s.current().Get(name) }

// ID returns the instance's opaque identifier, the primary key under which
// its frame data would be keyed if the runtime ever needed a registry
// lookup rather than a ctx-carried pointer.
func (inst *Instance) ID() string {
	return inst.id.String()
}

// NewEmitter returns a pub/sub Emitter owned by this instance; it is closed
// automatically on Shutdown.
func (inst *Instance) NewEmitter() *Emitter {
	e := NewEmitter()
	inst.mu.Lock()
	inst.emitter = append(inst.emitter, e)
	inst.mu.Unlock()
	return e
}

// addAPIOptions holds the per-call overrides ForceOverwrite sets.
type addAPIOptions struct {
	forceOverwrite bool
}

// AddAPIOption configures one AddAPI call.
type AddAPIOption func(*addAPIOptions)

// ForceOverwrite permits this AddAPI call to replace an existing claim on
// path even when Config.AllowAPIOverwrite is false. It requires
// Config.HotReload, since a forced replacement is only safe when the
// instance is prepared to swap live nodes.
func ForceOverwrite() AddAPIOption {
	return func(o *addAPIOptions) { o.forceOverwrite = true }
}

// AddAPI loads sourceDirectory as its own module tree and attaches it at
// path (a dotted property path under the root, e.g. "math.advanced"),
// claiming ownership of path so a later RemoveAPI/Reload can identify the
// call responsible for it. metadata is merged onto the attached node's
// MetadataStore (write-once: a key already present from discovery is left
// untouched).
func (inst *Instance) AddAPI(path string, sourceDirectory string, metadata map[string]any, opts ...AddAPIOption) (node.Node, error) {
	var o addAPIOptions
	for _, opt := range opts {
		opt(&o)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.shutdown {
		return nil, errors.Wrap(ErrLifecycleError, "instance is shut down")
	}
	allowOverwrite := inst.cfg.allowAPIOverwrite()
	if o.forceOverwrite {
		if !inst.cfg.HotReload {
			return nil, errors.Wrap(ErrConfigError, "ForceOverwrite requires Config.HotReload")
		}
		allowOverwrite = true
	}

	p, err := plan.Build(inst.fsys, sourceDirectory, plan.Options{Sanitize: inst.sanitizeOpts, MaxDepth: ptr.Deref(inst.cfg.APIDepth, 0)})
	if err != nil {
		return nil, errors.Wrap(ErrLoadError, err.Error())
	}
	child, err := materialize.Eager(context.Background(), inst.loader, p, inst.sanitizeOpts)
	if err != nil {
		return nil, errors.Wrap(ErrLoadError, err.Error())
	}

	if _, err := inst.ownTbl.Claim(path, sourceDirectory, metadata, allowOverwrite); err != nil {
		return nil, err
	}
	for k, v := range metadata {
		_ = child.Metadata().Set(k, v)
	}
	child.SetPath(path)
	if err := setAtPath(inst.root, path, child); err != nil {
		inst.ownTbl.Release(path)
		return nil, err
	}
	return child, nil
}

// RemoveAPI detaches the node at path and releases its ownership claim.
// Returns ErrOwnershipDenied if path was never claimed via AddAPI.
func (inst *Instance) RemoveAPI(selector Selector) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.shutdown {
		return errors.Wrap(ErrLifecycleError, "instance is shut down")
	}
	if _, ok := inst.ownTbl.Lookup(selector); !ok {
		return errors.Wrapf(ErrOwnershipDenied, "path %q was not added via AddAPI", selector)
	}
	if err := deleteAtPath(inst.root, selector); err != nil {
		return err
	}
	inst.ownTbl.Release(selector)
	return nil
}

// Reload re-runs discovery and materialization for path (an ownership entry
// previously created by AddAPI, or "" for the instance's own root
// directory) and applies the fresh result. For "" the existing root's own
// properties are overwritten in place rather than the root itself being
// replaced, so a node.Node obtained from an earlier API() call keeps
// observing the same object, now with reloaded content. Requires
// Config.HotReload.
func (inst *Instance) Reload(path string) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.shutdown {
		return errors.Wrap(ErrLifecycleError, "instance is shut down")
	}
	if !inst.cfg.HotReload {
		return errors.Wrap(ErrConfigError, "Reload requires Config.HotReload")
	}

	sourceDir := inst.rootDir
	var metadata map[string]any
	if path != "" {
		entry, ok := inst.ownTbl.Lookup(path)
		if !ok {
			return errors.Wrapf(ErrOwnershipDenied, "path %q was not added via AddAPI", path)
		}
		sourceDir = entry.SourceDirectory
		metadata = entry.Metadata
	}

	p, err := plan.Build(inst.fsys, sourceDir, plan.Options{Sanitize: inst.sanitizeOpts, MaxDepth: ptr.Deref(inst.cfg.APIDepth, 0)})
	if err != nil {
		return errors.Wrap(ErrLoadError, err.Error())
	}
	fresh, err := materialize.Eager(context.Background(), inst.loader, p, inst.sanitizeOpts)
	if err != nil {
		return errors.Wrap(ErrLoadError, err.Error())
	}

	if path == "" {
		fresh.SetPath("")
		if err := overwriteRootInPlace(inst.root, fresh); err != nil {
			return err
		}
		inst.hotGen++
		return nil
	}
	for k, v := range metadata {
		_ = fresh.Metadata().Set(k, v)
	}
	fresh.SetPath(path)
	if err := replaceAtPath(inst.root, path, fresh); err != nil {
		return err
	}
	inst.hotGen++
	return nil
}

// Shutdown releases the instance's background resources (the hot-reload
// watcher, every Emitter it created). It is idempotent: calling it more
// than once is a no-op after the first call.
func (inst *Instance) Shutdown(ctx context.Context) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.shutdown {
		return nil
	}
	inst.shutdown = true
	if inst.watch != nil {
		inst.watch.Close()
		<-inst.watchDone
	}
	for _, e := range inst.emitter {
		e.Close()
	}
	inst.emitter = nil
	return nil
}

// DescribeEntry is one row of Describe()'s flattened tree view.
type DescribeEntry struct {
	Path         string
	Kind         string
	SourceFolder string
	SourceFile   string
	Metadata     node.Fields
}

// Describe walks the currently materialized tree (without forcing any
// unresolved placeholder open) and returns one entry per node reached.
func (inst *Instance) Describe() []DescribeEntry {
	inst.mu.RLock()
	root := inst.root
	inst.mu.RUnlock()

	var out []DescribeEntry
	var walk func(n node.Node)
	walk = func(n node.Node) {
		if n == nil {
			return
		}
		fields := n.Metadata().Snapshot()
		out = append(out, DescribeEntry{
			Path:         n.Path(),
			Kind:         n.Kind().String(),
			SourceFolder: stringField(fields, "sourceFolder"),
			SourceFile:   stringField(fields, "sourceFile"),
			Metadata:     fields,
		})
		for _, k := range n.Keys() {
			if child, ok := n.Get(k); ok {
				walk(child)
			}
		}
	}
	walk(root)
	return out
}

// DescribeTable renders Describe() as a human-readable table to w,
// repurposing the resource-table printer pattern for API-path/kind/source
// rows instead of Kind/Name/Namespace rows.
func (inst *Instance) DescribeTable(w io.Writer) {
	entries := inst.Describe()
	rows := make([]printer.Row, len(entries))
	for i, e := range entries {
		src := e.SourceFile
		if src == "" {
			src = e.SourceFolder
		}
		rows[i] = printer.Row{Path: e.Path, Kind: e.Kind, Source: src}
	}
	printer.RenderDescribe(w, rows)
}

func stringField(f node.Fields, key string) string {
	if v, ok := f[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (inst *Instance) startWatch() error {
	w := watcher.New()
	w.SetMaxEvents(1)
	w.FilterOps(watcher.Write, watcher.Create, watcher.Remove, watcher.Rename, watcher.Move)
	if err := w.AddRecursive(inst.rootDir); err != nil {
		return err
	}
	inst.watch = w
	inst.watchDone = make(chan struct{})

	go func() {
		defer close(inst.watchDone)
		for {
			select {
			case <-w.Event:
				if err := inst.Reload(""); err != nil {
					inst.logger.WithError(err).Warn("slothlet: hot reload failed")
				}
			case err := <-w.Error:
				inst.logger.WithError(err).Warn("slothlet: watcher error")
			case <-w.Closed:
				return
			}
		}
	}()
	go func() {
		if err := w.Start(200 * time.Millisecond); err != nil {
			inst.logger.WithError(err).Warn("slothlet: watcher start failed")
		}
	}()
	return nil
}

// hookedNode layers pattern-based call interception over a frame-bound
// node: every Call matching a compiled Hook's glob pattern against the
// node's own path runs that hook's Before ahead of (and After after) the
// underlying call, regardless of which node in the tree was invoked.
type hookedNode struct {
	node.Node
	inst *Instance
}

func (h *hookedNode) Call(ctx context.Context, args ...reflect.Value) ([]reflect.Value, error) {
	c, ok := h.Node.(node.Callable)
	if !ok {
		return nil, errors.Errorf("node at %q is not callable", h.Node.Path())
	}
	p := h.Node.Path()
	for _, ch := range h.inst.hooks {
		if ch.hook.Before != nil && ch.pattern.Match(p) {
			ctx = ch.hook.Before(ctx, p)
		}
	}
	out, err := c.Call(ctx, args...)
	for _, ch := range h.inst.hooks {
		if ch.hook.After != nil && ch.pattern.Match(p) {
			ch.hook.After(ctx, p, err)
		}
	}
	return out, err
}

func (h *hookedNode) Get(name string) (node.Node, bool) {
	child, ok := h.Node.Get(name)
	if !ok {
		return nil, false
	}
	return &hookedNode{Node: child, inst: h.inst}, true
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

func setAtPath(root node.Node, dotted string, child node.Node) error {
	segs := splitPath(dotted)
	if len(segs) == 0 {
		return errors.Wrap(ErrConfigError, "AddAPI path must not be empty")
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		if !ok {
			m, ok := cur.(node.MutableNode)
			if !ok {
				return errors.Wrapf(ErrNameCollision, "cannot create %q under a non-object node", seg)
			}
			next = node.NewObject(cur.Metadata())
			next.SetPath(path.Join(cur.Path(), seg))
			m.Set(seg, next)
		}
		cur = next
	}
	m, ok := cur.(node.MutableNode)
	if !ok {
		return errors.Wrapf(ErrNameCollision, "cannot attach %q: parent node is not mutable", segs[len(segs)-1])
	}
	m.Set(segs[len(segs)-1], child)
	return nil
}

func deleteAtPath(root node.Node, dotted string) error {
	segs := splitPath(dotted)
	if len(segs) == 0 {
		return errors.Wrap(ErrConfigError, "RemoveAPI path must not be empty")
	}
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Get(seg)
		if !ok {
			return errors.Wrapf(ErrOwnershipDenied, "path segment %q not found", seg)
		}
		cur = next
	}
	d, ok := cur.(interface{ Delete(name string) })
	if !ok {
		return errors.Wrapf(ErrOwnershipDenied, "path %q is not a removable property", dotted)
	}
	d.Delete(segs[len(segs)-1])
	return nil
}

func replaceAtPath(root node.Node, dotted string, fresh node.Node) error {
	if err := deleteAtPath(root, dotted); err != nil {
		return err
	}
	return setAtPath(root, dotted, fresh)
}

// callableSetter and callableGetter let overwriteRootInPlace adopt a freshly
// loaded root's callable body without replacing the root node's own pointer,
// mirroring node.Func/node.CallableWithProps's SetCallable/Fn pair.
type callableSetter interface{ SetCallable(reflect.Value) }
type callableGetter interface{ Fn() reflect.Value }

// overwriteRootInPlace adopts fresh's own properties (and, when both sides
// are the same callable kind, its callable body) onto the existing root
// instead of replacing inst.root's pointer — the root has no parent object
// whose child slot Reload's sub-path branch could swap via replaceAtPath, so
// the identity of the outer API value returned by a prior API() call can
// only be preserved by mutating it directly.
func overwriteRootInPlace(root, fresh node.Node) error {
	deleter, canDelete := root.(interface{ Delete(name string) })
	if canDelete {
		for _, k := range root.Keys() {
			if _, stillPresent := fresh.Get(k); !stillPresent {
				deleter.Delete(k)
			}
		}
	}

	keys := fresh.Keys()
	if len(keys) > 0 {
		m, ok := root.(node.MutableNode)
		if !ok {
			return errors.Wrap(ErrLoadError, "reloaded root has properties but the existing root is not mutable")
		}
		for _, k := range keys {
			child, _ := fresh.Get(k)
			m.Set(k, child)
		}
	}

	if setter, ok := root.(callableSetter); ok {
		if getter, ok := fresh.(callableGetter); ok {
			setter.SetCallable(getter.Fn())
		}
	}
	return nil
}
