// Package materialize turns a plan.Plan into a node.Node tree, either
// eagerly (every descriptor loaded up front) or lazily (each folder becomes
// a node.Placeholder that loads just its own shape on first touch, so
// laziness is granular per folder rather than cascading a full subtree
// load).
package materialize

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cldmv/slothlet/internal/plan"
	"github.com/cldmv/slothlet/internal/sanitize"
	"github.com/cldmv/slothlet/internal/source"
	"github.com/cldmv/slothlet/node"
)

// Loader evaluates a descriptor into its live exports. *source.Interpreter
// satisfies this.
type Loader interface {
	Load(ctx context.Context, d *source.Descriptor) (*source.LoadedModule, error)
}

// Eager depth-first loads every descriptor named by p and assembles the
// composed node tree, assigning Path on every node as it goes (the
// __slothletPath analogue, done up front to avoid hot-path mutation).
func Eager(ctx context.Context, ld Loader, p *plan.Plan, opts sanitize.Options) (node.Node, error) {
	return build(ctx, ld, p, opts, "")
}

// Lazy assembles the root's own shape eagerly (it must be known
// immediately) but wraps each sub-folder, at every depth, in a
// node.Placeholder whose loader assembles that folder's own shape on first
// access — its own sub-folders become further placeholders in turn.
func Lazy(ctx context.Context, ld Loader, p *plan.Plan, opts sanitize.Options) (node.Node, error) {
	return buildLazy(ctx, ld, p, opts, "")
}

func childPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func buildLazy(ctx context.Context, ld Loader, p *plan.Plan, opts sanitize.Options, path string) (node.Node, error) {
	return assemble(ctx, ld, p, opts, path, func(childPlan *plan.Plan, cp string) (node.Node, error) {
		return lazyChild(ld, childPlan, opts, cp), nil
	})
}

// lazyChild wraps childPlan in a placeholder whose loader assembles just
// that folder's own shape on demand.
func lazyChild(ld Loader, childPlan *plan.Plan, opts sanitize.Options, path string) node.Node {
	meta := node.NewMetadataStore(childPlan.FolderRelativePath, "", 0)
	p := node.NewPlaceholder(meta, func(ctx context.Context) (node.Node, error) {
		return buildLazy(ctx, ld, childPlan, opts, path)
	})
	p.SetPath(path)
	return p
}

func build(ctx context.Context, ld Loader, p *plan.Plan, opts sanitize.Options, path string) (node.Node, error) {
	return assemble(ctx, ld, p, opts, path, func(childPlan *plan.Plan, cp string) (node.Node, error) {
		return build(ctx, ld, childPlan, opts, cp)
	})
}

// assemble implements the shared R1-R6 shape logic; childBuilder decides
// whether sub-folders are realized eagerly or as lazy placeholders. Every
// node constructed has its Path assigned immediately (the __slothletPath
// analogue), never by a later tree walk, so lazy placeholders keep their
// path without being forced open.
func assemble(ctx context.Context, ld Loader, p *plan.Plan, opts sanitize.Options, path string, childBuilder func(*plan.Plan, string) (node.Node, error)) (node.Node, error) {
	var result node.Node

	switch p.Mode {
	case plan.ModeFlattenSingleFile, plan.ModeFlattenFolderScoped:
		own, err := loadAsNode(ctx, ld, p.OwnFile, path)
		if err != nil {
			return nil, err
		}
		result = own
		for _, sib := range p.Siblings {
			key, child, err := loadSibling(ctx, ld, sib, childPath(path, sib.SanitizedName))
			if err != nil {
				return nil, err
			}
			if err := setChild(result, key, child); err != nil {
				return nil, err
			}
		}

	case plan.ModeCategoryMultiDefault:
		obj := node.NewObject(node.NewMetadataStore(p.FolderRelativePath, "", 0))
		for _, sib := range p.Siblings {
			cp := childPath(path, sib.SanitizedName)
			lm, err := ld.Load(ctx, sib)
			if err != nil {
				return nil, errors.Wrapf(err, "loading %s", sib.AbsolutePath)
			}
			lm.Default.SetPath(cp)
			// Named exports of a multi-default sibling become sub-properties
			// of its default when the default is callable or an object (an
			// object default is first wrapped by ensureMutable); for a
			// primitive default they are attached alongside it on the
			// folder, per §4.3 R4.
			def := lm.Default
			target, targetPath := def, cp
			if sib.DefaultKind == source.DefaultPrimitive {
				target, targetPath = obj, path
			} else if len(lm.Named) > 0 {
				def = ensureMutable(def, cp, node.NewMetadataStore(sib.FolderRelativePath, sib.AbsolutePath, 0))
				target = def
			}
			if err := setChild(obj, sib.SanitizedName, def); err != nil {
				return nil, err
			}
			for name, child := range lm.Named {
				key := sanitize.Identifier(name)
				child.SetPath(childPath(targetPath, key))
				if err := setChild(target, key, child); err != nil {
					return nil, err
				}
			}
		}
		result = obj

	case plan.ModeCategoryNamedOnly:
		obj := node.NewObject(node.NewMetadataStore(p.FolderRelativePath, "", 0))
		for _, sib := range p.Siblings {
			lm, err := ld.Load(ctx, sib)
			if err != nil {
				return nil, errors.Wrapf(err, "loading %s", sib.AbsolutePath)
			}
			if lm.Default != nil {
				// A sibling's default, if any, always contributes itself under
				// its own sanitized name — whether or not it also has named
				// exports, which attach onto the folder below in their own
				// right rather than being treated as mutually exclusive with it.
				lm.Default.SetPath(childPath(path, sib.SanitizedName))
				if err := setChild(obj, sib.SanitizedName, lm.Default); err != nil {
					return nil, err
				}
			}
			for exportName, child := range lm.Named {
				key := preferredKey(exportName, child)
				child.SetPath(childPath(path, key))
				if err := setChild(obj, key, child); err != nil {
					return nil, err
				}
			}
		}
		result = obj

	case plan.ModeNestedObject:
		obj := node.NewObject(node.NewMetadataStore(p.FolderRelativePath, "", 0))
		for _, sib := range p.Siblings {
			key, child, err := loadSibling(ctx, ld, sib, childPath(path, sib.SanitizedName))
			if err != nil {
				return nil, err
			}
			if err := setChild(obj, key, child); err != nil {
				return nil, err
			}
		}
		result = obj

	default:
		return nil, errors.Errorf("unknown plan mode %v", p.Mode)
	}

	result.SetPath(path)

	// Sub-folders are independent of each other and of the siblings above,
	// so eager loads fan out across them: one goroutine per child plan, the
	// same pattern crank's xpkg push uses for independent per-image work.
	// For lazy mode childBuilder just allocates a placeholder, so the
	// parallelism is a no-op there but costs nothing either.
	childNodes := make([]node.Node, len(p.Children))
	g, _ := errgroup.WithContext(ctx)
	for i, childPlan := range p.Children {
		i, childPlan := i, childPlan
		cp := childPath(path, childPlan.SanitizedName)
		g.Go(func() error {
			n, err := childBuilder(childPlan, cp)
			if err != nil {
				return err
			}
			childNodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, childPlan := range p.Children {
		if err := setChild(result, childPlan.SanitizedName, childNodes[i]); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ensureMutable returns n if it can already hold properties (it is a
// node.MutableNode — an Object or CallableWithProps), or else wraps it in a
// fresh Object exposing the original value under the reserved "value" key.
// This triggers for any default that is not a CallableWithProps and that
// also has named exports: an object-literal or primitive default (both
// realized as a node.Value) or a self-referential one. Go has no way to
// hang extra fields off an arbitrary scalar the way a dynamically-typed
// default export could, so the value is demoted to a sibling property
// instead of discarding the named exports.
func ensureMutable(n node.Node, path string, meta *node.MetadataStore) node.Node {
	if _, ok := n.(node.MutableNode); ok {
		return n
	}
	wrapper := node.NewObject(meta)
	wrapper.SetPath(path)
	n.SetPath(childPath(path, "value"))
	wrapper.Set("value", n)
	return wrapper
}

// loadAsNode loads d and returns its composed value with its named exports
// attached (R1/R2 own-file flattening): if the default is a plain value
// with no room for properties, named exports attach onto a synthetic
// object wrapper so they remain reachable.
func loadAsNode(ctx context.Context, ld Loader, d *source.Descriptor, path string) (node.Node, error) {
	lm, err := ld.Load(ctx, d)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", d.AbsolutePath)
	}
	result := lm.Default
	if result == nil {
		result = node.NewObject(node.NewMetadataStore(d.FolderRelativePath, d.AbsolutePath, 0))
	}
	result.SetPath(path)
	if len(lm.Named) > 0 {
		result = ensureMutable(result, path, node.NewMetadataStore(d.FolderRelativePath, d.AbsolutePath, 0))
	}
	for name, child := range lm.Named {
		key := preferredKey(name, child)
		child.SetPath(childPath(path, key))
		if err := setChild(result, key, child); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// loadSibling loads d and resolves the property key it contributes under
// its enclosing folder: the sanitized filename (R2/R6 siblings use the
// filename, never function-name preference — only R2's *own-file* and R5
// contributions get function-name preference, see DESIGN.md).
func loadSibling(ctx context.Context, ld Loader, d *source.Descriptor, path string) (string, node.Node, error) {
	lm, err := ld.Load(ctx, d)
	if err != nil {
		return "", nil, errors.Wrapf(err, "loading %s", d.AbsolutePath)
	}
	result := lm.Default
	if result == nil {
		result = node.NewObject(node.NewMetadataStore(d.FolderRelativePath, d.AbsolutePath, 0))
	}
	result.SetPath(path)
	if len(lm.Named) > 0 {
		result = ensureMutable(result, path, node.NewMetadataStore(d.FolderRelativePath, d.AbsolutePath, 0))
	}
	// A sibling's own named exports nest under its own node, not the
	// folder, so function-name preference does not apply here — only to
	// named exports an ownFile/R5 contributor places directly on the
	// folder (see loadAsNode and the ModeCategoryNamedOnly branch above).
	for name, child := range lm.Named {
		key := sanitize.Identifier(name)
		child.SetPath(childPath(path, key))
		if err := setChild(result, key, child); err != nil {
			return "", nil, err
		}
	}
	return d.SanitizedName, result, nil
}

// preferredKey implements function-name preference for R2/R5 contributions:
// when exportName's realized node is a *node.Func whose internal identifier
// is a valid identifier, that identifier (case-adjusted to its external
// property form) wins over the raw export name.
func preferredKey(exportName string, n node.Node) string {
	if fn, ok := n.(*node.Func); ok && sanitize.IsValidIdentifier(fn.Name()) {
		return sanitize.Identifier(fn.Name())
	}
	return sanitize.Identifier(exportName)
}

func setChild(parent node.Node, key string, child node.Node) error {
	m, ok := parent.(node.MutableNode)
	if !ok {
		return errors.Wrapf(node.ErrNameCollision, "cannot attach %q: parent node is not mutable", key)
	}
	if _, exists := m.Get(key); exists {
		return errors.Wrapf(node.ErrNameCollision, "duplicate property %q", key)
	}
	m.Set(key, child)
	return nil
}
