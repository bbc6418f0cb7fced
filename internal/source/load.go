package source

import (
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/cldmv/slothlet/node"
)

// Interpreter evaluates module source files and hands back the live
// reflect.Values behind their exports. It is the Go realization of "the
// host module system running the module's top level to hand back its
// namespace" (§4.2/§4.4): rather than native-compiling each file, it is
// interpreted with github.com/traefik/yaegi, so a directory of modules can
// be discovered and loaded purely at runtime.
//
// yaegi's interpreter is not safe for concurrent Eval calls, so Load holds
// the Interpreter's own mutex for the whole evaluation: concurrent Load
// calls on one Interpreter run one at a time. Instance keeps a single
// Interpreter for its lifetime and reuses it for AddAPI and Reload.
type Interpreter struct {
	mu sync.Mutex
	i  *interp.Interpreter
}

// NewInterpreter returns an Interpreter seeded with the Go standard
// library symbol table, so module source may import stdlib packages.
func NewInterpreter() *Interpreter {
	i := interp.New(interp.Options{})
	_ = i.Use(stdlib.Symbols)
	return &Interpreter{i: i}
}

// LoadedModule is the realized form of a Descriptor: the live Default value
// (nil if DefaultKind is DefaultNone) plus every named export, each already
// wrapped as a node.Node.
type LoadedModule struct {
	Default      node.Node
	DefaultIsObj bool // true if Default is a plain object/primitive, not callable
	Named        map[string]node.Node
}

// Load evaluates d's source and returns its realized exports.
func (in *Interpreter) Load(ctx context.Context, d *Descriptor) (*LoadedModule, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, err := in.i.Eval(d.source); err != nil {
		return nil, errors.Wrapf(err, "loading module %s", d.AbsolutePath)
	}

	lm := &LoadedModule{Named: map[string]node.Node{}}
	meta := func() *node.MetadataStore {
		return node.NewMetadataStore(d.FolderRelativePath, d.AbsolutePath, 0)
	}

	switch d.DefaultKind {
	case DefaultFunction, DefaultCallableWithProperties:
		ident := defaultIdent(d)
		fn, err := in.eval(d.PackageName + "." + ident)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving default of %s", d.AbsolutePath)
		}
		// Always realized as CallableWithProps, never a plain Func: R1/R2/R4
		// may need to attach named exports or addapi-style properties onto
		// this value after the fact, which a bare Func cannot hold.
		cwp := node.NewCallableWithProps(ident, fn, meta())
		if d.HasDefaultProps {
			props, err := in.eval(d.PackageName + ".DefaultProps")
			if err != nil {
				return nil, errors.Wrapf(err, "resolving DefaultProps of %s", d.AbsolutePath)
			}
			if props.Kind() == reflect.Map {
				for _, key := range props.MapKeys() {
					cwp.Set(key.String(), valueNode(key.String(), props.MapIndex(key), meta()))
				}
			}
		}
		lm.Default = cwp
	case DefaultObject, DefaultPrimitive:
		v, err := in.eval(d.PackageName + ".Default")
		if err != nil {
			return nil, errors.Wrapf(err, "resolving default of %s", d.AbsolutePath)
		}
		lm.Default = valueNode("Default", v, meta())
		lm.DefaultIsObj = true
	case DefaultSelfReferential:
		v, err := in.eval(d.PackageName + "." + d.SelfReferentialTarget)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving self-referential default of %s", d.AbsolutePath)
		}
		lm.Default = valueNode(d.SelfReferentialTarget, v, meta())
	case DefaultNone:
		// no default; named exports only
	}

	for _, ne := range d.NamedExports {
		v, err := in.eval(d.PackageName + "." + ne.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving named export %s of %s", ne.Name, d.AbsolutePath)
		}
		lm.Named[ne.Name] = valueNode(ne.Name, v, meta())
	}

	return lm, nil
}

func defaultIdent(d *Descriptor) string {
	if d.DefaultFuncName != "" {
		return d.DefaultFuncName
	}
	return "Default"
}

func (in *Interpreter) eval(expr string) (reflect.Value, error) {
	v, err := in.i.Eval(expr)
	if err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// valueNode wraps a reflect.Value as the right kind of node.Node depending
// on whether it is itself callable.
func valueNode(name string, v reflect.Value, meta *node.MetadataStore) node.Node {
	if v.IsValid() && v.Kind() == reflect.Func {
		return node.NewFunc(name, v, meta)
	}
	return node.NewValue(name, v, meta)
}
