// Package source implements the module source analyzer (classifying a
// file's exports without evaluating it, see SPEC_FULL.md §4.2) and the
// loader that actually evaluates a module to obtain its values (§4.4).
package source

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/cldmv/slothlet/internal/sanitize"
)

// DefaultKind classifies the module's Default identifier, the Go analogue
// of a JS module's default export kind.
type DefaultKind int

const (
	DefaultNone DefaultKind = iota
	DefaultFunction
	DefaultCallableWithProperties
	DefaultObject
	DefaultPrimitive
	DefaultSelfReferential
)

// NamedExport describes one exported (capitalized) top-level identifier
// other than Default/DefaultProps.
type NamedExport struct {
	Name   string
	IsFunc bool
}

// Descriptor is the result of statically analyzing one module file: what
// its Default identifier is, and what else it exports. It does not contain
// the live values — those only exist once Load evaluates the file.
type Descriptor struct {
	AbsolutePath       string
	FolderRelativePath string
	BaseName           string
	SanitizedName      string
	PackageName        string

	DefaultKind           DefaultKind
	SelfReferentialTarget string // set iff DefaultKind == DefaultSelfReferential
	DefaultFuncName       string // set when Default aliases a distinct top-level func identifier (function-name preference, §4.3)
	HasDefaultProps       bool   // a package-level DefaultProps map accompanies a func Default
	NamedExports          []NamedExport
	HasMixedExports       bool

	source string // raw file content, reused by Load so the file is parsed once
}

// IgnoreFile reports whether baseName should be skipped during directory
// enumeration: dotfiles, underscore-prefixed files, and the reserved
// __slothlet_ prefix (§6.5).
func IgnoreFile(baseName string) bool {
	return strings.HasPrefix(baseName, ".") ||
		strings.HasPrefix(baseName, "_") ||
		strings.HasPrefix(baseName, "__slothlet_")
}

// IsModuleFile reports whether baseName has the recognized module
// extension.
func IsModuleFile(baseName string) bool {
	return strings.HasSuffix(baseName, ".go") && !strings.HasSuffix(baseName, "_test.go")
}

// Analyze reads absPath from fsys and classifies its exports, without
// evaluating any of the file's top-level declarations.
func Analyze(fsys afero.Fs, folderRelativePath, absPath string, opts sanitize.Options) (*Descriptor, error) {
	raw, err := afero.ReadFile(fsys, absPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", absPath)
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, absPath, raw, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", absPath)
	}

	base := baseNameNoExt(absPath)
	sanitized, err := sanitize.Sanitize(base, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "sanitizing %s", absPath)
	}

	d := &Descriptor{
		AbsolutePath:       absPath,
		FolderRelativePath: folderRelativePath,
		BaseName:           base,
		SanitizedName:      sanitized,
		PackageName:        f.Name.Name,
		source:             string(raw),
	}

	var defaultFuncDecl *ast.FuncDecl
	var defaultVarIdent string
	var defaultVarExpr ast.Expr
	named := map[string]bool{}    // name -> isFunc, exported top-level identifiers only
	allFuncs := map[string]bool{} // every top-level func name, exported or not

	for _, decl := range f.Decls {
		switch d2 := decl.(type) {
		case *ast.FuncDecl:
			if d2.Recv != nil {
				continue // methods are not module-level exports
			}
			name := d2.Name.Name
			allFuncs[name] = true
			if name == "Default" {
				defaultFuncDecl = d2
				continue
			}
			if ast.IsExported(name) {
				named[name] = true
			}
		case *ast.GenDecl:
			for _, spec := range d2.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for i, nameIdent := range vs.Names {
					name := nameIdent.Name
					switch {
					case name == "Default":
						if i < len(vs.Values) {
							defaultVarExpr = vs.Values[i]
							if id, ok := defaultVarExpr.(*ast.Ident); ok {
								defaultVarIdent = id.Name
							}
						}
					case name == "DefaultProps":
						d.HasDefaultProps = true
					case ast.IsExported(name):
						if _, exists := named[name]; !exists {
							named[name] = false
						}
					}
				}
			}
		}
	}

	for name, isFunc := range named {
		d.NamedExports = append(d.NamedExports, NamedExport{Name: name, IsFunc: isFunc})
	}

	switch {
	case defaultFuncDecl != nil:
		if d.HasDefaultProps {
			d.DefaultKind = DefaultCallableWithProperties
		} else {
			d.DefaultKind = DefaultFunction
		}
	case isAmongNamed(defaultVarIdent, d.NamedExports):
		d.DefaultKind = DefaultSelfReferential
		d.SelfReferentialTarget = defaultVarIdent
	case defaultVarIdent != "" && allFuncs[defaultVarIdent] && sanitize.IsValidIdentifier(defaultVarIdent):
		// Default aliases a distinct top-level function (possibly
		// unexported): function-name preference applies, see §4.3.
		d.DefaultKind = DefaultFunction
		d.DefaultFuncName = defaultVarIdent
	case defaultVarExpr != nil:
		switch defaultVarExpr.(type) {
		case *ast.FuncLit:
			if d.HasDefaultProps {
				d.DefaultKind = DefaultCallableWithProperties
			} else {
				d.DefaultKind = DefaultFunction
			}
		case *ast.CompositeLit:
			d.DefaultKind = DefaultObject
		default:
			d.DefaultKind = DefaultPrimitive
		}
	default:
		d.DefaultKind = DefaultNone
	}

	if d.DefaultKind != DefaultNone && d.DefaultKind != DefaultSelfReferential && len(d.NamedExports) > 0 {
		d.HasMixedExports = true
	}

	return d, nil
}

func isAmongNamed(name string, named []NamedExport) bool {
	if name == "" {
		return false
	}
	for _, n := range named {
		if n.Name == name {
			return true
		}
	}
	return false
}

func baseNameNoExt(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, "/\\"); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".go")
	return base
}
