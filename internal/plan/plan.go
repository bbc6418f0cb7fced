// Package plan implements the category analyzer: for one folder on disk it
// decides which of the six folder-shape rules (flatten-single-file,
// flatten-same-name, special-name, category-with-multiple-defaults,
// category-named-only, nested-object) governs how that folder's module
// files and sub-folders compose into a single node. Build walks the whole
// tree and returns the root Plan; internal/materialize consumes it to load
// descriptors and assemble the actual node.Node tree.
package plan

import (
	"path"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/cldmv/slothlet/internal/sanitize"
	"github.com/cldmv/slothlet/internal/source"
)

// Mode identifies which folder-shape rule governs a Plan node.
type Mode int

const (
	// ModeFlattenSingleFile is R1: the folder contains exactly one module
	// file and it shares the folder's sanitized name (at the root of a
	// Build, a lone module file is used whatever its name).
	ModeFlattenSingleFile Mode = iota
	// ModeFlattenFolderScoped is R2/R3: an own-named or addapi-named file
	// coexists with other siblings; its exports flatten onto the folder.
	ModeFlattenFolderScoped
	// ModeCategoryMultiDefault is R4: two or more siblings each contribute a
	// non-self-referential default under their own sanitized name.
	ModeCategoryMultiDefault
	// ModeCategoryNamedOnly is R5: siblings contribute their named exports
	// merged onto the folder, and a sibling with a default also contributes
	// that default under its own sanitized name.
	ModeCategoryNamedOnly
	// ModeNestedObject is R6: the fallback — one property per child.
	ModeNestedObject
)

func (m Mode) String() string {
	switch m {
	case ModeFlattenSingleFile:
		return "flattenSingleFile"
	case ModeFlattenFolderScoped:
		return "flattenFolderScoped"
	case ModeCategoryMultiDefault:
		return "categoryMultiDefault"
	case ModeCategoryNamedOnly:
		return "categoryNamedOnly"
	case ModeNestedObject:
		return "nestedObject"
	default:
		return "unknown"
	}
}

// ReservedOwnFile is the sanitized base name that triggers R3 (a sub-API
// entry file) regardless of the enclosing folder's own name.
const ReservedOwnFile = "addapi"

// Options configures Build.
type Options struct {
	Sanitize sanitize.Options
	// MaxDepth caps the folder depth Build descends to, counting the root
	// folder as depth 1 (so 2 visits the root's sub-folders but not theirs),
	// mirroring Config.APIDepth: 0 (the zero value) means unlimited. A folder at the
	// limit still contributes its own module files; its sub-folders are
	// simply not visited, so they are absent from Children rather than
	// appearing as empty nested objects.
	MaxDepth int
}

// Plan is one folder's build plan.
type Plan struct {
	FolderRelativePath string
	SanitizedName      string
	Mode               Mode

	// OwnFile is set for ModeFlattenSingleFile/ModeFlattenFolderScoped: the
	// descriptor whose exports flatten onto the folder itself.
	OwnFile *source.Descriptor

	// Siblings are every other module descriptor directly in this folder,
	// in the role implied by Mode (R2/R3 non-own siblings, R4/R5 category
	// contributors).
	Siblings []*source.Descriptor

	// Children are sub-folder plans, populated regardless of Mode — R1 and
	// R2 both attach sub-folders as further properties — except for a
	// folder at Options.MaxDepth, whose Children stay empty.
	Children []*Plan

	IsRoot bool
	// RootCallable is valid only when IsRoot: true if the composed root's
	// kind is Function or CallableWithProperties, per the root-level
	// transformation in §4.3.
	RootCallable bool
}

// Build walks dir (relative to fsys's root) and returns its build plan.
func Build(fsys afero.Fs, dir string, opts Options) (*Plan, error) {
	p, err := build(fsys, dir, "", 1, opts)
	if err != nil {
		return nil, err
	}
	p.IsRoot = true
	p.RootCallable = rootIsCallable(p)
	return p, nil
}

func build(fsys afero.Fs, rootDir, relPath string, depth int, opts Options) (*Plan, error) {
	absDir := rootDir
	folderBase := path.Base(rootDir)
	if relPath != "" {
		absDir = path.Join(rootDir, relPath)
		folderBase = path.Base(relPath)
	}

	entries, err := afero.ReadDir(fsys, absDir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %s", absDir)
	}

	sanitizedFolder, err := sanitize.Sanitize(folderBase, opts.Sanitize)
	if err != nil {
		return nil, errors.Wrapf(err, "sanitizing folder %s", absDir)
	}

	var descriptors []*source.Descriptor
	var subdirs []string
	for _, e := range entries {
		name := e.Name()
		if source.IgnoreFile(name) {
			continue
		}
		if e.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if !source.IsModuleFile(name) {
			continue
		}
		abs := path.Join(absDir, name)
		d, err := source.Analyze(fsys, relPath, abs, opts.Sanitize)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].AbsolutePath < descriptors[j].AbsolutePath })
	sort.Strings(subdirs)

	var children []*Plan
	if opts.MaxDepth <= 0 || depth < opts.MaxDepth {
		for _, sd := range subdirs {
			childRel := sd
			if relPath != "" {
				childRel = path.Join(relPath, sd)
			}
			cp, err := build(fsys, rootDir, childRel, depth+1, opts)
			if err != nil {
				return nil, err
			}
			children = append(children, cp)
		}
	}

	p := &Plan{
		FolderRelativePath: relPath,
		SanitizedName:      sanitizedFolder,
		Children:           children,
	}

	ownFile := findBySanitizedName(descriptors, sanitizedFolder)
	reservedFile := findBySanitizedName(descriptors, ReservedOwnFile)

	switch {
	// A lone module file is the folder's own file when it shares the
	// folder's name, and at the root of a Build no matter what it's named:
	// a mismatched root-level file such as "root-function.go" directly
	// under "api/" still becomes the root's own value.
	case len(descriptors) == 1 && (ownFile != nil || relPath == ""):
		p.Mode = ModeFlattenSingleFile
		p.OwnFile = descriptors[0]
	case ownFile != nil:
		p.Mode = ModeFlattenFolderScoped
		p.OwnFile = ownFile
		p.Siblings = without(descriptors, ownFile)
	case reservedFile != nil:
		p.Mode = ModeFlattenFolderScoped
		p.OwnFile = reservedFile
		p.Siblings = without(descriptors, reservedFile)
	case countNonSelfReferentialDefaults(descriptors) >= 2:
		p.Mode = ModeCategoryMultiDefault
		p.Siblings = descriptors
	case len(descriptors) > 0:
		p.Mode = ModeCategoryNamedOnly
		p.Siblings = descriptors
	default:
		p.Mode = ModeNestedObject
	}

	return p, nil
}

func findBySanitizedName(descriptors []*source.Descriptor, name string) *source.Descriptor {
	for _, d := range descriptors {
		if d.SanitizedName == name {
			return d
		}
	}
	return nil
}

func without(descriptors []*source.Descriptor, exclude *source.Descriptor) []*source.Descriptor {
	out := make([]*source.Descriptor, 0, len(descriptors)-1)
	for _, d := range descriptors {
		if d != exclude {
			out = append(out, d)
		}
	}
	return out
}

func countNonSelfReferentialDefaults(descriptors []*source.Descriptor) int {
	count := 0
	for _, d := range descriptors {
		if d.DefaultKind != source.DefaultNone && d.DefaultKind != source.DefaultSelfReferential {
			count++
		}
	}
	return count
}

// rootIsCallable reports whether the root plan's composed value is a
// function or callable-with-properties: only possible under
// ModeFlattenSingleFile/ModeFlattenFolderScoped, and only when the own file
// itself resolves to a callable default.
func rootIsCallable(p *Plan) bool {
	if p.OwnFile == nil {
		return false
	}
	switch p.OwnFile.DefaultKind {
	case source.DefaultFunction, source.DefaultCallableWithProperties:
		return true
	default:
		return false
	}
}
