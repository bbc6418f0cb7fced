package slothlet

import (
	"context"
	"strings"

	"github.com/cldmv/slothlet/node"
)

// Metadata is the introspection namespace: every exposed node carries a
// MetadataStore (source location plus whatever AddAPI attached), and these
// three helpers are the only supported ways to read it back out.
var Metadata metadataAPI

type metadataAPI struct{}

// Get walks root by its dotted path ("math.add") and returns the fields
// attached to the node found there. A path that resolves through a
// placeholder triggers its load, same as Node.Get would.
func (metadataAPI) Get(root node.Node, path string) (node.Fields, bool) {
	n := root
	if path != "" {
		for _, seg := range strings.Split(path, ".") {
			if n == nil {
				return nil, false
			}
			child, ok := n.Get(seg)
			if !ok {
				return nil, false
			}
			n = child
		}
	}
	if n == nil {
		return nil, false
	}
	return n.Metadata().Snapshot(), true
}

// Self returns the metadata of the function currently executing on ctx's
// call chain — the innermost frame, depth 0.
func (metadataAPI) Self(ctx context.Context) (node.Fields, bool) {
	meta, ok := callerMetadataAt(ctx, 0)
	if !ok {
		return nil, false
	}
	return meta.Snapshot(), true
}

// Caller returns the metadata of whichever function called the one
// currently executing — depth 1, one frame up from Self.
func (metadataAPI) Caller(ctx context.Context) (node.Fields, bool) {
	meta, ok := callerMetadataAt(ctx, 1)
	if !ok {
		return nil, false
	}
	return meta.Snapshot(), true
}
