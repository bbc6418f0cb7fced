package slothlet

import (
	"github.com/pkg/errors"

	"github.com/cldmv/slothlet/internal/ownership"
	"github.com/cldmv/slothlet/node"
)

// Sentinel error kinds, compared with errors.Is against whatever an
// internal/* package wraps with errors.Wrapf to preserve the offending
// path. Call-time errors from interpreted module code propagate unchanged;
// these cover the runtime's own failure modes (§7 of the distilled spec).
var (
	// ErrLoadError reports a module source read/parse/evaluate failure.
	ErrLoadError = errors.New("slothlet: load error")
	// ErrConfigError reports an invalid Config (e.g. ForceOverwrite without
	// HotReload).
	ErrConfigError = errors.New("slothlet: invalid configuration")
	// ErrLifecycleError reports a call made against an instance in the
	// wrong lifecycle state (e.g. any call after Shutdown).
	ErrLifecycleError = errors.New("slothlet: lifecycle error")

	// ErrNameCollision is node.ErrNameCollision, re-exported so callers who
	// only import the root package can errors.Is against it.
	ErrNameCollision = node.ErrNameCollision
	// ErrMetadataLocked is node.ErrMetadataLocked, re-exported for the same
	// reason.
	ErrMetadataLocked = node.ErrMetadataLocked
	// ErrOwnershipDenied is ownership.ErrOwnershipDenied, re-exported so an
	// AddAPI/Reload caller can errors.Is against it without importing the
	// internal package.
	ErrOwnershipDenied = ownership.ErrOwnershipDenied
)
