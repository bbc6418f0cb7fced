package node

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrMetadataLocked is returned when code attempts to overwrite a metadata
// field that has already been set. Existing fields are frozen; new fields
// may still be added (and then become frozen themselves).
var ErrMetadataLocked = errors.New("metadata field is locked")

// Fields is a read-only snapshot of a MetadataStore.
type Fields map[string]any

// MetadataStore backs the metadata attached to every exposed node. Each
// field may be set exactly once; a later attempt to assign the same key a
// different value fails with ErrMetadataLocked instead of silently
// succeeding (re-assigning the value already stored is a no-op), so callers
// can tell a no-op write from a genuine conflict.
type MetadataStore struct {
	mu     sync.RWMutex
	fields map[string]any
}

// NewMetadataStore returns an empty store seeded with the source location
// fields every node carries (sourceFolder, sourceFile, sourceLine).
func NewMetadataStore(sourceFolder, sourceFile string, sourceLine int) *MetadataStore {
	s := &MetadataStore{fields: map[string]any{}}
	// Seed fields are set directly; Set() is reserved for user-supplied data
	// so a double-seed during tests doesn't need special-casing.
	s.fields["sourceFolder"] = sourceFolder
	s.fields["sourceFile"] = sourceFile
	s.fields["sourceLine"] = sourceLine
	return s
}

// Set assigns a field. Setting an already-present key with the same value
// is a no-op; setting it with a different value returns ErrMetadataLocked.
func (s *MetadataStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fields[key]; ok {
		if existing == value {
			return nil
		}
		return errors.Wrapf(ErrMetadataLocked, "field %q", key)
	}
	s.fields[key] = value
	return nil
}

// Get returns one field and whether it was present.
func (s *MetadataStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[key]
	return v, ok
}

// Snapshot returns a shallow copy of every field currently set.
func (s *MetadataStore) Snapshot() Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Fields, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}
