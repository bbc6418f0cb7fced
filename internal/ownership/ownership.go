// Package ownership tracks which call to AddAPI is responsible for which
// API path, so RemoveAPI/Reload can refuse to touch a path they did not
// load and AddAPI can enforce the configured overwrite policy.
package ownership

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrOwnershipDenied is returned when an AddAPI call would overwrite a path
// already claimed by a different module and overwriting is not permitted.
var ErrOwnershipDenied = errors.New("ownership denied")

// Entry records one successful AddAPI claim.
type Entry struct {
	APIPath         string
	ModuleID        uuid.UUID
	SourceDirectory string
	Metadata        map[string]any
	LoadedAt        time.Time
}

// Table is the per-instance registry of API path ownership.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewTable returns an empty ownership table.
func NewTable() *Table {
	return &Table{entries: map[string]*Entry{}}
}

// Claim records path as owned by a newly loaded module. If path is already
// claimed, the claim succeeds only when allowOverwrite is true; the prior
// entry is replaced and its ModuleID discarded.
func (t *Table) Claim(path, sourceDirectory string, metadata map[string]any, allowOverwrite bool) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[path]; exists && !allowOverwrite {
		return nil, errors.Wrapf(ErrOwnershipDenied, "path %q already owned", path)
	}
	e := &Entry{
		APIPath:         path,
		ModuleID:        uuid.New(),
		SourceDirectory: sourceDirectory,
		Metadata:        metadata,
		LoadedAt:        time.Now(),
	}
	t.entries[path] = e
	return e, nil
}

// Release removes path's ownership entry, used by RemoveAPI. Reports
// whether a claim existed.
func (t *Table) Release(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[path]; !ok {
		return false
	}
	delete(t.entries, path)
	return true
}

// Lookup returns the ownership entry for path, if any.
func (t *Table) Lookup(path string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[path]
	return e, ok
}

// List returns every current ownership entry, sorted by APIPath.
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].APIPath > entries[j].APIPath; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}
