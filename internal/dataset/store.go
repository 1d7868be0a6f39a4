// Package dataset holds the per (kind × scope) cache of the most recent
// analysis datasets along with the month-selection clamping rule.
package dataset

import (
	"log"
	"sync"

	"geoanalysis-desktop/internal/analysis"
)

type slotKey struct {
	kind  analysis.Kind
	scope analysis.Scope
}

// Store keeps at most one dataset per (kind, scope) pair. Datasets are
// immutable and replaced wholesale; fetching is lazy and driven by the
// caller, only the currently selected kind is ever requested.
type Store struct {
	mu    sync.RWMutex
	slots map[slotKey]*analysis.Dataset
}

// NewStore creates an empty dataset store
func NewStore() *Store {
	return &Store{
		slots: make(map[slotKey]*analysis.Dataset),
	}
}

// Get returns the cached dataset for a (kind, scope) pair, or nil
func (s *Store) Get(kind analysis.Kind, scope analysis.Scope) *analysis.Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[slotKey{kind, scope}]
}

// Set replaces the dataset for its (kind, scope) slot atomically
func (s *Store) Set(ds *analysis.Dataset) {
	if ds == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{ds.Kind, ds.Scope}] = ds

	log.Printf("[Dataset] Stored %s/%s dataset (%d months, period %s)",
		ds.Kind, ds.Scope, len(ds.Entries), ds.TimePeriod)
}

// Has reports whether a dataset is cached for the pair
func (s *Store) Has(kind analysis.Kind, scope analysis.Scope) bool {
	return s.Get(kind, scope) != nil
}

// ClearCustom drops all custom-scope datasets. Called when the drawn feature
// is cleared or replaced; default-scope datasets stay cached.
func (s *Store) ClearCustom() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.slots {
		if key.scope == analysis.ScopeCustom {
			delete(s.slots, key)
		}
	}
}

// Clear drops every cached dataset
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[slotKey]*analysis.Dataset)
}

// ClampMonth enforces the month-selection invariant: the returned index is
// always within [0, len(entries)-1], with out-of-range values reset to 0.
// A nil or empty dataset clamps to 0.
func ClampMonth(ds *analysis.Dataset, index int) int {
	if ds == nil || len(ds.Entries) == 0 {
		return 0
	}
	if index < 0 || index >= len(ds.Entries) {
		return 0
	}
	return index
}
