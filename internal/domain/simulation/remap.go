package simulation

import (
	"github.com/google/uuid"
)

// IdentityMap tracks old-id → new-id assignments for one restore call.
// Snapshot ids are uuids and therefore globally unique across tables, so a
// single flat namespace suffices.
//
// Two layers: Pinned holds pre-reserved ids supplied by a session (read-only
// during restore), allocated holds the mappings this call mints. Pinned
// entries always win, which is what keeps printed barcodes stable across
// resets.
type IdentityMap struct {
	pinned    map[string]string
	allocated map[string]string
}

// NewIdentityMap returns an empty map with the given pre-reserved entries.
// pinned may be nil.
func NewIdentityMap(pinned map[string]string) *IdentityMap {
	p := make(map[string]string, len(pinned))
	for k, v := range pinned {
		p[k] = v
	}
	return &IdentityMap{
		pinned:    p,
		allocated: make(map[string]string),
	}
}

// Resolve looks up an old id across both layers.
func (m *IdentityMap) Resolve(oldID string) (string, bool) {
	if newID, ok := m.pinned[oldID]; ok {
		return newID, true
	}
	newID, ok := m.allocated[oldID]
	return newID, ok
}

// Allocate returns the new id for oldID, minting a fresh uuid on first
// sight. The first table to introduce an id is the one that allocates;
// later tables only consult via Resolve.
func (m *IdentityMap) Allocate(oldID string) string {
	if newID, ok := m.Resolve(oldID); ok {
		return newID
	}
	newID := uuid.NewString()
	m.allocated[oldID] = newID
	return newID
}

// Pinned reports whether oldID was supplied by the session rather than
// minted by this call.
func (m *IdentityMap) Pinned(oldID string) bool {
	_, ok := m.pinned[oldID]
	return ok
}

// Len returns the total number of distinct mappings.
func (m *IdentityMap) Len() int {
	n := len(m.allocated)
	for k := range m.pinned {
		if _, dup := m.allocated[k]; !dup {
			n++
		}
	}
	return n
}
