package cell

import "slices"

// Register is the deduplicated collection of towers of one family.
//
// Towers are keyed by their identity tuple; display order is applied when a
// snapshot is taken, using Compare. Register is not safe for concurrent use,
// callers serialize access.
type Register struct {
	family Family
	towers map[Key]*Tower
}

// NewRegister creates an empty register for a family
func NewRegister(family Family) *Register {
	return &Register{
		family: family,
		towers: make(map[Key]*Tower),
	}
}

// Family returns the family this register holds
func (r *Register) Family() Family { return r.family }

// Len returns the number of stored towers, stale ones included
func (r *Register) Len() int { return len(r.towers) }

// Get returns the stored tower with the given identity
func (r *Register) Get(key Key) (*Tower, bool) {
	t, ok := r.towers[key]
	return t, ok
}

// Upsert stores an observation. If a tower with the same identity exists the
// observation is merged into it; otherwise the observation itself is stored.
// It returns the stored tower, or nil if the observation belongs to another family.
func (r *Register) Upsert(obs *Tower) *Tower {
	if obs == nil || obs.family != r.family {
		return nil
	}
	key := obs.Key()
	if existing, ok := r.towers[key]; ok {
		existing.merge(obs)
		return existing
	}
	r.towers[key] = obs
	return obs
}

// RemoveSource clears the given source flags on every tower and deletes
// towers left without any source. Call it before adding a fresh batch from
// a source so that towers from the previous batch of that source expire.
// Clearing the cell info flag also drops the registered state it carried.
func (r *Register) RemoveSource(source Source) {
	for key, t := range r.towers {
		t.ClearSource(source)
		if source.Has(SourceCellInfo) {
			t.serving = false
		}
		if !t.HasSource() {
			delete(r.towers, key)
		}
	}
}

// Snapshot returns an ordered copy of all towers that have a source.
// Later changes to the register do not affect the copy.
func (r *Register) Snapshot() []Tower {
	out := make([]Tower, 0, len(r.towers))
	for _, t := range r.towers {
		if t.HasSource() {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b Tower) int {
		if c := Compare(&a, &b); c != 0 {
			return c
		}
		// identity tie-break keeps the order stable across calls
		return compareKeys(a.Key(), b.Key())
	})
	return out
}

func compareKeys(a, b Key) int {
	for i := range a.IDs {
		if c := compareInts(a.IDs[i], b.IDs[i]); c != 0 {
			return c
		}
	}
	return 0
}
