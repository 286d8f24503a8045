package manifest

import (
	"fmt"
	"sync/atomic"
)

// Set is an immutable, validated collection of manifests with unique names.
type Set struct {
	ordered []Manifest
	byName  map[string]int
}

// NewSet validates the manifests and builds a set ordered by (priority, name).
func NewSet(manifests ...Manifest) (*Set, error) {
	ordered := make([]Manifest, 0, len(manifests))
	seen := make(map[string]struct{}, len(manifests))
	for _, m := range manifests {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("duplicate manifest name %q", m.Name)
		}
		seen[m.Name] = struct{}{}
		ordered = append(ordered, m.Clone())
	}
	sortManifests(ordered)

	byName := make(map[string]int, len(ordered))
	for i, m := range ordered {
		byName[m.Name] = i
	}
	return &Set{ordered: ordered, byName: byName}, nil
}

// Len returns the number of manifests.
func (s *Set) Len() int { return len(s.ordered) }

// Get returns a copy of the named manifest.
func (s *Set) Get(name string) (Manifest, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Manifest{}, false
	}
	return s.ordered[i].Clone(), true
}

// All returns copies of every manifest ordered by (priority, name).
func (s *Set) All() []Manifest {
	out := make([]Manifest, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = m.Clone()
	}
	return out
}

// Names returns manifest names in (priority, name) order.
func (s *Set) Names() []string {
	out := make([]string, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = m.Name
	}
	return out
}

// Producers returns the names of manifests declaring they produce key.
func (s *Set) Producers(key string) []string {
	var out []string
	for _, m := range s.ordered {
		if m.Produces(key) {
			out = append(out, m.Name)
		}
	}
	return out
}

// LaneCaps returns the concurrency cap of every lane: the smallest positive
// max_concurrency declared by the lane's manifests, or 0 (unbounded).
func (s *Set) LaneCaps() map[string]int {
	caps := make(map[string]int)
	for _, m := range s.ordered {
		lane := m.LaneName()
		c := m.Lane.MaxConcurrency
		cur, ok := caps[lane]
		switch {
		case !ok:
			caps[lane] = c
		case c > 0 && (cur == 0 || c < cur):
			caps[lane] = c
		}
	}
	return caps
}

// WithOverrides returns a new set whose manifests' defaults are merged with
// the per-wave overrides. Overrides naming unknown waves are an error.
func (s *Set) WithOverrides(overrides map[string]Params) (*Set, error) {
	for name := range overrides {
		if _, ok := s.byName[name]; !ok {
			return nil, fmt.Errorf("override for unknown wave %q", name)
		}
	}
	out := make([]Manifest, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = m.WithOverrides(overrides[m.Name])
	}
	return NewSet(out...)
}

// Replace returns a new set in which manifests sharing a name with one in
// replacements are swapped for it, and new names are added.
func (s *Set) Replace(replacements ...Manifest) (*Set, error) {
	merged := make(map[string]Manifest, len(s.ordered)+len(replacements))
	for _, m := range s.ordered {
		merged[m.Name] = m
	}
	for _, m := range replacements {
		merged[m.Name] = m
	}
	out := make([]Manifest, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	return NewSet(out...)
}

// Holder publishes the current set. Readers get whole sets; a reload swaps
// the pointer so a run never sees a mix of old and new manifests.
type Holder struct {
	current atomic.Pointer[Set]
}

// NewHolder creates a holder publishing set.
func NewHolder(set *Set) *Holder {
	h := &Holder{}
	h.current.Store(set)
	return h
}

// Current returns the published set.
func (h *Holder) Current() *Set {
	return h.current.Load()
}

// Swap publishes set and returns the previous one.
func (h *Holder) Swap(set *Set) *Set {
	return h.current.Swap(set)
}
