package seed

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// Registry is the append-only, content-addressed store of all seeds.
// Ids are dense integers assigned on first insertion and stable for the
// lifetime of the process; byte-identical resubmissions return the
// existing id.
type Registry struct {
	mu    sync.Mutex
	seeds []*Seed
	index map[[sha256.Size]byte]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[[sha256.Size]byte]int),
	}
}

// Intake registers buf (deduplicated by content) and increments the
// seed's selection count. It returns the seed id, whether the seed is
// new, and the selection count after the increment.
func (r *Registry) Intake(buf []byte) (id int, isNew bool, selections int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, isNew = r.insertLocked(buf, false)
	r.seeds[id].SelectionCount++
	return id, isNew, r.seeds[id].SelectionCount
}

// Insert registers buf without touching the selection count. The
// structural stage uses it to feed rewritten seeds back into the
// pipeline.
func (r *Registry) Insert(buf []byte, fromStructural bool) (id int, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(buf, fromStructural)
}

// insertLocked appends a new seed unless the bytes are already known.
func (r *Registry) insertLocked(buf []byte, fromStructural bool) (int, bool) {
	key := sha256.Sum256(buf)
	if id, ok := r.index[key]; ok {
		return id, false
	}

	id := len(r.seeds)
	copied := make([]byte, len(buf))
	copy(copied, buf)
	r.seeds = append(r.seeds, &Seed{
		ID:             id,
		Bytes:          copied,
		Text:           decodeText(copied),
		FromStructural: fromStructural,
	})
	r.index[key] = id
	return id, true
}

// Lookup returns the seed with the given id, or nil if the id was never
// assigned. The returned pointer's ID, Bytes and Text are immutable;
// derived fields must be read through the registry accessors.
func (r *Registry) Lookup(id int) *Seed {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return nil
	}
	return r.seeds[id]
}

// IndexOf returns the id of the seed with byte-identical content.
func (r *Registry) IndexOf(buf []byte) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.index[sha256.Sum256(buf)]
	return id, ok
}

// RecordAnnotation stores the annotated form of a seed. The first writer
// wins: once a seed is annotated the call is a no-op, so re-entrant
// seeds never trigger a second annotation. It reports whether this call
// performed the write.
func (r *Registry) RecordAnnotation(id int, annotated string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return false, fmt.Errorf("seed %d not found in registry", id)
	}
	s := r.seeds[id]
	if s.IsAnnotated {
		return false, nil
	}
	s.Annotated = annotated
	s.IsAnnotated = true
	return true, nil
}

// IsAnnotated reports whether the seed has been annotated.
func (r *Registry) IsAnnotated(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return false
	}
	return r.seeds[id].IsAnnotated
}

// Annotated returns the seed's annotated form (empty until recorded).
func (r *Registry) Annotated(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return ""
	}
	return r.seeds[id].Annotated
}

// RecordMutation increments the seed's mutation count and returns the
// new value. Dispatches that raised in the evaluator count too.
func (r *Registry) RecordMutation(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return 0
	}
	r.seeds[id].MutationCount++
	return r.seeds[id].MutationCount
}

// SelectionCount returns how many times the host has offered this seed.
func (r *Registry) SelectionCount(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return 0
	}
	return r.seeds[id].SelectionCount
}

// MutationCount returns how many dispatches targeted this seed.
func (r *Registry) MutationCount(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.seeds) {
		return 0
	}
	return r.seeds[id].MutationCount
}

// Len returns the number of distinct seeds.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seeds)
}
