// Package index implements the in-process similarity index (C3): a flat,
// L2-normalized, inner-product vector store mapping slot ids to person ids.
//
// At the design target (N<=10^4 persons, K<=10 reference images each) a full
// scan over all slots is well under 10ms per search, so no approximate
// structure is used; this keeps tie-breaking deterministic and persistence
// trivial to reason about.
package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidDimension is returned by Add when the input vector's length
// does not match the index's configured dimension.
var ErrInvalidDimension = errors.New("index: invalid embedding dimension")

// ErrCorruptIndex is returned by Load when the on-disk artifacts disagree in
// length or dimension. The index is left empty on this error.
var ErrCorruptIndex = errors.New("index: corrupt persisted index")

const normalizeTolerance = 1e-6

// Result is one ranked search hit.
type Result struct {
	PersonID uuid.UUID
	Score    float32
	SlotID   int
}

type entry struct {
	slotID   int
	personID uuid.UUID
	vector   []float32
}

// Index is the similarity index described by component C3. It is safe for
// concurrent use: searches take the read lock, Add/RemoveByPerson take the
// write lock.
type Index struct {
	mu       sync.RWMutex
	dim      int
	entries  []entry
	nextSlot int
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Dimension returns the configured embedding dimension D.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Add L2-normalizes vector (a no-op within tolerance if already unit-norm),
// appends it to the store under a never-reused slot id, and records the
// slot's owning person. It fails only with ErrInvalidDimension.
func (idx *Index) Add(personID uuid.UUID, vector []float32) (int, error) {
	if len(vector) != idx.dim {
		return 0, fmt.Errorf("%w: got %d want %d", ErrInvalidDimension, len(vector), idx.dim)
	}

	normalized := normalize(vector)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	slotID := idx.nextSlot
	idx.nextSlot++
	idx.entries = append(idx.entries, entry{slotID: slotID, personID: personID, vector: normalized})
	return slotID, nil
}

// RemoveByPerson removes every slot owned by personID, compacting the
// remaining slots so the store stays contiguous. Surviving slot ids are
// unchanged, and removed ids are never reassigned. Never fails.
func (idx *Index) RemoveByPerson(personID uuid.UUID) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	kept := idx.entries[:0:0]
	removed := 0
	for _, e := range idx.entries {
		if e.personID == personID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	return removed
}

// Search normalizes query and returns up to k results with score >= minScore,
// sorted by score descending, ties broken by smaller person id then smaller
// slot id. If a person owns multiple slots, only their best-scoring slot is
// returned.
func (idx *Index) Search(query []float32, k int, minScore float32) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrInvalidDimension, len(query), idx.dim)
	}
	normalized := normalize(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	best := make(map[uuid.UUID]Result, len(idx.entries))
	for _, e := range idx.entries {
		score := dot(normalized, e.vector)
		if score < minScore {
			continue
		}
		cur, ok := best[e.personID]
		if !ok || score > cur.Score || (score == cur.Score && e.slotID < cur.SlotID) {
			best[e.personID] = Result{PersonID: e.personID, Score: score, SlotID: e.slotID}
		}
	}

	results := make([]Result, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].PersonID != results[j].PersonID {
			return results[i].PersonID.String() < results[j].PersonID.String()
		}
		return results[i].SlotID < results[j].SlotID
	})

	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Size returns the current number of occupied slots.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return out
	}
	if math.Abs(norm-1) <= normalizeTolerance {
		return out
	}
	inv := float32(1 / norm)
	for i := range out {
		out[i] *= inv
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
