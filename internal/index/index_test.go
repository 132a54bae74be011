package index

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsWrongDimension(t *testing.T) {
	idx := New(8)
	_, err := idx.Add(uuid.New(), make([]float32, 4))
	require.ErrorIs(t, err, ErrInvalidDimension)
}

func TestAddNormalizes(t *testing.T) {
	idx := New(2)
	p := uuid.New()
	slot, err := idx.Add(p, []float32{3, 4}) // norm 5
	require.NoError(t, err)
	require.Equal(t, 0, slot)

	results, err := idx.Search([]float32{3, 4}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
}

func TestSearchDedupesByPersonKeepingBestScore(t *testing.T) {
	idx := New(2)
	p := uuid.New()
	_, err := idx.Add(p, []float32{1, 0})
	require.NoError(t, err)
	_, err = idx.Add(p, []float32{0, 1})
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, p, results[0].PersonID)
	require.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
}

func TestRemoveByPersonCompactsAndKeepsSlotIdentity(t *testing.T) {
	idx := New(2)
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	s1, _ := idx.Add(p1, []float32{1, 0})
	s2, _ := idx.Add(p2, []float32{0, 1})
	s3, _ := idx.Add(p3, []float32{1, 1})

	removed := idx.RemoveByPerson(p2)
	require.Equal(t, 1, removed)
	require.Equal(t, 2, idx.Size())

	results, err := idx.Search([]float32{1, 1}, 2, -2)
	require.NoError(t, err)
	ids := map[int]uuid.UUID{}
	for _, r := range results {
		ids[r.SlotID] = r.PersonID
	}
	require.Equal(t, p1, ids[s1])
	require.Equal(t, p3, ids[s3])

	// s2 must never be reassigned to a different person after the slot was freed.
	s4, _ := idx.Add(uuid.New(), []float32{0, -1})
	require.NotEqual(t, s2, s4)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "vectors.bin")
	slotsPath := filepath.Join(dir, "slots.json")

	idx := New(4)
	p := uuid.New()
	v := []float32{1, 0, 0, 0}
	_, err := idx.Add(p, v)
	require.NoError(t, err)
	require.NoError(t, idx.Persist(vecPath, slotsPath))

	fresh := New(4)
	require.NoError(t, fresh.Load(vecPath, slotsPath))

	results, err := fresh.Search(v, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, p, results[0].PersonID)
	require.GreaterOrEqual(t, float64(results[0].Score), 1-1e-6)
}

func TestLoadMissingFilesLeavesIndexEmpty(t *testing.T) {
	dir := t.TempDir()
	idx := New(4)
	err := idx.Load(filepath.Join(dir, "nope.bin"), filepath.Join(dir, "nope.json"))
	require.NoError(t, err)
	require.Equal(t, 0, idx.Size())
}

func TestLoadCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	vecPath := filepath.Join(dir, "vectors.bin")
	slotsPath := filepath.Join(dir, "slots.json")

	idx := New(4)
	_, err := idx.Add(uuid.New(), []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, idx.Persist(vecPath, slotsPath))

	// Corrupt the slot map so its length disagrees with the vector store.
	require.NoError(t, writeFile(slotsPath, []byte("[]")))

	fresh := New(4)
	err = fresh.Load(vecPath, slotsPath)
	require.ErrorIs(t, err, ErrCorruptIndex)
	require.Equal(t, 0, fresh.Size())
}

func writeFile(path string, data []byte) error {
	return atomicWrite(path, data)
}
