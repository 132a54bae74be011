package index

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// slotRecord is one row of the slot-id -> person-id map artifact, written in
// the same order as the raw vector store so Load can zip the two back
// together without a separate index.
type slotRecord struct {
	SlotID   int       `json:"slot_id"`
	PersonID uuid.UUID `json:"person_id"`
}

// Persist snapshots the index to two files: a raw vector store and a
// slot_id->person_id map. Both are rewritten atomically (temp file + rename).
func (idx *Index) Persist(vectorsPath, slotsPath string) error {
	idx.mu.RLock()
	entries := make([]entry, len(idx.entries))
	copy(entries, idx.entries)
	dim := idx.dim
	idx.mu.RUnlock()

	vecBuf := new(bytes.Buffer)
	header := [2]int64{int64(dim), int64(len(entries))}
	if err := binary.Write(vecBuf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("index: encode vector header: %w", err)
	}
	for _, e := range entries {
		if err := binary.Write(vecBuf, binary.LittleEndian, e.vector); err != nil {
			return fmt.Errorf("index: encode vector: %w", err)
		}
	}

	records := make([]slotRecord, len(entries))
	for i, e := range entries {
		records[i] = slotRecord{SlotID: e.slotID, PersonID: e.personID}
	}
	slotsBuf, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("index: encode slot map: %w", err)
	}

	if err := atomicWrite(vectorsPath, vecBuf.Bytes()); err != nil {
		return fmt.Errorf("index: persist vectors: %w", err)
	}
	if err := atomicWrite(slotsPath, slotsBuf); err != nil {
		return fmt.Errorf("index: persist slot map: %w", err)
	}
	return nil
}

// Load replaces the index's contents with the artifacts at vectorsPath and
// slotsPath. If either file is absent, the index is left empty and Load
// returns nil (first-start case). On any structural disagreement it returns
// ErrCorruptIndex and leaves the index empty.
func (idx *Index) Load(vectorsPath, slotsPath string) error {
	vecData, err := os.ReadFile(vectorsPath)
	if os.IsNotExist(err) {
		idx.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read vectors: %w", err)
	}
	slotsData, err := os.ReadFile(slotsPath)
	if os.IsNotExist(err) {
		idx.reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read slot map: %w", err)
	}

	var records []slotRecord
	if err := json.Unmarshal(slotsData, &records); err != nil {
		idx.reset()
		return fmt.Errorf("%w: slot map decode: %v", ErrCorruptIndex, err)
	}

	r := bytes.NewReader(vecData)
	var header [2]int64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		idx.reset()
		return fmt.Errorf("%w: vector header decode: %v", ErrCorruptIndex, err)
	}
	dim, count := int(header[0]), int(header[1])
	if dim != idx.dim {
		idx.reset()
		return fmt.Errorf("%w: dimension %d != %d", ErrCorruptIndex, dim, idx.dim)
	}
	if count != len(records) {
		idx.reset()
		return fmt.Errorf("%w: vector count %d != slot count %d", ErrCorruptIndex, count, len(records))
	}

	entries := make([]entry, count)
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, &vec); err != nil {
			idx.reset()
			return fmt.Errorf("%w: vector %d decode: %v", ErrCorruptIndex, i, err)
		}
		entries[i] = entry{slotID: records[i].SlotID, personID: records[i].PersonID, vector: vec}
	}

	maxSlot := -1
	for _, e := range entries {
		if e.slotID > maxSlot {
			maxSlot = e.slotID
		}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.nextSlot = maxSlot + 1
	idx.mu.Unlock()
	return nil
}

func (idx *Index) reset() {
	idx.mu.Lock()
	idx.entries = nil
	idx.nextSlot = 0
	idx.mu.Unlock()
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
