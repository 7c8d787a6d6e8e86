package model

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/raaihank/seqvec/internal/vocab"
)

// Snapshot format: little-endian binary with a versioned header.
//
//	magic   [4]byte  "SQVC"
//	version uint32
//	dim     uint32
//	vocab   uint32
//	seqs    uint32
//	per element:  label(uint16 len + bytes), count int64, dim float32s
//	per sequence: label(uint16 len + bytes), dim float32s
const (
	snapshotMagic   = "SQVC"
	snapshotVersion = 1
)

// Save writes the lookup table and its vocabulary to path, creating parent
// directories as needed. Output weights are not persisted; a restored model
// answers queries but needs ResetModel to resume training.
func (t *Table) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)

	if _, err := w.WriteString(snapshotMagic); err != nil {
		return err
	}
	header := []uint32{snapshotVersion, uint32(t.dim), uint32(t.vocab.Size()), uint32(t.SequenceCount())}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, e := range t.vocab.Elements() {
		if err := writeLabel(w, e.Label); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.Count); err != nil {
			return err
		}
		if err := writeVector(w, t.vectors[e.Index]); err != nil {
			return err
		}
	}

	t.seqMu.RLock()
	labels := make([]string, len(t.seqVecs))
	for label, idx := range t.seqIdx {
		labels[idx] = label
	}
	for idx, label := range labels {
		if err := writeLabel(w, label); err != nil {
			t.seqMu.RUnlock()
			return err
		}
		if err := writeVector(w, t.seqVecs[idx]); err != nil {
			t.seqMu.RUnlock()
			return err
		}
	}
	t.seqMu.RUnlock()

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return file.Sync()
}

// Load restores a lookup table from a snapshot written by Save
func Load(path string, seed int64) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if string(magic) != snapshotMagic {
		return nil, ErrInvalidSnapshot
	}

	var version, dim, vocabSize, seqCount uint32
	for _, v := range []*uint32{&version, &dim, &vocabSize, &seqCount} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
	}
	if version != snapshotVersion {
		return nil, ErrSnapshotVersion
	}
	if dim == 0 {
		return nil, ErrInvalidSnapshot
	}

	elements := make([]*vocab.Element, vocabSize)
	vectors := make([][]float32, vocabSize)
	for i := range elements {
		label, err := readLabel(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		var count int64
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		vec, err := readVector(r, int(dim))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		elements[i] = &vocab.Element{Label: label, Count: count}
		vectors[i] = vec
	}

	t := &Table{
		dim:    int(dim),
		seed:   seed,
		vocab:  vocab.NewCache(elements),
		seqIdx: make(map[string]int, seqCount),
	}
	t.vectors = vectors

	for i := uint32(0); i < seqCount; i++ {
		label, err := readLabel(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		vec, err := readVector(r, int(dim))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		t.seqIdx[label] = len(t.seqVecs)
		t.seqVecs = append(t.seqVecs, vec)
	}

	return t, nil
}

func writeLabel(w io.Writer, label string) error {
	if len(label) > math.MaxUint16 {
		return fmt.Errorf("label too long: %d bytes", len(label))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(label))); err != nil {
		return err
	}
	_, err := w.Write([]byte(label))
	return err
}

func readLabel(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeVector(w io.Writer, vec []float32) error {
	return binary.Write(w, binary.LittleEndian, vec)
}

func readVector(r io.Reader, dim int) ([]float32, error) {
	vec := make([]float32, dim)
	if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
