package model

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/raaihank/seqvec/internal/vocab"
)

// Table is the weight lookup table: one dense embedding vector per vocabulary
// element, plus the output weights used by the training objectives and the
// optional per-sequence vectors. Vectors are allocated once and never resized.
type Table struct {
	dim   int
	seed  int64
	vocab *vocab.Cache

	vectors [][]float32 // input embeddings, index-aligned with the vocabulary
	hs      [][]float32 // hierarchical softmax inner-node weights
	neg     [][]float32 // negative sampling output weights

	seqMu   sync.RWMutex
	seqIdx  map[string]int
	seqVecs [][]float32
}

// Neighbor is a nearest-neighbor query result
type Neighbor struct {
	Label      string  `json:"label"`
	Similarity float32 `json:"similarity"`
}

// New allocates a lookup table for the given vocabulary. Weights are zero
// until ResetWeights is invoked.
func New(vc *vocab.Cache, dim int, seed int64) (*Table, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}

	t := &Table{
		dim:    dim,
		seed:   seed,
		vocab:  vc,
		seqIdx: make(map[string]int),
	}
	t.vectors = make([][]float32, vc.Size())
	for i := range t.vectors {
		t.vectors[i] = make([]float32, dim)
	}
	return t, nil
}

// Dim returns the configured vector length
func (t *Table) Dim() int {
	return t.dim
}

// Vocab returns the vocabulary cache the table was allocated for
func (t *Table) Vocab() *vocab.Cache {
	return t.vocab
}

// ResetWeights (re-)initializes every input vector from a uniform distribution
// in [-0.5/dim, +0.5/dim) using the configured seed, and zeroes the output
// weights. Deterministic for a fixed seed and vocabulary.
func (t *Table) ResetWeights() {
	rng := rand.New(rand.NewSource(t.seed))
	inv := 1.0 / float64(t.dim)
	for _, vec := range t.vectors {
		for j := range vec {
			vec[j] = float32((rng.Float64() - 0.5) * inv)
		}
	}
	for _, vec := range t.hs {
		for j := range vec {
			vec[j] = 0
		}
	}
	for _, vec := range t.neg {
		for j := range vec {
			vec[j] = 0
		}
	}

	t.seqMu.Lock()
	rngSeq := rand.New(rand.NewSource(t.seed + 1))
	for _, vec := range t.seqVecs {
		for j := range vec {
			vec[j] = float32((rngSeq.Float64() - 0.5) * inv)
		}
	}
	t.seqMu.Unlock()
}

// EnsureHS allocates the hierarchical softmax output weights if missing
func (t *Table) EnsureHS() {
	if t.hs == nil {
		t.hs = make([][]float32, t.vocab.Size())
		for i := range t.hs {
			t.hs[i] = make([]float32, t.dim)
		}
	}
}

// EnsureNegative allocates the negative sampling output weights if missing
func (t *Table) EnsureNegative() {
	if t.neg == nil {
		t.neg = make([][]float32, t.vocab.Size())
		for i := range t.neg {
			t.neg[i] = make([]float32, t.dim)
		}
	}
}

// VectorAt returns the input vector for the element at the given index.
// The trainer mutates these slices in place.
func (t *Table) VectorAt(index int) []float32 {
	return t.vectors[index]
}

// HSAt returns the hierarchical softmax weight row for an inner node
func (t *Table) HSAt(node int32) []float32 {
	return t.hs[node]
}

// NegAt returns the negative sampling output row for an element index
func (t *Table) NegAt(index int32) []float32 {
	return t.neg[index]
}

// SequenceVector returns the trainable vector for a sequence label,
// allocating and seeding it on first use. Safe for concurrent workers.
func (t *Table) SequenceVector(label string) []float32 {
	t.seqMu.RLock()
	if idx, ok := t.seqIdx[label]; ok {
		vec := t.seqVecs[idx]
		t.seqMu.RUnlock()
		return vec
	}
	t.seqMu.RUnlock()

	t.seqMu.Lock()
	defer t.seqMu.Unlock()
	if idx, ok := t.seqIdx[label]; ok {
		return t.seqVecs[idx]
	}

	vec := make([]float32, t.dim)
	rng := rand.New(rand.NewSource(t.seed + int64(len(t.seqVecs)) + 1))
	inv := 1.0 / float64(t.dim)
	for j := range vec {
		vec[j] = float32((rng.Float64() - 0.5) * inv)
	}
	t.seqIdx[label] = len(t.seqVecs)
	t.seqVecs = append(t.seqVecs, vec)
	return vec
}

// SequenceCount returns the number of sequence vectors allocated so far
func (t *Table) SequenceCount() int {
	t.seqMu.RLock()
	defer t.seqMu.RUnlock()
	return len(t.seqVecs)
}

// Vector returns a copy of the embedding for the given element label
func (t *Table) Vector(label string) ([]float32, error) {
	e, ok := t.vocab.Get(label)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]float32, t.dim)
	copy(out, t.vectors[e.Index])
	return out, nil
}

// Similarity returns the cosine similarity between the vectors of two labels.
// It fails with ErrNotFound if either label is absent from the vocabulary.
func (t *Table) Similarity(a, b string) (float32, error) {
	ea, ok := t.vocab.Get(a)
	if !ok {
		return 0, ErrNotFound
	}
	eb, ok := t.vocab.Get(b)
	if !ok {
		return 0, ErrNotFound
	}
	return CosineSimilarity(t.vectors[ea.Index], t.vectors[eb.Index]), nil
}

// Neighbors returns the k vocabulary elements most similar to the given label,
// in descending similarity order, excluding the label itself.
func (t *Table) Neighbors(label string, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidNeighbourK
	}
	e, ok := t.vocab.Get(label)
	if !ok {
		return nil, ErrNotFound
	}

	query := t.vectors[e.Index]
	results := make([]Neighbor, 0, t.vocab.Size()-1)
	for _, other := range t.vocab.Elements() {
		if other.Index == e.Index {
			continue
		}
		results = append(results, Neighbor{
			Label:      other.Label,
			Similarity: CosineSimilarity(query, t.vectors[other.Index]),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Label < results[j].Label
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(vec1, vec2 []float32) float32 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0.0
	}

	var dotProduct, norm1, norm2 float64
	for i := range vec1 {
		dotProduct += float64(vec1[i] * vec2[i])
		norm1 += float64(vec1[i] * vec1[i])
		norm2 += float64(vec2[i] * vec2[i])
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	return float32(dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2)))
}
