package vocab

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/corpus"
)

// maxCodeLength bounds Huffman code length; 40 bits covers any realistic vocabulary
const maxCodeLength = 40

// Element is a distinct vocabulary entry with its frequency accounting.
// Code and Points are populated only when hierarchical softmax is requested.
type Element struct {
	Label  string
	Count  int64
	Index  int
	Code   []byte
	Points []int32
}

// Cache maps labels to vocabulary elements. It is built once before training
// and shared read-only by the trainer and the lookup table.
type Cache struct {
	elements []*Element
	byLabel  map[string]*Element
	total    int64
}

// NewCache builds a cache directly from an element slice, reassigning indices
// in slice order. Used when restoring a vocabulary from a model snapshot.
func NewCache(elements []*Element) *Cache {
	c := &Cache{
		elements: elements,
		byLabel:  make(map[string]*Element, len(elements)),
	}
	for i, e := range elements {
		e.Index = i
		c.byLabel[e.Label] = e
		c.total += e.Count
	}
	return c
}

// Get returns the element for a label, or false if the label is not in the vocabulary
func (c *Cache) Get(label string) (*Element, bool) {
	e, ok := c.byLabel[label]
	return e, ok
}

// At returns the element at the given index
func (c *Cache) At(index int) *Element {
	return c.elements[index]
}

// Size returns the number of distinct elements in the vocabulary
func (c *Cache) Size() int {
	return len(c.elements)
}

// Elements returns the index-ordered element slice. Callers must not mutate it.
func (c *Cache) Elements() []*Element {
	return c.elements
}

// TotalCount returns the summed occurrence count of all retained elements
func (c *Cache) TotalCount() int64 {
	return c.total
}

// Builder constructs a vocabulary cache from a corpus pass
type Builder struct {
	minCount int
	logger   *zap.Logger
}

// NewBuilder creates a vocabulary builder with the given minimum frequency threshold
func NewBuilder(minCount int, logger *zap.Logger) *Builder {
	return &Builder{minCount: minCount, logger: logger}
}

// Build makes one pass over the iterator, counts element frequencies, and
// retains exactly the labels occurring at least minCount times, each annotated
// with its true occurrence count. Index assignment is by descending count with
// label as tiebreaker, so two passes over the same input produce identical
// caches.
func (b *Builder) Build(it corpus.Iterator) (*Cache, error) {
	start := time.Now()

	counts := make(map[string]int64)
	var sequences, rawTokens int64

	for {
		seq, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vocabulary pass failed: %w", err)
		}

		sequences++
		rawTokens += int64(len(seq.Tokens))
		for _, tok := range seq.Tokens {
			counts[tok]++
		}
	}

	elements := make([]*Element, 0, len(counts))
	for label, count := range counts {
		if count < int64(b.minCount) {
			continue
		}
		elements = append(elements, &Element{Label: label, Count: count})
	}

	if len(elements) == 0 {
		return nil, fmt.Errorf("no elements meet the minimum frequency threshold %d", b.minCount)
	}

	sort.Slice(elements, func(i, j int) bool {
		if elements[i].Count != elements[j].Count {
			return elements[i].Count > elements[j].Count
		}
		return elements[i].Label < elements[j].Label
	})

	cache := &Cache{
		elements: elements,
		byLabel:  make(map[string]*Element, len(elements)),
	}
	for i, e := range elements {
		e.Index = i
		cache.byLabel[e.Label] = e
		cache.total += e.Count
	}

	b.logger.Info("Vocabulary built",
		zap.Int("vocab_size", cache.Size()),
		zap.Int64("sequences", sequences),
		zap.Int64("raw_tokens", rawTokens),
		zap.Int64("retained_tokens", cache.total),
		zap.Int("min_count", b.minCount),
		zap.Duration("duration", time.Since(start)))

	return cache, nil
}

// AssignCodes builds the Huffman coding tree over element counts and assigns
// each element its binary code and inner-node path, as required by the
// hierarchical softmax objective. Frequent elements receive short codes.
func (c *Cache) AssignCodes() {
	n := len(c.elements)
	if n == 0 {
		return
	}

	// Standard two-pointer Huffman construction over count-sorted leaves.
	count := make([]int64, 2*n-1)
	binary := make([]byte, 2*n-1)
	parent := make([]int, 2*n-1)
	for i, e := range c.elements {
		count[i] = e.Count
	}
	for i := n; i < 2*n-1; i++ {
		count[i] = math.MaxInt64
	}

	// elements are sorted by descending count, so leaves ascend from n-1 downward
	pos1 := n - 1
	pos2 := n

	for a := 0; a < n-1; a++ {
		var min1, min2 int
		if pos1 >= 0 && count[pos1] < count[pos2] {
			min1 = pos1
			pos1--
		} else {
			min1 = pos2
			pos2++
		}
		if pos1 >= 0 && count[pos1] < count[pos2] {
			min2 = pos1
			pos1--
		} else {
			min2 = pos2
			pos2++
		}

		count[n+a] = count[min1] + count[min2]
		parent[min1] = n + a
		parent[min2] = n + a
		binary[min2] = 1
	}

	for i, e := range c.elements {
		code := make([]byte, 0, maxCodeLength)
		points := make([]int32, 0, maxCodeLength)

		for node := i; node != 2*n-2; node = parent[node] {
			code = append(code, binary[node])
			points = append(points, int32(parent[node]-n))
		}

		// Reverse to root-first order.
		e.Code = make([]byte, len(code))
		e.Points = make([]int32, len(points))
		for j := range code {
			e.Code[j] = code[len(code)-1-j]
			e.Points[j] = points[len(points)-1-j]
		}
	}
}

// NegativeTable builds the unigram^0.75 sampling table used to draw negative
// examples. Larger tables approximate the distribution more closely.
func (c *Cache) NegativeTable(size int) []int32 {
	if size <= 0 || len(c.elements) == 0 {
		return nil
	}

	var norm float64
	for _, e := range c.elements {
		norm += math.Pow(float64(e.Count), 0.75)
	}

	table := make([]int32, size)
	idx := 0
	cum := math.Pow(float64(c.elements[0].Count), 0.75) / norm
	for i := range table {
		table[i] = int32(idx)
		if float64(i)/float64(size) > cum && idx < len(c.elements)-1 {
			idx++
			cum += math.Pow(float64(c.elements[idx].Count), 0.75) / norm
		}
	}
	return table
}

// KeepProbability returns the subsampling keep probability for the element at
// the given index. A sample threshold of zero disables subsampling.
func (c *Cache) KeepProbability(index int, sample float64) float64 {
	if sample <= 0 {
		return 1
	}
	freq := float64(c.elements[index].Count) / float64(c.total)
	p := (math.Sqrt(freq/sample) + 1) * sample / freq
	if p > 1 {
		return 1
	}
	return p
}
