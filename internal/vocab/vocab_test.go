package vocab

import (
	"io"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/raaihank/seqvec/internal/corpus"
)

// sliceIterator yields sequences from memory for tests
type sliceIterator struct {
	seqs []*corpus.Sequence
	pos  int
}

func newSliceIterator(lines ...[]string) *sliceIterator {
	it := &sliceIterator{}
	for i, tokens := range lines {
		it.seqs = append(it.seqs, &corpus.Sequence{
			Label:  "SENT_" + string(rune('1'+i)),
			Tokens: tokens,
		})
	}
	return it
}

func (it *sliceIterator) Next() (*corpus.Sequence, error) {
	if it.pos >= len(it.seqs) {
		return nil, io.EOF
	}
	seq := it.seqs[it.pos]
	it.pos++
	return seq, nil
}

func (it *sliceIterator) Reset() error { it.pos = 0; return nil }
func (it *sliceIterator) Close() error { return nil }

// TestBuilder tests vocabulary construction
func TestBuilder(t *testing.T) {
	logger := zap.NewNop()

	t.Run("ThresholdAndCounts", func(t *testing.T) {
		it := newSliceIterator(
			[]string{"cat", "dog", "cat"},
			[]string{"cat", "bird"},
		)

		builder := NewBuilder(2, logger)
		cache, err := builder.Build(it)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}

		if cache.Size() != 1 {
			t.Fatalf("Expected 1 element above threshold, got %d", cache.Size())
		}
		cat, ok := cache.Get("cat")
		if !ok {
			t.Fatal("cat missing from vocabulary")
		}
		if cat.Count != 3 {
			t.Errorf("cat count = %d, want 3", cat.Count)
		}
		if _, ok := cache.Get("dog"); ok {
			t.Error("dog should be below threshold")
		}
		if cache.TotalCount() != 3 {
			t.Errorf("TotalCount = %d, want 3", cache.TotalCount())
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		build := func() []string {
			it := newSliceIterator(
				[]string{"b", "a", "c", "a", "b", "c"},
				[]string{"d", "c", "b", "a"},
			)
			cache, err := NewBuilder(1, logger).Build(it)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			labels := make([]string, cache.Size())
			for i, e := range cache.Elements() {
				labels[i] = e.Label
			}
			return labels
		}

		first := build()
		for i := 0; i < 5; i++ {
			if again := build(); !reflect.DeepEqual(first, again) {
				t.Fatalf("Vocabulary order is not deterministic: %v vs %v", first, again)
			}
		}
	})

	t.Run("OrderedByCount", func(t *testing.T) {
		it := newSliceIterator(
			[]string{"rare", "common", "common", "common", "mid", "mid"},
		)
		cache, err := NewBuilder(1, logger).Build(it)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}

		elements := cache.Elements()
		for i := 1; i < len(elements); i++ {
			if elements[i-1].Count < elements[i].Count {
				t.Errorf("Elements not ordered by descending count at %d", i)
			}
		}
		if elements[0].Label != "common" {
			t.Errorf("Most frequent element should be first, got %s", elements[0].Label)
		}
		for i, e := range elements {
			if e.Index != i {
				t.Errorf("Element %s has index %d, want %d", e.Label, e.Index, i)
			}
		}
	})

	t.Run("EmptyVocabulary", func(t *testing.T) {
		it := newSliceIterator([]string{"once"})
		if _, err := NewBuilder(5, logger).Build(it); err == nil {
			t.Error("Expected error when no element meets the threshold")
		}
	})
}

// TestAssignCodes tests Huffman code assignment
func TestAssignCodes(t *testing.T) {
	logger := zap.NewNop()

	it := newSliceIterator(
		[]string{"a", "a", "a", "a", "b", "b", "c", "c", "d"},
	)
	cache, err := NewBuilder(1, logger).Build(it)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cache.AssignCodes()

	t.Run("CodesAssigned", func(t *testing.T) {
		for _, e := range cache.Elements() {
			if len(e.Code) == 0 {
				t.Errorf("Element %s has no code", e.Label)
			}
			if len(e.Code) != len(e.Points) {
				t.Errorf("Element %s code/points length mismatch: %d vs %d", e.Label, len(e.Code), len(e.Points))
			}
		}
	})

	t.Run("FrequentElementsGetShortCodes", func(t *testing.T) {
		a, _ := cache.Get("a")
		d, _ := cache.Get("d")
		if len(a.Code) > len(d.Code) {
			t.Errorf("Most frequent element has longer code (%d) than least frequent (%d)", len(a.Code), len(d.Code))
		}
	})

	t.Run("CodesAreUnique", func(t *testing.T) {
		seen := make(map[string]string)
		for _, e := range cache.Elements() {
			key := string(e.Code)
			if other, dup := seen[key]; dup {
				t.Errorf("Elements %s and %s share code %v", e.Label, other, e.Code)
			}
			seen[key] = e.Label
		}
	})

	t.Run("PointsInRange", func(t *testing.T) {
		n := int32(cache.Size())
		for _, e := range cache.Elements() {
			for _, p := range e.Points {
				if p < 0 || p >= n-1 {
					t.Errorf("Element %s has point %d outside inner-node range [0,%d)", e.Label, p, n-1)
				}
			}
		}
	})
}

// TestNegativeTable tests the unigram sampling table
func TestNegativeTable(t *testing.T) {
	logger := zap.NewNop()

	it := newSliceIterator(
		[]string{"hot", "hot", "hot", "hot", "hot", "hot", "cold", "cold", "warm"},
	)
	cache, err := NewBuilder(1, logger).Build(it)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	table := cache.NegativeTable(10000)
	if len(table) != 10000 {
		t.Fatalf("Table length = %d, want 10000", len(table))
	}

	counts := make(map[int32]int)
	for _, idx := range table {
		if idx < 0 || int(idx) >= cache.Size() {
			t.Fatalf("Table entry %d out of vocabulary range", idx)
		}
		counts[idx]++
	}

	// Every element must appear, and the most frequent one most often.
	if len(counts) != cache.Size() {
		t.Errorf("Table covers %d elements, want %d", len(counts), cache.Size())
	}
	hot, _ := cache.Get("hot")
	warm, _ := cache.Get("warm")
	if counts[int32(hot.Index)] <= counts[int32(warm.Index)] {
		t.Errorf("Frequent element underrepresented: hot=%d warm=%d",
			counts[int32(hot.Index)], counts[int32(warm.Index)])
	}
}

// TestKeepProbability tests subsampling behavior
func TestKeepProbability(t *testing.T) {
	logger := zap.NewNop()

	it := newSliceIterator(
		[]string{"the", "the", "the", "the", "the", "the", "the", "the", "quark"},
	)
	cache, err := NewBuilder(1, logger).Build(it)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	the, _ := cache.Get("the")
	quark, _ := cache.Get("quark")

	t.Run("DisabledSample", func(t *testing.T) {
		if p := cache.KeepProbability(the.Index, 0); p != 1 {
			t.Errorf("Disabled subsampling should keep everything, got %g", p)
		}
	})

	t.Run("FrequentDiscardedMoreOften", func(t *testing.T) {
		sample := 1e-2
		pThe := cache.KeepProbability(the.Index, sample)
		pQuark := cache.KeepProbability(quark.Index, sample)
		if pThe > pQuark {
			t.Errorf("Frequent element kept more often than rare one: %g > %g", pThe, pQuark)
		}
		if pThe <= 0 || pThe > 1 || pQuark <= 0 || pQuark > 1 {
			t.Errorf("Keep probabilities out of range: %g, %g", pThe, pQuark)
		}
	})
}

// TestNewCache tests snapshot-restore construction
func TestNewCache(t *testing.T) {
	elements := []*Element{
		{Label: "x", Count: 5},
		{Label: "y", Count: 3},
	}
	cache := NewCache(elements)

	if cache.Size() != 2 {
		t.Fatalf("Size = %d, want 2", cache.Size())
	}
	if cache.TotalCount() != 8 {
		t.Errorf("TotalCount = %d, want 8", cache.TotalCount())
	}
	x, ok := cache.Get("x")
	if !ok || x.Index != 0 {
		t.Errorf("x not restored at index 0")
	}
	if cache.At(1).Label != "y" {
		t.Errorf("At(1) = %s, want y", cache.At(1).Label)
	}
}
