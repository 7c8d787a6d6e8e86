package corpus

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// TestTokenizer tests normalization and determinism
func TestTokenizer(t *testing.T) {
	t.Run("Normalization", func(t *testing.T) {
		tok := NewTokenizer(DefaultPolicy())

		tokens := tok.Tokenize("Hello, World! This is   a TEST.")
		expected := []string{"hello", "world", "this", "is", "a", "test"}
		if !reflect.DeepEqual(tokens, expected) {
			t.Errorf("Unexpected tokens: got %v, want %v", tokens, expected)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		tok := NewTokenizer(DefaultPolicy())

		line := "The quick, brown fox; jumps over the lazy dog!"
		first := tok.Tokenize(line)
		for i := 0; i < 10; i++ {
			again := tok.Tokenize(line)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("Tokenization is not deterministic: %v vs %v", first, again)
			}
		}
	})

	t.Run("EmptyAndWhitespace", func(t *testing.T) {
		tok := NewTokenizer(DefaultPolicy())

		if tokens := tok.Tokenize(""); tokens != nil {
			t.Errorf("Empty line should yield no tokens, got %v", tokens)
		}
		if tokens := tok.Tokenize("   \t  "); tokens != nil {
			t.Errorf("Whitespace line should yield no tokens, got %v", tokens)
		}
		// Pure punctuation normalizes to nothing.
		if tokens := tok.Tokenize("!!! ... ???"); len(tokens) != 0 {
			t.Errorf("Punctuation-only line should yield no tokens, got %v", tokens)
		}
	})

	t.Run("PolicyDisabled", func(t *testing.T) {
		tok := NewTokenizer(Policy{Lowercase: false, StripPunct: false})

		tokens := tok.Tokenize("Hello, World!")
		expected := []string{"Hello,", "World!"}
		if !reflect.DeepEqual(tokens, expected) {
			t.Errorf("Unexpected tokens: got %v, want %v", tokens, expected)
		}
	})
}

// TestDetectFormat tests extension-based format detection
func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"corpus.txt":     FormatText,
		"corpus":         FormatText,
		"data.csv":       FormatCSV,
		"data.jsonl":     FormatJSONL,
		"data.json":      FormatJSONL,
		"data.parquet":   FormatParquet,
		"dir/corpus.txt": FormatText,
	}
	for path, want := range cases {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", path, got, want)
		}
	}
}

func writeTempCorpus(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write corpus file: %v", err)
	}
	return path
}

// TestFileIterator tests reading, labeling and restarting
func TestFileIterator(t *testing.T) {
	tok := NewTokenizer(DefaultPolicy())

	t.Run("TextFormat", func(t *testing.T) {
		path := writeTempCorpus(t, "corpus.txt", "the cat sat\n\nthe dog ran\n")

		it, err := NewFileIterator(path, FormatText, tok)
		if err != nil {
			t.Fatalf("Failed to open iterator: %v", err)
		}
		defer it.Close()

		first, err := it.Next()
		if err != nil {
			t.Fatalf("First Next failed: %v", err)
		}
		if !reflect.DeepEqual(first.Tokens, []string{"the", "cat", "sat"}) {
			t.Errorf("Unexpected first sequence: %v", first.Tokens)
		}
		if first.Label != "SENT_1" {
			t.Errorf("Unexpected first label: %s", first.Label)
		}

		// The blank line is skipped but still advances the line counter.
		second, err := it.Next()
		if err != nil {
			t.Fatalf("Second Next failed: %v", err)
		}
		if !reflect.DeepEqual(second.Tokens, []string{"the", "dog", "ran"}) {
			t.Errorf("Unexpected second sequence: %v", second.Tokens)
		}

		if _, err := it.Next(); err != io.EOF {
			t.Errorf("Expected io.EOF at end, got %v", err)
		}
	})

	t.Run("CSVFormat", func(t *testing.T) {
		path := writeTempCorpus(t, "corpus.csv", "text\nthe cat sat\nthe dog ran\n")

		it, err := NewFileIterator(path, FormatCSV, tok)
		if err != nil {
			t.Fatalf("Failed to open iterator: %v", err)
		}
		defer it.Close()

		seq, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !reflect.DeepEqual(seq.Tokens, []string{"the", "cat", "sat"}) {
			t.Errorf("Header row leaked into sequences: %v", seq.Tokens)
		}
	})

	t.Run("JSONLFormat", func(t *testing.T) {
		path := writeTempCorpus(t, "corpus.jsonl", `{"text":"the cat sat"}`+"\n"+`{"text":"the dog ran"}`+"\n")

		it, err := NewFileIterator(path, FormatJSONL, tok)
		if err != nil {
			t.Fatalf("Failed to open iterator: %v", err)
		}
		defer it.Close()

		count := 0
		for {
			_, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			count++
		}
		if count != 2 {
			t.Errorf("Expected 2 sequences, got %d", count)
		}
	})

	t.Run("AutoDetect", func(t *testing.T) {
		path := writeTempCorpus(t, "corpus.txt", "one two three\n")

		it, err := NewFileIterator(path, "auto", tok)
		if err != nil {
			t.Fatalf("Failed to open iterator with auto format: %v", err)
		}
		defer it.Close()

		if _, err := it.Next(); err != nil {
			t.Errorf("Next failed: %v", err)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		path := writeTempCorpus(t, "corpus.txt", "a b c\nd e f\n")

		it, err := NewFileIterator(path, FormatText, tok)
		if err != nil {
			t.Fatalf("Failed to open iterator: %v", err)
		}
		defer it.Close()

		first, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}

		// Reset mid-stream; iteration must restart from the first sequence
		// with identical labels.
		if err := it.Reset(); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}

		again, err := it.Next()
		if err != nil {
			t.Fatalf("Next after Reset failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Errorf("Reset did not restart iteration: %v vs %v", first, again)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := NewFileIterator("does-not-exist.txt", FormatText, tok); err == nil {
			t.Error("Expected error for missing corpus file")
		}
	})
}
