package corpus

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// Sequence is an ordered list of labeled elements derived from one input line
type Sequence struct {
	Label  string
	Tokens []string
}

// Iterator yields sequences lazily. Reset restarts from the beginning of the
// source by reopening it; the same iterator can feed multiple passes.
type Iterator interface {
	// Next returns the next sequence, or io.EOF when the source is exhausted.
	Next() (*Sequence, error)
	// Reset restarts iteration from the beginning of the source.
	Reset() error
	// Close releases the underlying source.
	Close() error
}

// Format represents supported corpus file formats
type Format string

const (
	FormatText    Format = "text"
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// DetectFormat detects the corpus format from the file extension
func DetectFormat(filename string) Format {
	switch {
	case strings.HasSuffix(filename, ".csv"):
		return FormatCSV
	case strings.HasSuffix(filename, ".jsonl") || strings.HasSuffix(filename, ".json"):
		return FormatJSONL
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	default:
		return FormatText
	}
}

// Record is a single row of a structured corpus file
type Record struct {
	Text string `csv:"text" parquet:"text" json:"text"`
}

// FileIterator reads sequences from a corpus file. It is restartable: Reset
// reopens the file rather than rewinding, so a partially consumed iterator
// always restarts from a clean state.
type FileIterator struct {
	path      string
	format    Format
	tokenizer *Tokenizer

	file    *os.File
	scanner *bufio.Scanner
	csvr    *csv.Reader
	jsond   *json.Decoder
	parq    *parquet.Reader
	line    int
}

// NewFileIterator opens a corpus file for iteration. The format is detected
// from the extension when format is empty or "auto".
func NewFileIterator(path string, format Format, tokenizer *Tokenizer) (*FileIterator, error) {
	if format == "" || format == "auto" {
		format = DetectFormat(path)
	}

	it := &FileIterator{
		path:      path,
		format:    format,
		tokenizer: tokenizer,
	}
	if err := it.open(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *FileIterator) open() error {
	file, err := os.Open(it.path)
	if err != nil {
		return fmt.Errorf("failed to open corpus file: %w", err)
	}
	it.file = file
	it.line = 0
	it.scanner = nil
	it.csvr = nil
	it.jsond = nil
	it.parq = nil

	switch it.format {
	case FormatText:
		sc := bufio.NewScanner(file)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		it.scanner = sc
	case FormatCSV:
		r := csv.NewReader(file)
		r.FieldsPerRecord = -1
		it.csvr = r
		// Consume the header row; structured corpora carry a "text" column.
		if _, err := r.Read(); err != nil && err != io.EOF {
			file.Close()
			return fmt.Errorf("failed to read CSV header: %w", err)
		}
	case FormatJSONL:
		it.jsond = json.NewDecoder(file)
	case FormatParquet:
		it.parq = parquet.NewReader(file)
	default:
		file.Close()
		return fmt.Errorf("unsupported corpus format: %s", it.format)
	}

	return nil
}

// Next returns the next non-empty sequence, or io.EOF when exhausted
func (it *FileIterator) Next() (*Sequence, error) {
	for {
		text, err := it.nextText()
		if err != nil {
			return nil, err
		}

		it.line++
		tokens := it.tokenizer.Tokenize(text)
		if len(tokens) == 0 {
			continue
		}

		return &Sequence{
			Label:  fmt.Sprintf("SENT_%d", it.line),
			Tokens: tokens,
		}, nil
	}
}

func (it *FileIterator) nextText() (string, error) {
	switch it.format {
	case FormatText:
		if !it.scanner.Scan() {
			if err := it.scanner.Err(); err != nil {
				return "", fmt.Errorf("failed to read corpus line: %w", err)
			}
			return "", io.EOF
		}
		return it.scanner.Text(), nil

	case FormatCSV:
		record, err := it.csvr.Read()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) == 0 {
			return "", nil
		}
		return record[0], nil

	case FormatJSONL:
		var rec Record
		err := it.jsond.Decode(&rec)
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to read JSON record: %w", err)
		}
		return rec.Text, nil

	case FormatParquet:
		var rec Record
		err := it.parq.Read(&rec)
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to read Parquet record: %w", err)
		}
		return rec.Text, nil
	}

	return "", fmt.Errorf("unsupported corpus format: %s", it.format)
}

// Reset restarts iteration from the beginning of the file
func (it *FileIterator) Reset() error {
	if err := it.Close(); err != nil {
		return err
	}
	return it.open()
}

// Close closes the underlying file
func (it *FileIterator) Close() error {
	if it.parq != nil {
		it.parq.Close()
		it.parq = nil
	}
	if it.file != nil {
		err := it.file.Close()
		it.file = nil
		return err
	}
	return nil
}
