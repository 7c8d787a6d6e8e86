package corpus

import (
	"strings"
	"unicode"
)

// Policy controls how raw text is normalized into tokens
type Policy struct {
	Lowercase  bool
	StripPunct bool
}

// DefaultPolicy returns the normalization policy used for natural-language corpora
func DefaultPolicy() Policy {
	return Policy{Lowercase: true, StripPunct: true}
}

// Tokenizer splits a line into an ordered sequence of normalized tokens.
// Tokenization is deterministic: identical input always yields identical output.
type Tokenizer struct {
	policy Policy
}

// NewTokenizer creates a tokenizer with the given normalization policy
func NewTokenizer(policy Policy) *Tokenizer {
	return &Tokenizer{policy: policy}
}

// Tokenize splits a line on whitespace and applies the normalization policy.
// Tokens that become empty after normalization are dropped.
func (t *Tokenizer) Tokenize(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := t.normalize(f)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func (t *Tokenizer) normalize(word string) string {
	if t.policy.StripPunct {
		word = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) || unicode.IsSymbol(r) {
				return -1
			}
			return r
		}, word)
	}
	if t.policy.Lowercase {
		word = strings.ToLower(word)
	}
	return word
}
