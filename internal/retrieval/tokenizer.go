package retrieval

import (
	"strings"
	"unicode"
)

// Tokenizer splits text into index terms. The default performs
// case-insensitive splitting on non-alphanumeric boundaries and no stemming;
// a stemming tokenizer can be plugged in through WithTokenizer.
type Tokenizer interface {
	Tokenize(text string) []string
}

// SimpleTokenizer lowercases and splits on anything that is not a letter or
// digit. Single-character fragments are kept: article numbers like "6", "8",
// and "9" are load-bearing terms in this domain.
type SimpleTokenizer struct{}

// Tokenize implements Tokenizer.
func (SimpleTokenizer) Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
