// Package tokenize holds the word tokenizer shared by the lexical
// components: the hash embedder, the lexical reranker, and the history
// summarizer.
package tokenize

import (
	"strings"
	"unicode"
)

// stopWords are dropped so that function words do not dominate short
// medical passages.
var stopWords = map[string]bool{
	"a": true, "about": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "been": true, "but": true, "by": true, "can": true,
	"do": true, "does": true, "for": true, "from": true, "has": true, "have": true,
	"how": true, "i": true, "if": true, "in": true, "into": true, "is": true,
	"it": true, "its": true, "me": true, "my": true, "of": true, "on": true,
	"or": true, "should": true, "so": true, "than": true, "that": true, "the": true,
	"then": true, "these": true, "this": true, "those": true, "to": true, "was": true,
	"were": true, "what": true, "when": true, "which": true, "will": true, "with": true,
	"you": true, "your": true,
}

// Words lowercases text, splits it on anything that is not a letter or
// digit, and drops stop words and single-character tokens.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Set returns the distinct Words of text.
func Set(text string) map[string]struct{} {
	words := Words(text)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether w (lowercase) is ignored by Words.
func IsStopWord(w string) bool {
	return stopWords[w]
}
