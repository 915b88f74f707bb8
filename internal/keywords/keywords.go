// Package keywords provides the shared stopword-aware tokenizer used when
// matching task descriptions and rule content against each other and
// against session history.
package keywords

import (
	"strings"
	"unicode"
)

// minTokenLen filters out tokens too short to carry meaning on their own.
const minTokenLen = 3

// stopwords are common English words that carry no signal for matching a
// task against rules or history. Kept lowercase.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "been": true, "but": true, "by": true, "can": true,
	"could": true, "did": true, "do": true, "does": true, "for": true,
	"from": true, "get": true, "had": true, "has": true, "have": true,
	"how": true, "i": true, "if": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "just": true, "like": true,
	"make": true, "me": true, "my": true, "no": true, "not": true,
	"of": true, "on": true, "or": true, "our": true, "out": true,
	"should": true, "so": true, "some": true, "than": true, "that": true,
	"the": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "this": true, "to": true, "up": true,
	"us": true, "use": true, "using": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "will": true, "with": true, "would": true, "you": true,
	"your": true,
}

// isSeparator reports whether a rune splits tokens. Hyphen and underscore
// bind because identifiers like pre-commit and go_test should survive as
// single tokens.
func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
}

// Extract tokenizes text into lowercase keywords: punctuation-split,
// stopwords removed, tokens shorter than three characters dropped,
// duplicates removed with first-seen order preserved.
func Extract(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)

	result := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) < minTokenLen || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		result = append(result, w)
	}
	return result
}

// Overlap counts how many of the keywords occur in the candidate text.
// Matching is substring-based on the lowercased text, so a keyword like
// "test" also matches "tests" and "testing".
func Overlap(kws []string, text string) int {
	if len(kws) == 0 || text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range kws {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// OverlapAny reports whether at least one keyword occurs in the text.
func OverlapAny(kws []string, text string) bool {
	return Overlap(kws, text) > 0
}
