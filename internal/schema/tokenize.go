package schema

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "did": {}, "do": {}, "does": {}, "each": {}, "for": {}, "from": {},
	"get": {}, "give": {}, "has": {}, "have": {}, "how": {}, "i": {}, "in": {},
	"is": {}, "it": {}, "list": {}, "me": {}, "many": {}, "much": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "per": {}, "please": {}, "show": {}, "the": {},
	"there": {}, "to": {}, "top": {}, "was": {}, "we": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "with": {}, "all": {}, "any": {},
	"find": {}, "most": {}, "our": {}, "than": {}, "that": {}, "this": {},
}

// Tokenize splits a question into lowercase keywords, dropping stop words and bare numbers.
func Tokenize(text string) []string {
	words := splitWords(text)
	out := make([]string, 0, len(words))
	seen := map[string]struct{}{}
	for _, word := range words {
		if _, stop := stopWords[word]; stop {
			continue
		}
		if isNumber(word) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}

// identifierTokens splits an identifier at underscores, camelCase boundaries and
// any other non-alphanumeric rune. The whole lowercased identifier is included too.
func identifierTokens(name string) []string {
	whole := strings.ToLower(strings.TrimSpace(name))
	if whole == "" {
		return nil
	}
	tokens := []string{whole}
	for _, part := range splitWords(name) {
		if part != whole {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

func splitWords(text string) []string {
	var (
		words   []string
		current []rune
		prev    rune
	)
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if unicode.IsUpper(r) && prev != 0 && unicode.IsLower(prev) {
				flush()
			}
			current = append(current, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}

// singular strips common English plural suffixes.
func singular(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 4 && (strings.HasSuffix(word, "ses") || strings.HasSuffix(word, "xes") || strings.HasSuffix(word, "ches") || strings.HasSuffix(word, "shes")):
		return word[:len(word)-2]
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss") && !strings.HasSuffix(word, "us"):
		return word[:len(word)-1]
	default:
		return word
	}
}

func isNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}
