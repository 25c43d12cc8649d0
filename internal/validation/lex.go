package validation

import (
	"strings"
	"unicode"
)

type lexKind int

const (
	lexWord lexKind = iota
	lexQuoted
	lexLiteral
	lexNumber
	lexPunct
)

type lexeme struct {
	kind  lexKind
	text  string
	lower string
}

// lex splits a statement into words, quoted identifiers, literals, numbers and
// single-rune punctuation. Comments are dropped.
func lex(sql string) []lexeme {
	runes := []rune(sql)
	out := make([]lexeme, 0, len(runes)/4)
	emit := func(kind lexKind, text string) {
		out = append(out, lexeme{kind: kind, text: text, lower: strings.ToLower(text)})
	}
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i = min(i+2, len(runes))
		case r == '\'':
			end := closeQuote(runes, i, '\'')
			emit(lexLiteral, string(runes[i:end]))
			i = end
		case r == '"' || r == '`':
			end := closeQuote(runes, i, r)
			emit(lexQuoted, strings.Trim(string(runes[i:end]), string(r)))
			i = end
		case r == '[':
			end := i + 1
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			emit(lexQuoted, string(runes[i+1:min(end, len(runes))]))
			i = min(end+1, len(runes))
		case unicode.IsLetter(r) || r == '_':
			end := i
			for end < len(runes) && (unicode.IsLetter(runes[end]) || unicode.IsDigit(runes[end]) || runes[end] == '_' || runes[end] == '$') {
				end++
			}
			emit(lexWord, string(runes[i:end]))
			i = end
		case unicode.IsDigit(r):
			end := i
			for end < len(runes) && (unicode.IsDigit(runes[end]) || runes[end] == '.') {
				end++
			}
			emit(lexNumber, string(runes[i:end]))
			i = end
		default:
			emit(lexPunct, string(r))
			i++
		}
	}
	return out
}

func closeQuote(runes []rune, start int, quote rune) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(runes)
}

func (l lexeme) isWord(words ...string) bool {
	if l.kind != lexWord {
		return false
	}
	for _, w := range words {
		if l.lower == w {
			return true
		}
	}
	return false
}

func (l lexeme) isPunct(p string) bool {
	return l.kind == lexPunct && l.text == p
}

func (l lexeme) isName() bool {
	if l.kind == lexQuoted {
		return l.text != ""
	}
	if l.kind != lexWord {
		return false
	}
	_, reserved := reservedWords[l.lower]
	return !reserved
}

var reservedWords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "order": {}, "having": {}, "limit": {},
	"on": {}, "join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "outer": {}, "cross": {},
	"set": {}, "values": {}, "union": {}, "intersect": {}, "except": {}, "as": {}, "using": {},
	"natural": {}, "lateral": {}, "offset": {}, "fetch": {}, "window": {}, "returning": {},
	"default": {}, "top": {}, "with": {}, "for": {}, "and": {}, "or": {}, "not": {}, "by": {},
	"distinct": {}, "all": {}, "into": {}, "update": {}, "delete": {}, "insert": {}, "table": {},
	"only": {}, "when": {}, "then": {}, "else": {}, "end": {}, "case": {}, "of": {},
}
