package postprocess

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenCode tokenKind = iota
	tokenLiteral
	tokenComment
	tokenSeparator
	tokenNamed
	tokenNumbered
	tokenQuestion
)

type token struct {
	kind   tokenKind
	text   string
	name   string
	number int
}

// tokenize splits sql into code, quoted literals, comments, statement
// separators and placeholders. Literals and comments are kept verbatim.
func tokenize(sql string) []token {
	var (
		tokens []token
		code   strings.Builder
	)
	flushCode := func() {
		if code.Len() > 0 {
			tokens = append(tokens, token{kind: tokenCode, text: code.String()})
			code.Reset()
		}
	}
	runes := []rune(sql)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '\'' || r == '"' || r == '`':
			end := quotedEnd(runes, i, r)
			flushCode()
			tokens = append(tokens, token{kind: tokenLiteral, text: string(runes[i:end])})
			i = end
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			end := i
			for end < len(runes) && runes[end] != '\n' {
				end++
			}
			flushCode()
			tokens = append(tokens, token{kind: tokenComment, text: string(runes[i:end])})
			i = end
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := i + 2
			for end+1 < len(runes) && !(runes[end] == '*' && runes[end+1] == '/') {
				end++
			}
			end = min(end+2, len(runes))
			flushCode()
			tokens = append(tokens, token{kind: tokenComment, text: string(runes[i:end])})
			i = end
		case r == ';':
			flushCode()
			tokens = append(tokens, token{kind: tokenSeparator, text: ";"})
			i++
		case r == '?':
			flushCode()
			tokens = append(tokens, token{kind: tokenQuestion, text: "?"})
			i++
		case r == '@' && i+1 < len(runes) && runes[i+1] == '@':
			code.WriteString("@@")
			i += 2
		case r == ':' && i+1 < len(runes) && runes[i+1] == ':':
			code.WriteString("::")
			i += 2
		case (r == '@' || r == ':') && startsIdent(runes, i+1) && !identRune(prev(runes, i)):
			end := identEnd(runes, i+1)
			flushCode()
			tokens = append(tokens, token{kind: tokenNamed, text: string(runes[i:end]), name: string(runes[i+1 : end])})
			i = end
		case r == '$' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && !identRune(prev(runes, i)):
			end := i + 1
			for end < len(runes) && unicode.IsDigit(runes[end]) {
				end++
			}
			n, _ := strconv.Atoi(string(runes[i+1 : end]))
			flushCode()
			tokens = append(tokens, token{kind: tokenNumbered, text: string(runes[i:end]), number: n})
			i = end
		case r == '$' && startsIdent(runes, i+1) && !identRune(prev(runes, i)):
			end := identEnd(runes, i+1)
			if end < len(runes) && runes[end] == '$' {
				code.WriteString(string(runes[i : end+1]))
				i = end + 1
				continue
			}
			flushCode()
			tokens = append(tokens, token{kind: tokenNamed, text: string(runes[i:end]), name: string(runes[i+1 : end])})
			i = end
		case r == '{' && startsIdent(runes, i+1):
			end := identEnd(runes, i+1)
			if end < len(runes) && runes[end] == '}' {
				flushCode()
				tokens = append(tokens, token{kind: tokenNamed, text: string(runes[i : end+1]), name: string(runes[i+1 : end])})
				i = end + 1
				continue
			}
			code.WriteRune(r)
			i++
		default:
			code.WriteRune(r)
			i++
		}
	}
	flushCode()
	return tokens
}

func quotedEnd(runes []rune, start int, quote rune) int {
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

func startsIdent(runes []rune, i int) bool {
	return i < len(runes) && (unicode.IsLetter(runes[i]) || runes[i] == '_')
}

func identEnd(runes []rune, i int) int {
	for i < len(runes) && identRune(runes[i]) {
		i++
	}
	return i
}

func identRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func prev(runes []rune, i int) rune {
	if i == 0 {
		return ' '
	}
	return runes[i-1]
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if i == 0 && !(unicode.IsLetter(r) || r == '_') {
			return false
		}
		if !identRune(r) {
			return false
		}
	}
	return true
}
