package validation

import (
	"fmt"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/schema"
)

const (
	WarningSelectStar = "SELECT * usage"
	WarningNoWhere    = "no WHERE clause"
	WarningNoLimit    = "no LIMIT clause"

	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

type Kind string

const (
	KindSelect  Kind = "SELECT"
	KindExplain Kind = "EXPLAIN"
	KindInsert  Kind = "INSERT"
	KindUpdate  Kind = "UPDATE"
	KindDelete  Kind = "DELETE"
	KindDDL     Kind = "DDL"
	KindPragma  Kind = "PRAGMA"
	KindUtility Kind = "UTILITY"
	KindUnknown Kind = "UNKNOWN"
)

// Read reports whether statements of this kind only read data.
func (k Kind) Read() bool {
	return k == KindSelect || k == KindExplain || k == KindPragma || k == KindUtility
}

type Report struct {
	Valid         bool     `json:"isValid"`
	Warnings      []string `json:"warnings"`
	Errors        []string `json:"errors"`
	TouchedTables []string `json:"touchedTables"`
	Confidence    string   `json:"confidence"`
	Kinds         []Kind   `json:"kinds,omitempty"`
}

func TableNotInContext(table string) string {
	return fmt.Sprintf("table %s not in schema context", table)
}

func UnsafeWrite(label string, kind Kind) string {
	return fmt.Sprintf("%s: unsafe write: %s without WHERE clause", label, kind)
}

var forbiddenReadOnly = []string{"insert", "update", "delete", "drop", "alter", "truncate"}

// Validate is the safety gate in front of execution. It is pattern based and
// never parses SQL fully.
func Validate(statements []string, context schema.Context, allowWrite bool) Report {
	report := Report{Warnings: []string{}, Errors: []string{}, TouchedTables: []string{}}
	addWarning := func(w string) {
		for _, existing := range report.Warnings {
			if existing == w {
				return
			}
		}
		report.Warnings = append(report.Warnings, w)
	}

	nonEmpty := 0
	for i, statement := range statements {
		lexemes := lex(statement)
		if len(lexemes) == 0 {
			continue
		}
		nonEmpty++
		label := fmt.Sprintf("statement %d", i+1)
		kind := Classify(lexemes)
		report.Kinds = append(report.Kinds, kind)

		if !allowWrite {
			if kind != KindSelect && !(kind == KindExplain && explainsSelect(lexemes)) {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s statements are not allowed in read-only mode", label, kind))
			}
			for _, word := range forbiddenReadOnly {
				if containsWord(lexemes, word) {
					report.Errors = append(report.Errors, fmt.Sprintf("%s: forbidden keyword %s in read-only mode", label, strings.ToUpper(word)))
				}
			}
		}
		if allowWrite {
			if kind == KindUnknown {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: unsupported statement type", label))
			}
			if (kind == KindUpdate || kind == KindDelete) && !containsWord(lexemes, "where") {
				report.Errors = append(report.Errors, UnsafeWrite(label, kind))
			}
		}

		if kind == KindSelect || kind == KindExplain {
			if selectsStar(lexemes) {
				addWarning(WarningSelectStar)
			}
			if !containsWord(lexemes, "where") && !isAggregate(lexemes) {
				addWarning(WarningNoWhere)
			}
			if !hasRowLimit(lexemes) {
				addWarning(WarningNoLimit)
			}
		}

		for _, table := range touchedTables(lexemes) {
			if !containsFold(report.TouchedTables, table) {
				report.TouchedTables = append(report.TouchedTables, table)
			}
		}
	}

	if nonEmpty == 0 {
		report.Errors = append(report.Errors, "no SQL statement generated")
	}
	for _, table := range report.TouchedTables {
		if !context.Contains(table) {
			addWarning(TableNotInContext(table))
		}
	}

	report.Valid = len(report.Errors) == 0
	report.Confidence = ConfidenceLow
	if report.Valid {
		report.Confidence = ConfidenceMedium
	}
	return report
}

// ClassifyStatement returns the kind of one statement by its leading keyword.
func ClassifyStatement(statement string) Kind {
	return Classify(lex(statement))
}

func Classify(lexemes []lexeme) Kind {
	i := 0
	for i < len(lexemes) && lexemes[i].isPunct("(") {
		i++
	}
	if i >= len(lexemes) || lexemes[i].kind != lexWord {
		return KindUnknown
	}
	switch lexemes[i].lower {
	case "select":
		return KindSelect
	case "with":
		return classifyCTE(lexemes[i+1:])
	// Read-only in effect but not SELECT, so read-only asks reject them.
	case "values", "table", "show", "describe", "desc":
		return KindUtility
	case "explain":
		return KindExplain
	case "insert", "replace", "merge", "upsert":
		return KindInsert
	case "update":
		return KindUpdate
	case "delete":
		return KindDelete
	case "create", "alter", "drop", "truncate", "rename", "comment":
		return KindDDL
	case "pragma":
		return KindPragma
	default:
		return KindUnknown
	}
}

// classifyCTE finds the statement that follows the WITH clause.
func classifyCTE(lexemes []lexeme) Kind {
	depth := 0
	for i, l := range lexemes {
		switch {
		case l.isPunct("("):
			depth++
		case l.isPunct(")"):
			depth--
		case depth == 0 && l.isWord("select", "insert", "update", "delete", "merge"):
			return Classify(lexemes[i:])
		}
	}
	return KindSelect
}

func explainsSelect(lexemes []lexeme) bool {
	for _, l := range lexemes[1:] {
		if l.kind != lexWord {
			continue
		}
		switch l.lower {
		case "analyze", "verbose", "query", "plan", "format", "costs", "buffers", "true", "false", "on", "off", "json", "text":
			continue
		}
		rest := Classify([]lexeme{l})
		return rest == KindSelect
	}
	return false
}

func containsWord(lexemes []lexeme, word string) bool {
	for _, l := range lexemes {
		if l.isWord(word) {
			return true
		}
	}
	return false
}

func selectsStar(lexemes []lexeme) bool {
	for i := 0; i+1 < len(lexemes); i++ {
		if !lexemes[i].isWord("select") {
			continue
		}
		j := i + 1
		for j < len(lexemes) && lexemes[j].isWord("distinct", "all") {
			j++
		}
		if j < len(lexemes) && lexemes[j].isWord("top") {
			j += 2
		}
		if j < len(lexemes) && lexemes[j].isPunct("*") {
			return true
		}
	}
	for i := 2; i < len(lexemes); i++ {
		if lexemes[i].isPunct("*") && lexemes[i-1].isPunct(".") && lexemes[i-2].kind != lexPunct {
			return true
		}
	}
	return false
}

var aggregateFuncs = []string{"count", "sum", "avg", "min", "max", "group_concat", "string_agg", "array_agg"}

func isAggregate(lexemes []lexeme) bool {
	for i, l := range lexemes {
		if l.isWord("group") && i+1 < len(lexemes) && lexemes[i+1].isWord("by") {
			return true
		}
		if i+1 < len(lexemes) && lexemes[i+1].isPunct("(") {
			for _, fn := range aggregateFuncs {
				if l.isWord(fn) {
					return true
				}
			}
		}
	}
	return false
}

func hasRowLimit(lexemes []lexeme) bool {
	for i, l := range lexemes {
		switch {
		case l.isWord("limit"), l.isWord("top"):
			return true
		case l.isWord("fetch") && i+1 < len(lexemes) && lexemes[i+1].isWord("first", "next"):
			return true
		}
	}
	return false
}

var textFunctionsUsingFrom = map[string]struct{}{
	"extract": {}, "substring": {}, "trim": {}, "position": {}, "overlay": {},
}

// touchedTables collects names that follow FROM, JOIN, UPDATE and INTO, skipping
// CTE names and FROM inside EXTRACT-style function calls.
func touchedTables(lexemes []lexeme) []string {
	ctes := map[string]struct{}{}
	for i := 0; i+2 < len(lexemes); i++ {
		if lexemes[i].isName() && lexemes[i+1].isWord("as") && lexemes[i+2].isPunct("(") {
			if i > 0 && (lexemes[i-1].isWord("with", "recursive") || lexemes[i-1].isPunct(",")) {
				ctes[strings.ToLower(lexemes[i].text)] = struct{}{}
			}
		}
	}

	var (
		out   []string
		stack []string
	)
	for i := 0; i < len(lexemes); i++ {
		l := lexemes[i]
		switch {
		case l.isPunct("("):
			fn := ""
			if i > 0 && lexemes[i-1].kind == lexWord {
				fn = lexemes[i-1].lower
			}
			stack = append(stack, fn)
			continue
		case l.isPunct(")"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if !l.isWord("from", "join", "update", "into") {
			continue
		}
		if l.isWord("from") && len(stack) > 0 {
			if _, ok := textFunctionsUsingFrom[stack[len(stack)-1]]; ok {
				continue
			}
		}
		for j := i + 1; j < len(lexemes); {
			name, next := qualifiedName(lexemes, j)
			if name == "" {
				break
			}
			if _, isCTE := ctes[strings.ToLower(name)]; !isCTE && !containsFold(out, name) {
				out = append(out, name)
			}
			j = skipAlias(lexemes, next)
			if !l.isWord("from") || j >= len(lexemes) || !lexemes[j].isPunct(",") {
				break
			}
			j++
		}
	}
	return out
}

func qualifiedName(lexemes []lexeme, i int) (string, int) {
	if i < len(lexemes) && lexemes[i].isWord("only") {
		i++
	}
	if i >= len(lexemes) || !lexemes[i].isName() {
		return "", i
	}
	parts := []string{lexemes[i].text}
	i++
	for i+1 < len(lexemes) && lexemes[i].isPunct(".") && lexemes[i+1].isName() {
		parts = append(parts, lexemes[i+1].text)
		i += 2
	}
	return strings.Join(parts, "."), i
}

func skipAlias(lexemes []lexeme, i int) int {
	if i < len(lexemes) && lexemes[i].isWord("as") {
		i++
	}
	if i < len(lexemes) && lexemes[i].isName() {
		i++
	}
	return i
}

func containsFold(values []string, value string) bool {
	for _, existing := range values {
		if strings.EqualFold(existing, value) {
			return true
		}
	}
	return false
}
