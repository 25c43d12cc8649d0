package chart

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const longTextThreshold = 50

var descriptiveNames = map[string]struct{}{
	"description": {}, "desc": {}, "notes": {}, "note": {}, "comment": {}, "comments": {},
	"content": {}, "body": {}, "text": {}, "summary": {}, "details": {},
}

var measureHints = []string{"total", "sum", "count", "amount", "avg", "average", "revenue", "sales", "price", "qty", "quantity", "value", "score"}

// SelectColumns picks a dimension and a measure column from a result set.
// sample is one representative row aligned with columns and may be nil.
// When the heuristics cannot fill both roles it falls back to the first two
// non-identifier columns; ok is false if even that is impossible.
func SelectColumns(columns []string, sample []any) (dimension, measure string, ok bool) {
	dimIndex, measureIndex := -1, -1

	for i, name := range columns {
		if IsIdentifier(name) || isDescriptive(name, valueAt(sample, i)) {
			continue
		}
		if isTextual(valueAt(sample, i)) {
			dimIndex = i
			break
		}
	}

	for i, name := range columns {
		if i == dimIndex || IsIdentifier(name) {
			continue
		}
		if isNumeric(valueAt(sample, i)) {
			measureIndex = i
			break
		}
	}
	if measureIndex < 0 {
		for i, name := range columns {
			if i == dimIndex || IsIdentifier(name) {
				continue
			}
			if valueAt(sample, i) == nil && hasMeasureHint(name) {
				measureIndex = i
				break
			}
		}
	}

	if dimIndex >= 0 && measureIndex >= 0 {
		return columns[dimIndex], columns[measureIndex], true
	}

	var fallback []string
	for _, name := range columns {
		if IsIdentifier(name) {
			continue
		}
		fallback = append(fallback, name)
		if len(fallback) == 2 {
			return fallback[0], fallback[1], true
		}
	}
	return "", "", false
}

// IsIdentifier reports whether a column name looks like a key rather than data.
func IsIdentifier(name string) bool {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)
	switch lower {
	case "id", "uuid", "guid", "key", "pk":
		return true
	}
	for _, suffix := range []string{"_id", "_uuid", "_guid", "_key", "_pk"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	// camelCase keys such as customerId or orderID.
	if strings.HasSuffix(trimmed, "Id") || strings.HasSuffix(trimmed, "ID") {
		prefix := strings.TrimSuffix(strings.TrimSuffix(trimmed, "Id"), "ID")
		if prefix != "" {
			last, _ := utf8.DecodeLastRuneInString(prefix)
			return unicode.IsLower(last) || unicode.IsDigit(last)
		}
	}
	return false
}

func isDescriptive(name string, sample any) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if _, ok := descriptiveNames[lower]; ok {
		return true
	}
	for word := range descriptiveNames {
		if strings.HasSuffix(lower, "_"+word) {
			return true
		}
	}
	if text, ok := sample.(string); ok && utf8.RuneCountInString(text) > longTextThreshold {
		return true
	}
	return false
}

func hasMeasureHint(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range measureHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func valueAt(row []any, i int) any {
	if i < 0 || i >= len(row) {
		return nil
	}
	return row[i]
}

func isTextual(value any) bool {
	switch v := value.(type) {
	case string:
		return !isNumericString(v)
	case bool:
		return true
	default:
		return false
	}
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		return true
	case string:
		return isNumericString(v)
	default:
		return false
	}
}

// isNumericString covers drivers that return DECIMAL columns as text.
func isNumericString(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}
