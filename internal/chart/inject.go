package chart

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	PlaceholderData  = "{{DATA}}"
	PlaceholderXData = "{{X_DATA}}"
	PlaceholderYData = "{{Y_DATA}}"
)

// Inject substitutes result data into a chart option template. It never
// fails: on any problem the template comes back unchanged together with a
// diagnostic message.
func Inject(template string, columns []string, rows [][]any) (string, string) {
	if !strings.Contains(template, PlaceholderData) &&
		!strings.Contains(template, PlaceholderXData) &&
		!strings.Contains(template, PlaceholderYData) {
		return template, "chart template has no data placeholders"
	}

	var sample []any
	if len(rows) > 0 {
		sample = rows[0]
	}
	dimension, measure, ok := SelectColumns(columns, sample)
	if !ok && (strings.Contains(template, PlaceholderXData) || strings.Contains(template, PlaceholderYData)) {
		return template, fmt.Sprintf("could not pick dimension and measure from columns %v", columns)
	}

	records := make([]map[string]any, 0, len(rows))
	xs := make([]any, 0, len(rows))
	ys := make([]any, 0, len(rows))
	dimIndex, measureIndex := indexOf(columns, dimension), indexOf(columns, measure)
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = valueAt(row, i)
		}
		records = append(records, record)
		if ok {
			xs = append(xs, valueAt(row, dimIndex))
			ys = append(ys, valueAt(row, measureIndex))
		}
	}

	replacements := map[string]any{PlaceholderData: records}
	if ok {
		replacements[PlaceholderXData] = xs
		replacements[PlaceholderYData] = ys
	}

	out := template
	for token, value := range replacements {
		encoded, err := json.Marshal(value)
		if err != nil {
			return template, fmt.Sprintf("serialize %s: %v", token, err)
		}
		out = strings.ReplaceAll(out, `"`+token+`"`, string(encoded))
		out = strings.ReplaceAll(out, token, string(encoded))
	}

	if json.Valid([]byte(quoteFree(template))) && !json.Valid([]byte(out)) {
		return template, "chart option is not valid JSON after injection"
	}
	return out, ""
}

// quoteFree swaps bare placeholders for null so a template like
// {"data": {{DATA}}} can be checked for JSON validity.
func quoteFree(template string) string {
	out := template
	for _, token := range []string{PlaceholderData, PlaceholderXData, PlaceholderYData} {
		out = strings.ReplaceAll(out, `"`+token+`"`, "null")
		out = strings.ReplaceAll(out, token, "null")
	}
	return out
}

func indexOf(values []string, target string) int {
	for i, value := range values {
		if value == target {
			return i
		}
	}
	return -1
}
