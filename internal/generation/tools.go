package generation

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/query"
)

const (
	ToolSearchSchema     = "search_schema"
	ToolWriteSQL         = "write_sql"
	ToolWriteChartOption = "write_chart_option"
	ToolWriteDocument    = "write_document"
)

var searchSchemaTool = llm.Tool{
	Name:        ToolSearchSchema,
	Description: "Find tables related to keywords when the schema context is missing something.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "keywords": {"type": "array", "items": {"type": "string"}},
    "max_results": {"type": "integer", "minimum": 1, "maximum": 20}
  },
  "required": ["keywords"]
}`),
}

var writeSQLTool = llm.Tool{
	Name:        ToolWriteSQL,
	Description: "Submit the final SQL. Call exactly once.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "statements": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "sql": {"type": "string"},
          "intent": {"type": "string", "enum": ["query", "nonquery", "chart"]},
          "columns": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["sql", "intent"]
      }
    },
    "parameters": {"type": "object"},
    "tables": {"type": "array", "items": {"type": "string"}},
    "explanation": {"type": "string"}
  },
  "required": ["statements"]
}`),
}

var writeChartOptionTool = llm.Tool{
	Name:        ToolWriteChartOption,
	Description: "Submit the chart option template with data placeholders. Call exactly once.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "chart_type": {"type": "string"},
    "option": {"type": "string"}
  },
  "required": ["chart_type", "option"]
}`),
}

var writeDocumentTool = llm.Tool{
	Name:        ToolWriteDocument,
	Description: "Submit the knowledge-base document as Markdown. Call exactly once.",
	Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {"markdown": {"type": "string"}},
  "required": ["markdown"]
}`),
}

type Intent string

const (
	IntentQuery    Intent = "query"
	IntentNonQuery Intent = "nonquery"
	IntentChart    Intent = "chart"
)

type Statement struct {
	SQL     string   `json:"sql"`
	Intent  Intent   `json:"intent"`
	Columns []string `json:"columns,omitempty"`
}

type SQLOutput struct {
	Statements  []Statement  `json:"statements"`
	Parameters  query.Params `json:"parameters"`
	Tables      []string     `json:"tables"`
	Explanation string       `json:"explanation,omitempty"`
}

func (o SQLOutput) SQL() []string {
	out := make([]string, 0, len(o.Statements))
	for _, stmt := range o.Statements {
		out = append(out, stmt.SQL)
	}
	return out
}

// ChartStatement returns the first statement declared as chart-producing.
func (o SQLOutput) ChartStatement() (Statement, bool) {
	for _, stmt := range o.Statements {
		if stmt.Intent == IntentChart {
			return stmt, true
		}
	}
	return Statement{}, false
}

type ChartOutput struct {
	ChartType string
	Option    string
}

type DocumentOutput struct {
	Markdown string
}

type searchArgs struct {
	Keywords   []string `json:"keywords"`
	MaxResults int      `json:"max_results"`
}

func decodeSQLOutput(raw json.RawMessage) (SQLOutput, error) {
	var out SQLOutput
	if err := decodeArgs(raw, &out); err != nil {
		return SQLOutput{}, malformedError("decode %s arguments: %v", ToolWriteSQL, err)
	}
	if len(out.Statements) == 0 {
		return SQLOutput{}, malformedError("%s requires at least one statement", ToolWriteSQL)
	}
	for i := range out.Statements {
		stmt := &out.Statements[i]
		stmt.SQL = strings.TrimSpace(stmt.SQL)
		if stmt.SQL == "" {
			return SQLOutput{}, malformedError("statement %d has no sql", i+1)
		}
		switch Intent(strings.ToLower(string(stmt.Intent))) {
		case "", IntentQuery:
			stmt.Intent = IntentQuery
		case IntentNonQuery:
			stmt.Intent = IntentNonQuery
		case IntentChart:
			stmt.Intent = IntentChart
		default:
			return SQLOutput{}, malformedError("statement %d has unknown intent %q", i+1, stmt.Intent)
		}
		if stmt.Intent != IntentNonQuery && len(stmt.Columns) == 0 {
			return SQLOutput{}, malformedError("statement %d with intent %s must list its columns", i+1, stmt.Intent)
		}
	}
	return out, nil
}

func decodeChartOutput(raw json.RawMessage) (ChartOutput, error) {
	var args struct {
		ChartType string          `json:"chart_type"`
		Option    json.RawMessage `json:"option"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return ChartOutput{}, malformedError("decode %s arguments: %v", ToolWriteChartOption, err)
	}
	option := bytes.TrimSpace(args.Option)
	if len(option) == 0 || bytes.Equal(option, []byte("null")) {
		return ChartOutput{}, malformedError("%s requires an option", ToolWriteChartOption)
	}
	// The option may arrive as a JSON string holding the template or as the
	// template object itself.
	text := string(option)
	if option[0] == '"' {
		if err := json.Unmarshal(option, &text); err != nil {
			return ChartOutput{}, malformedError("decode chart option: %v", err)
		}
	}
	if strings.TrimSpace(text) == "" {
		return ChartOutput{}, malformedError("%s requires an option", ToolWriteChartOption)
	}
	return ChartOutput{ChartType: strings.TrimSpace(args.ChartType), Option: text}, nil
}

func decodeDocumentOutput(raw json.RawMessage) (DocumentOutput, error) {
	var args struct {
		Markdown string `json:"markdown"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return DocumentOutput{}, malformedError("decode %s arguments: %v", ToolWriteDocument, err)
	}
	if strings.TrimSpace(args.Markdown) == "" {
		return DocumentOutput{}, malformedError("%s requires markdown", ToolWriteDocument)
	}
	return DocumentOutput{Markdown: strings.TrimSpace(args.Markdown)}, nil
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return json.Unmarshal(raw, dst)
}
