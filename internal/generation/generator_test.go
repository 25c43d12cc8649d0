package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/validation"
)

func shopIndex() *schema.Index {
	return schema.NewIndex(schema.DatabaseSchema{Name: "shop", Tables: []schema.TableDoc{
		{Name: "orders", Columns: []schema.ColumnDoc{{Name: "id"}, {Name: "category"}, {Name: "amount"}}},
		{Name: "customers", Columns: []schema.ColumnDoc{{Name: "id"}, {Name: "name"}}},
	}})
}

func newTestGenerator(t *testing.T, client llm.Client) *Generator {
	t.Helper()
	gen, err := NewGenerator(client, Config{}, observability.NewTestLogger(t))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return gen
}

func TestGenerateSQLUsesSearchTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("s1", ToolSearchSchema, `{"keywords":["customer names"],"max_results":1}`)}},
		{ToolCalls: []llm.ToolCall{call("w1", ToolWriteSQL, `{
			"statements":[{"sql":"SELECT name FROM customers WHERE id = @id LIMIT 1","intent":"query","columns":["name"]}],
			"parameters":{"id":7},
			"tables":["customers"],
			"explanation":"look up one customer"
		}`)}},
	}}
	gen := newTestGenerator(t, client)

	out, err := gen.GenerateSQL(context.Background(), SQLRequest{
		Prompt: prompt.Input{Question: "name of customer 7", Dialect: dialect.SQLite},
		Index:  shopIndex(),
	})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if len(out.Statements) != 1 || out.Statements[0].Intent != IntentQuery {
		t.Fatalf("statements = %+v", out.Statements)
	}
	if i, ok := out.Parameters.Lookup("id"); !ok || out.Parameters[i].Value != int64(7) {
		t.Fatalf("parameters = %+v", out.Parameters)
	}
	if out.Explanation != "look up one customer" || out.Tables[0] != "customers" {
		t.Fatalf("output = %+v", out)
	}

	messages := client.requests[1].Messages
	result := messages[len(messages)-1].Content
	if !strings.Contains(result, "- customers") || strings.Contains(result, "- orders") {
		t.Fatalf("search result = %q", result)
	}
	if len(client.requests[0].Tools) != 2 {
		t.Fatalf("tools offered = %d", len(client.requests[0].Tools))
	}
}

func TestGenerateSQLRejectsMissingColumns(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("w1", ToolWriteSQL, `{"statements":[{"sql":"SELECT 1","intent":"chart"}]}`)}},
	}}
	gen := newTestGenerator(t, client)

	_, err := gen.GenerateSQL(context.Background(), SQLRequest{Prompt: prompt.Input{Question: "q", Dialect: dialect.SQLite}})
	var genErr *Error
	if !errors.As(err, &genErr) || genErr.Kind != KindMalformed {
		t.Fatalf("GenerateSQL() error = %v, want malformed", err)
	}
}

func TestGenerateSQLAllowsNonQueryWithoutColumns(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("w1", ToolWriteSQL, `{"statements":[{"sql":"DELETE FROM orders WHERE id = @id","intent":"nonquery"}],"parameters":{"id":1}}`)}},
	}}
	gen := newTestGenerator(t, client)

	out, err := gen.GenerateSQL(context.Background(), SQLRequest{Prompt: prompt.Input{Question: "q", Dialect: dialect.SQLite, AllowWrite: true}})
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if got := out.SQL(); len(got) != 1 || got[0] != "DELETE FROM orders WHERE id = @id" {
		t.Fatalf("SQL() = %v", got)
	}
}

func TestRepairSendsValidationErrors(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("w1", ToolWriteSQL, `{"statements":[{"sql":"DELETE FROM orders WHERE id = 1","intent":"nonquery"}]}`)}},
	}}
	gen := newTestGenerator(t, client)

	failed := SQLOutput{Statements: []Statement{{SQL: "DELETE FROM orders", Intent: IntentNonQuery}}}
	report := validation.Report{Errors: []string{"statement 1: unsafe write: DELETE without WHERE clause"}}
	out, err := gen.Repair(context.Background(), SQLRequest{Prompt: prompt.Input{Question: "remove order 1", Dialect: dialect.SQLite, AllowWrite: true}}, failed, report)
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if out.Statements[0].SQL != "DELETE FROM orders WHERE id = 1" {
		t.Fatalf("repaired = %+v", out)
	}
	user := client.requests[0].Messages[0].Content
	if !strings.Contains(user, "unsafe write") || !strings.Contains(user, "DELETE FROM orders") {
		t.Fatalf("repair prompt = %q", user)
	}
	if len(client.requests[0].Tools) != 1 {
		t.Fatalf("search tool should be absent without an index")
	}
}

func TestGenerateChartAcceptsObjectOption(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("c1", ToolWriteChartOption, `{"chart_type":"bar","option":{"xAxis":{"data":"{{X_DATA}}"},"series":[{"data":"{{Y_DATA}}"}]}}`)}},
	}}
	gen := newTestGenerator(t, client)

	out, err := gen.GenerateChart(context.Background(), prompt.ChartInput{Question: "sales by category", Columns: []string{"category", "total"}})
	if err != nil {
		t.Fatalf("GenerateChart() error = %v", err)
	}
	if out.ChartType != "bar" || !strings.Contains(out.Option, `"{{X_DATA}}"`) {
		t.Fatalf("chart = %+v", out)
	}
}

func TestGenerateChartAcceptsStringOption(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{call("c1", ToolWriteChartOption, `{"chart_type":"line","option":"{\"series\":[{\"data\":{{Y_DATA}}}]}"}`)}},
	}}
	gen := newTestGenerator(t, client)

	out, err := gen.GenerateChart(context.Background(), prompt.ChartInput{})
	if err != nil {
		t.Fatalf("GenerateChart() error = %v", err)
	}
	if out.Option != `{"series":[{"data":{{Y_DATA}}}]}` {
		t.Fatalf("Option = %q", out.Option)
	}
}

func TestGenerateDocumentSingleRound(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Text: "Here is your document: # Shop"}}}
	gen := newTestGenerator(t, client)

	_, err := gen.GenerateDocument(context.Background(), prompt.DocumentInput{ConnectionName: "shop", Dialect: dialect.SQLite})
	if !errors.Is(err, ErrNoTerminalCall) {
		t.Fatalf("GenerateDocument() error = %v, want ErrNoTerminalCall", err)
	}
	if len(client.requests) != 1 {
		t.Fatalf("model calls = %d", len(client.requests))
	}
	choice := client.requests[0].ToolChoice
	if choice.Mode != llm.ToolChoiceNamed || choice.Name != ToolWriteDocument {
		t.Fatalf("ToolChoice = %+v", choice)
	}

	client = &scriptedClient{responses: []llm.Response{{ToolCalls: []llm.ToolCall{call("d1", ToolWriteDocument, `{"markdown":"  # Shop\n\norders hold sales  "}`)}}}}
	gen = newTestGenerator(t, client)
	doc, err := gen.GenerateDocument(context.Background(), prompt.DocumentInput{ConnectionName: "shop", Dialect: dialect.SQLite})
	if err != nil {
		t.Fatalf("GenerateDocument() error = %v", err)
	}
	if doc.Markdown != "# Shop\n\norders hold sales" {
		t.Fatalf("Markdown = %q", doc.Markdown)
	}
}

func TestNewGeneratorRequiresClient(t *testing.T) {
	if _, err := NewGenerator(nil, Config{}, nil); err == nil {
		t.Fatal("NewGenerator() expected error")
	}
}
