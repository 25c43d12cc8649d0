package prompt

import (
	"strings"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

func testContext() schema.Context {
	return schema.Context{Tables: []schema.TableDoc{
		{
			Name:        "orders",
			Description: "One row per order",
			Columns: []schema.ColumnDoc{
				{Name: "id", Type: "INTEGER", PrimaryKey: true},
				{Name: "customer_id", Type: "INTEGER"},
				{Name: "amount", Type: "REAL", Description: "gross amount"},
			},
			ForeignKeys: []schema.ForeignKeyDoc{{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"}},
		},
		{Name: "customers", Aliases: []string{"clients"}, Columns: []schema.ColumnDoc{{Name: "id", Type: "INTEGER"}}},
	}}
}

func TestAssembleIsDeterministic(t *testing.T) {
	in := Input{Question: "  total sales by customer ", Dialect: dialect.SQLite, Context: testContext()}
	first := Assemble(in)
	second := Assemble(in)
	if first != second {
		t.Fatal("Assemble() differs for identical input")
	}
	if first.User != "total sales by customer" {
		t.Fatalf("User = %q", first.User)
	}
}

func TestAssembleEmbedsDialectModeAndTables(t *testing.T) {
	got := Assemble(Input{Question: "q", Dialect: dialect.SQLite, Context: testContext()})
	for _, want := range []string{
		"SQLite SQL",
		"Mode: read-only",
		"named placeholders such as @customer_id",
		"- orders: One row per order",
		"  - id INTEGER primary key",
		"  - customer_id INTEGER references customers.id",
		"  - amount REAL -- gross amount",
		"- customers (aka clients)",
	} {
		if !strings.Contains(got.System, want) {
			t.Fatalf("System prompt missing %q:\n%s", want, got.System)
		}
	}
	if strings.Index(got.System, "- orders") > strings.Index(got.System, "- customers") {
		t.Fatal("tables rendered out of context order")
	}
}

func TestAssemblePostgresWriteMode(t *testing.T) {
	got := Assemble(Input{Question: "q", Dialect: dialect.PostgreSQL, AllowWrite: true, Explain: true, AgentDocument: "# Notes\norders are immutable"})
	for _, want := range []string{"PostgreSQL SQL", "Mode: read-write", "positional placeholders $1", "explanation field", "orders are immutable"} {
		if !strings.Contains(got.System, want) {
			t.Fatalf("System prompt missing %q", want)
		}
	}
}

func TestRepairIncludesFindings(t *testing.T) {
	got := Repair(RepairInput{
		Input:      Input{Question: "remove old orders", Dialect: dialect.SQLite, AllowWrite: true},
		Statements: []string{"DELETE FROM orders"},
		Errors:     []string{"unsafe write: DELETE without WHERE clause"},
	})
	for _, want := range []string{"remove old orders", "DELETE FROM orders", "- unsafe write: DELETE without WHERE clause", "write_sql"} {
		if !strings.Contains(got.User, want) {
			t.Fatalf("User prompt missing %q:\n%s", want, got.User)
		}
	}
}

func TestChartAndDocumentPrompts(t *testing.T) {
	chart := Chart(ChartInput{Question: "sales by category", SQL: "SELECT category, SUM(amount) FROM orders GROUP BY category", Columns: []string{"category", "total"}})
	if !strings.Contains(chart.System, "{{X_DATA}}") || !strings.Contains(chart.User, "category, total") {
		t.Fatalf("chart prompt = %+v", chart)
	}

	doc := Document(DocumentInput{ConnectionName: "shop", Dialect: dialect.MySQL, Schema: schema.DatabaseSchema{Tables: testContext().Tables}})
	if !strings.Contains(doc.User, "Database: MySQL") || !strings.Contains(doc.User, "- customers") {
		t.Fatalf("document prompt = %+v", doc)
	}
}
