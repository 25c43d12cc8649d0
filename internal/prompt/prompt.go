package prompt

import (
	"fmt"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

type Prompt struct {
	System string
	User   string
}

type Input struct {
	Question      string
	Dialect       dialect.Dialect
	Context       schema.Context
	AllowWrite    bool
	Explain       bool
	AgentDocument string
}

// Assemble renders the SQL-generation prompt. Output depends only on the
// input, with tables and columns in context order.
func Assemble(in Input) Prompt {
	var system strings.Builder
	fmt.Fprintf(&system, "You translate questions into %s SQL for the connected database.\n", in.Dialect.DisplayName())
	system.WriteString("Use only the tables and columns listed in the schema context. ")
	system.WriteString("Call search_schema when the context is missing a table you need. ")
	system.WriteString("Finish by calling write_sql exactly once. Never answer with SQL in plain text.\n\n")

	system.WriteString("Mode: ")
	if in.AllowWrite {
		system.WriteString("read-write. INSERT, UPDATE and DELETE are permitted; every UPDATE and DELETE must have a WHERE clause.\n")
	} else {
		system.WriteString("read-only. Produce a single SELECT statement. Never modify data or schema.\n")
	}

	system.WriteString("Parameters: ")
	system.WriteString(placeholderRules(in.Dialect))
	system.WriteString("\n")
	system.WriteString("Declare every statement's intent as query, nonquery or chart, and list the output columns for query and chart statements.\n")
	if in.Explain {
		system.WriteString("Include a one-paragraph explanation of the query in the explanation field.\n")
	}

	if doc := strings.TrimSpace(in.AgentDocument); doc != "" {
		system.WriteString("\nDatabase notes:\n")
		system.WriteString(doc)
		system.WriteString("\n")
	}

	system.WriteString("\nSchema context:\n")
	system.WriteString(RenderTables(in.Context.Tables))

	return Prompt{
		System: system.String(),
		User:   strings.TrimSpace(in.Question),
	}
}

func placeholderRules(d dialect.Dialect) string {
	if d.Placeholders() == dialect.PositionalDollar {
		return "use positional placeholders $1, $2, ... numbered in the order the parameters are declared. Never inline user-supplied literals."
	}
	return "use named placeholders such as @customer_id and declare each one in parameters. Never inline user-supplied literals."
}

// RenderTables lists tables one per block with their columns and foreign keys.
func RenderTables(tables []schema.TableDoc) string {
	if len(tables) == 0 {
		return "(no tables)\n"
	}
	var b strings.Builder
	for _, table := range tables {
		b.WriteString("- ")
		b.WriteString(table.QualifiedName())
		if len(table.Aliases) > 0 {
			fmt.Fprintf(&b, " (aka %s)", strings.Join(table.Aliases, ", "))
		}
		if desc := strings.TrimSpace(table.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
		for _, column := range table.Columns {
			fmt.Fprintf(&b, "  - %s", column.Name)
			if column.Type != "" {
				fmt.Fprintf(&b, " %s", column.Type)
			}
			if column.PrimaryKey {
				b.WriteString(" primary key")
			}
			if ref, ok := foreignKeyFor(table, column.Name); ok {
				fmt.Fprintf(&b, " references %s", ref)
			}
			if desc := strings.TrimSpace(column.Description); desc != "" {
				fmt.Fprintf(&b, " -- %s", desc)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func foreignKeyFor(table schema.TableDoc, column string) (string, bool) {
	for _, fk := range table.ForeignKeys {
		if strings.EqualFold(fk.Column, column) {
			if fk.ReferencedColumn == "" {
				return fk.ReferencedTable, true
			}
			return fk.ReferencedTable + "." + fk.ReferencedColumn, true
		}
	}
	return "", false
}

type RepairInput struct {
	Input
	Statements []string
	Errors     []string
	Warnings   []string
}

// Repair extends the SQL prompt with the rejected statements and the
// validator's findings.
func Repair(in RepairInput) Prompt {
	base := Assemble(in.Input)
	var user strings.Builder
	user.WriteString(base.User)
	user.WriteString("\n\nThe previous attempt was rejected:\n")
	for _, stmt := range in.Statements {
		user.WriteString("  ")
		user.WriteString(stmt)
		user.WriteString("\n")
	}
	user.WriteString("Errors:\n")
	for _, msg := range in.Errors {
		fmt.Fprintf(&user, "- %s\n", msg)
	}
	if len(in.Warnings) > 0 {
		user.WriteString("Warnings:\n")
		for _, msg := range in.Warnings {
			fmt.Fprintf(&user, "- %s\n", msg)
		}
	}
	user.WriteString("Call write_sql with corrected statements.")
	return Prompt{System: base.System, User: user.String()}
}

type ChartInput struct {
	Question string
	SQL      string
	Columns  []string
}

func Chart(in ChartInput) Prompt {
	var system strings.Builder
	system.WriteString("You design ECharts option documents for query results.\n")
	system.WriteString("Never embed data values. Use the placeholders {{X_DATA}} for the category axis, ")
	system.WriteString("{{Y_DATA}} for the value series and {{DATA}} for the full row set.\n")
	system.WriteString("Finish by calling write_chart_option exactly once.")

	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n", strings.TrimSpace(in.Question))
	fmt.Fprintf(&user, "Query: %s\n", in.SQL)
	fmt.Fprintf(&user, "Result columns: %s", strings.Join(in.Columns, ", "))
	return Prompt{System: system.String(), User: user.String()}
}

type DocumentInput struct {
	ConnectionName string
	Dialect        dialect.Dialect
	Schema         schema.DatabaseSchema
}

func Document(in DocumentInput) Prompt {
	var system strings.Builder
	system.WriteString("You write concise knowledge-base documents that help analysts query a database.\n")
	system.WriteString("Describe what each table holds, how tables join, and any naming conventions or pitfalls. ")
	system.WriteString("Write Markdown and finish by calling write_document exactly once.")

	var user strings.Builder
	fmt.Fprintf(&user, "Connection: %s\nDatabase: %s\n\nTables:\n", in.ConnectionName, in.Dialect.DisplayName())
	user.WriteString(RenderTables(in.Schema.Tables))
	return Prompt{System: system.String(), User: user.String()}
}
