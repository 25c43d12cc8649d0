package schema

import (
	"context"
	"errors"
	"strings"
)

var ErrNoTables = errors.New("schema has no tables")

type DatabaseSchema struct {
	Name    string     `json:"name"`
	Dialect string     `json:"dialect"`
	Tables  []TableDoc `json:"tables"`
}

type TableDoc struct {
	Name        string          `json:"name"`
	Schema      string          `json:"schema,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Description string          `json:"description,omitempty"`
	Columns     []ColumnDoc     `json:"columns"`
	ForeignKeys []ForeignKeyDoc `json:"foreign_keys,omitempty"`
}

type ColumnDoc struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	PrimaryKey  bool   `json:"primary_key,omitempty"`
	Nullable    bool   `json:"nullable,omitempty"`
}

type ForeignKeyDoc struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Provider interface {
	Load(ctx context.Context, connectionID string) (DatabaseSchema, error)
}

// Table looks a table up by name or alias, ignoring case and an optional schema qualifier.
func (s DatabaseSchema) Table(name string) (TableDoc, bool) {
	for _, table := range s.Tables {
		if table.Matches(name) {
			return table, true
		}
	}
	return TableDoc{}, false
}

func (s DatabaseSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (t TableDoc) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

func (t TableDoc) Matches(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.EqualFold(t.Name, name) || strings.EqualFold(t.QualifiedName(), name) {
		return true
	}
	if idx := strings.LastIndex(name, "."); idx >= 0 && strings.EqualFold(t.Name, name[idx+1:]) {
		return true
	}
	for _, alias := range t.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

func (t TableDoc) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Context is the ordered subset of tables retrieved for one question.
type Context struct {
	Tables []TableDoc `json:"tables"`
}

func (c Context) Contains(name string) bool {
	for _, table := range c.Tables {
		if table.Matches(name) {
			return true
		}
	}
	return false
}

func (c Context) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for _, table := range c.Tables {
		names = append(names, table.Name)
	}
	return names
}
