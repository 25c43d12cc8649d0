package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

type DBSource interface {
	DB(ctx context.Context, connectionID string) (*sql.DB, dialect.Dialect, error)
}

// Provider loads schemas from the live target database of a connection.
type Provider struct {
	source DBSource
	logger *slog.Logger
}

func NewProvider(source DBSource, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{source: source, logger: logger}
}

func (p *Provider) Load(ctx context.Context, connectionID string) (schema.DatabaseSchema, error) {
	db, d, err := p.source.DB(ctx, connectionID)
	if err != nil {
		return schema.DatabaseSchema{}, err
	}

	var tables []schema.TableDoc
	if d == dialect.SQLite {
		tables, err = p.loadSQLite(ctx, db)
	} else {
		tables, err = p.loadInformationSchema(ctx, db, d)
	}
	if err != nil {
		return schema.DatabaseSchema{}, fmt.Errorf("introspect %s connection %q: %w", d, connectionID, err)
	}
	return schema.DatabaseSchema{Name: connectionID, Dialect: d.String(), Tables: tables}, nil
}

func (p *Provider) loadSQLite(ctx context.Context, db *sql.DB) ([]schema.TableDoc, error) {
	rows, err := db.QueryContext(ctx, `
SELECT name
FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	tables := make([]schema.TableDoc, 0, len(names))
	for _, name := range names {
		table := schema.TableDoc{Name: name}
		columns, err := sqliteColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		table.Columns = columns
		fks, err := sqliteForeignKeys(ctx, db, name)
		if err != nil {
			return nil, err
		}
		table.ForeignKeys = fks
		tables = append(tables, table)
	}
	return tables, nil
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]schema.ColumnDoc, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []schema.ColumnDoc
	for rows.Next() {
		var (
			column  schema.ColumnDoc
			notNull int
			pk      int
		)
		if err := rows.Scan(&column.Name, &column.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		column.Nullable = notNull == 0 && pk == 0
		column.PrimaryKey = pk > 0
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	return columns, nil
}

func sqliteForeignKeys(ctx context.Context, db *sql.DB, table string) ([]schema.ForeignKeyDoc, error) {
	rows, err := db.QueryContext(ctx, `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("foreign keys of %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var fks []schema.ForeignKeyDoc
	for rows.Next() {
		var (
			fk schema.ForeignKeyDoc
			to sql.NullString
		)
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &to); err != nil {
			return nil, fmt.Errorf("scan foreign key of %q: %w", table, err)
		}
		fk.ReferencedColumn = to.String
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys of %q: %w", table, err)
	}
	return fks, nil
}

func (p *Provider) loadInformationSchema(ctx context.Context, db *sql.DB, d dialect.Dialect) ([]schema.TableDoc, error) {
	q := queriesFor(d)

	rows, err := db.QueryContext(ctx, q.columns)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	var (
		tables []schema.TableDoc
		byKey  = map[string]int{}
	)
	for rows.Next() {
		var (
			schemaName, tableName string
			column                schema.ColumnDoc
			nullable              string
		)
		if err := rows.Scan(&schemaName, &tableName, &column.Name, &column.Type, &nullable); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		column.Nullable = strings.EqualFold(nullable, "YES")
		key := tableKey(schemaName, tableName)
		idx, ok := byKey[key]
		if !ok {
			tables = append(tables, schema.TableDoc{Name: tableName, Schema: displaySchema(d, schemaName)})
			idx = len(tables) - 1
			byKey[key] = idx
		}
		tables[idx].Columns = append(tables[idx].Columns, column)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	_ = rows.Close()

	if err := p.applyPrimaryKeys(ctx, db, q.primaryKeys, tables, byKey); err != nil {
		p.logger.WarnContext(ctx, "primary key introspection failed", slog.String("dialect", d.String()), slog.String("error", err.Error()))
	}
	if err := p.applyForeignKeys(ctx, db, q.foreignKeys, tables, byKey); err != nil {
		p.logger.WarnContext(ctx, "foreign key introspection failed", slog.String("dialect", d.String()), slog.String("error", err.Error()))
	}
	return tables, nil
}

func (p *Provider) applyPrimaryKeys(ctx context.Context, db *sql.DB, statement string, tables []schema.TableDoc, byKey map[string]int) error {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var schemaName, tableName, columnName string
		if err := rows.Scan(&schemaName, &tableName, &columnName); err != nil {
			return err
		}
		idx, ok := byKey[tableKey(schemaName, tableName)]
		if !ok {
			continue
		}
		for i := range tables[idx].Columns {
			if tables[idx].Columns[i].Name == columnName {
				tables[idx].Columns[i].PrimaryKey = true
				tables[idx].Columns[i].Nullable = false
			}
		}
	}
	return rows.Err()
}

func (p *Provider) applyForeignKeys(ctx context.Context, db *sql.DB, statement string, tables []schema.TableDoc, byKey map[string]int) error {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var schemaName, tableName, columnName, refTable, refColumn string
		if err := rows.Scan(&schemaName, &tableName, &columnName, &refTable, &refColumn); err != nil {
			return err
		}
		idx, ok := byKey[tableKey(schemaName, tableName)]
		if !ok {
			continue
		}
		tables[idx].ForeignKeys = append(tables[idx].ForeignKeys, schema.ForeignKeyDoc{
			Column:           columnName,
			ReferencedTable:  refTable,
			ReferencedColumn: refColumn,
		})
	}
	return rows.Err()
}

func tableKey(schemaName, tableName string) string {
	return strings.ToLower(schemaName) + "." + strings.ToLower(tableName)
}

// displaySchema hides the default schema so prompts show bare table names.
func displaySchema(d dialect.Dialect, schemaName string) string {
	switch {
	case d == dialect.PostgreSQL && schemaName == "public":
		return ""
	case d == dialect.DuckDB && schemaName == "main":
		return ""
	case d == dialect.SQLServer && schemaName == "dbo":
		return ""
	case d == dialect.MySQL:
		return ""
	default:
		return schemaName
	}
}
