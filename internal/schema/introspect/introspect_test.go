package introspect

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "modernc.org/sqlite"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
)

type staticSource struct {
	db      *sql.DB
	dialect dialect.Dialect
	err     error
}

func (s staticSource) DB(context.Context, string) (*sql.DB, dialect.Dialect, error) {
	return s.db, s.dialect, s.err
}

func TestLoadSQLiteSchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), amount REAL)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}

	provider := NewProvider(staticSource{db: db, dialect: dialect.SQLite}, nil)
	got, err := provider.Load(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Name != "shop" || got.Dialect != "sqlite" {
		t.Fatalf("schema header = %q/%q", got.Name, got.Dialect)
	}
	if names := got.TableNames(); len(names) != 2 || names[0] != "customers" || names[1] != "orders" {
		t.Fatalf("TableNames() = %v", names)
	}

	customers, _ := got.Table("customers")
	if len(customers.Columns) != 3 {
		t.Fatalf("customers columns = %+v", customers.Columns)
	}
	if !customers.Columns[0].PrimaryKey || customers.Columns[0].Nullable {
		t.Fatalf("customers.id = %+v", customers.Columns[0])
	}
	if customers.Columns[1].Nullable || !customers.Columns[2].Nullable {
		t.Fatalf("nullability = %+v", customers.Columns)
	}

	orders, _ := got.Table("orders")
	if len(orders.ForeignKeys) != 1 {
		t.Fatalf("orders foreign keys = %+v", orders.ForeignKeys)
	}
	fk := orders.ForeignKeys[0]
	if fk.Column != "customer_id" || fk.ReferencedTable != "customers" || fk.ReferencedColumn != "id" {
		t.Fatalf("foreign key = %+v", fk)
	}
}

func TestLoadPostgresSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.columns c`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("public", "customers", "id", "integer", "NO").
			AddRow("public", "customers", "name", "text", "YES").
			AddRow("sales", "orders", "id", "bigint", "NO").
			AddRow("sales", "orders", "customer_id", "integer", "YES"))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE tc.constraint_type = 'PRIMARY KEY'`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}).
			AddRow("public", "customers", "id").
			AddRow("sales", "orders", "id"))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.referential_constraints rc`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "ref_table", "ref_column"}).
			AddRow("sales", "orders", "customer_id", "customers", "id"))

	provider := NewProvider(staticSource{db: db, dialect: dialect.PostgreSQL}, nil)
	got, err := provider.Load(context.Background(), "warehouse")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Tables) != 2 {
		t.Fatalf("tables = %+v", got.Tables)
	}
	if got.Tables[0].Schema != "" || got.Tables[1].Schema != "sales" {
		t.Fatalf("schemas = %q/%q", got.Tables[0].Schema, got.Tables[1].Schema)
	}
	if !got.Tables[0].Columns[0].PrimaryKey || got.Tables[0].Columns[1].PrimaryKey {
		t.Fatalf("customers columns = %+v", got.Tables[0].Columns)
	}
	if len(got.Tables[1].ForeignKeys) != 1 || got.Tables[1].ForeignKeys[0].ReferencedTable != "customers" {
		t.Fatalf("orders foreign keys = %+v", got.Tables[1].ForeignKeys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestLoadToleratesForeignKeyFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.columns c`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("main", "events", "ts", "TIMESTAMP", "YES"))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE tc.constraint_type = 'PRIMARY KEY'`)).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name", "column_name"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.referential_constraints rc`)).
		WillReturnError(errors.New("permission denied"))

	provider := NewProvider(staticSource{db: db, dialect: dialect.DuckDB}, nil)
	got, err := provider.Load(context.Background(), "lake")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Tables) != 1 || got.Tables[0].Name != "events" || got.Tables[0].Schema != "" {
		t.Fatalf("tables = %+v", got.Tables)
	}
}

func TestLoadPropagatesSourceError(t *testing.T) {
	provider := NewProvider(staticSource{err: errors.New("unknown connection")}, nil)
	if _, err := provider.Load(context.Background(), "nope"); err == nil {
		t.Fatal("Load() expected error")
	}
}
