package dialect

import (
	"strconv"
	"strings"
)

type Dialect string

const (
	PostgreSQL Dialect = "postgresql"
	MySQL      Dialect = "mysql"
	SQLServer  Dialect = "sqlserver"
	SQLite     Dialect = "sqlite"
	DuckDB     Dialect = "duckdb"
	Unknown    Dialect = "unknown"
)

type PlaceholderStyle int

const (
	NamedAt PlaceholderStyle = iota
	PositionalDollar
)

var aliases = map[string]Dialect{
	"postgres":   PostgreSQL,
	"postgresql": PostgreSQL,
	"pg":         PostgreSQL,
	"pgsql":      PostgreSQL,
	"pgx":        PostgreSQL,
	"mysql":      MySQL,
	"mariadb":    MySQL,
	"sqlserver":  SQLServer,
	"mssql":      SQLServer,
	"tsql":       SQLServer,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
	"duckdb":     DuckDB,
}

// Parse maps a free-form dialect or database type name onto a known dialect.
// Unrecognised names return Unknown.
func Parse(value string) Dialect {
	key := strings.ToLower(strings.TrimSpace(value))
	key = strings.ReplaceAll(key, " ", "")
	if d, ok := aliases[key]; ok {
		return d
	}
	return Unknown
}

func (d Dialect) String() string {
	return string(d)
}

func (d Dialect) Known() bool {
	switch d {
	case PostgreSQL, MySQL, SQLServer, SQLite, DuckDB:
		return true
	default:
		return false
	}
}

func (d Dialect) Placeholders() PlaceholderStyle {
	if d == PostgreSQL {
		return PositionalDollar
	}
	return NamedAt
}

// DisplayName is the human-readable name used in prompts.
func (d Dialect) DisplayName() string {
	switch d {
	case PostgreSQL:
		return "PostgreSQL"
	case MySQL:
		return "MySQL"
	case SQLServer:
		return "SQL Server"
	case SQLite:
		return "SQLite"
	case DuckDB:
		return "DuckDB"
	default:
		return "ANSI SQL"
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case PostgreSQL:
		return "pgx"
	case MySQL:
		return "mysql"
	case SQLServer:
		return "sqlserver"
	case SQLite:
		return "sqlite"
	case DuckDB:
		return "duckdb"
	default:
		return ""
	}
}

// LimitClause renders a row bound in the dialect's syntax, used in prompts.
func (d Dialect) LimitClause(n int) string {
	if d == SQLServer {
		return "TOP " + strconv.Itoa(n)
	}
	return "LIMIT " + strconv.Itoa(n)
}
