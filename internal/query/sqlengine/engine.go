package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/postprocess"
	"github.com/sqlpilot/sqlpilot/internal/query"
)

const DefaultRowLimit = 100

type Engine struct {
	db      *sql.DB
	dialect dialect.Dialect
}

func NewEngine(db *sql.DB, d dialect.Dialect) *Engine {
	return &Engine{db: db, dialect: d}
}

func (e *Engine) Dialect() dialect.Dialect {
	return e.dialect
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database handle is required")
	}

	start := time.Now()
	text, args := postprocess.Bind(sqlText, request.Params, e.dialect)
	if request.Read {
		result, err := e.read(ctx, text, args, request.RowLimit)
		result.Duration = time.Since(start)
		return result, err
	}
	result, err := e.write(ctx, text, args)
	result.Duration = time.Since(start)
	return result, err
}

func (e *Engine) read(ctx context.Context, text string, args []any, limit int) (query.Result, error) {
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	rows, err := e.db.QueryContext(ctx, text, args...)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func (e *Engine) write(ctx context.Context, text string, args []any) (query.Result, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return query.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, text, args...)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute statement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	if err := tx.Commit(); err != nil {
		return query.Result{}, fmt.Errorf("commit statement: %w", err)
	}
	return query.Result{RowsAffected: affected}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339Nano)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
