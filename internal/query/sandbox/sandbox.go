package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/query"
	"github.com/sqlpilot/sqlpilot/internal/validation"
)

const (
	ModeExecute = "execute"
	ModePreview = "preview"
)

// EngineSource resolves the engine for a target connection.
type EngineSource interface {
	Engine(ctx context.Context, connectionID string) (query.Engine, dialect.Dialect, error)
}

type Config struct {
	RowCap int
	// PreviewOnly lists dialects that get an EXPLAIN plan instead of execution.
	PreviewOnly []dialect.Dialect
	Timeout     time.Duration
}

type StatementResult struct {
	SQL          string
	Kind         validation.Kind
	Mode         string
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Truncated    bool
	Plan         string
	Err          error
}

type Outcome struct {
	Statements []StatementResult
	Warnings   []string
	Preview    string
}

// FirstRows returns the first statement result that produced a row set.
func (o Outcome) FirstRows() (StatementResult, bool) {
	for _, statement := range o.Statements {
		if statement.Err == nil && statement.Mode == ModeExecute && statement.Columns != nil {
			return statement, true
		}
	}
	return StatementResult{}, false
}

type Executor struct {
	engines     EngineSource
	rowCap      int
	previewOnly map[dialect.Dialect]struct{}
	timeout     time.Duration
	logger      *slog.Logger
}

func NewExecutor(engines EngineSource, cfg Config, logger *slog.Logger) *Executor {
	rowCap := cfg.RowCap
	if rowCap <= 0 {
		rowCap = 100
	}
	previewOnly := map[dialect.Dialect]struct{}{}
	for _, d := range cfg.PreviewOnly {
		previewOnly[d] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{engines: engines, rowCap: rowCap, previewOnly: previewOnly, timeout: cfg.Timeout, logger: logger}
}

// Run executes validated statements in order. Failures never abort the run:
// each one becomes a warning and the remaining statements still execute.
func (e *Executor) Run(ctx context.Context, connectionID string, statements []string, params query.Params) Outcome {
	var outcome Outcome
	engine, d, err := e.engines.Engine(ctx, connectionID)
	if err != nil {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("execution skipped: %v", err))
		observability.ObserveExecution(ModeExecute, "unavailable")
		return outcome
	}

	_, preview := e.previewOnly[d]
	if preview {
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("execution preview only: %s connections return a query plan instead of results", d.DisplayName()))
	}

	lines := make([]string, 0, len(statements))
	for i, statement := range statements {
		kind := validation.ClassifyStatement(statement)
		var result StatementResult
		if preview {
			result = e.explain(ctx, engine, d, statement, params)
		} else {
			result = e.execute(ctx, engine, statement, kind, params)
		}
		result.Kind = kind

		outcomeLabel := "ok"
		if result.Err != nil {
			outcomeLabel = "error"
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("statement %d execution failed: %v", i+1, result.Err))
			e.logger.WarnContext(ctx, "statement execution failed",
				slog.String("connection_id", connectionID),
				slog.Int("statement", i+1),
				slog.String("error", result.Err.Error()),
			)
		}
		observability.ObserveExecution(result.Mode, outcomeLabel)

		lines = append(lines, summarize(i+1, len(statements), result))
		outcome.Statements = append(outcome.Statements, result)
	}
	outcome.Preview = strings.Join(lines, "\n")
	return outcome
}

func (e *Executor) execute(ctx context.Context, engine query.Engine, statement string, kind validation.Kind, params query.Params) StatementResult {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	result := StatementResult{SQL: statement, Mode: ModeExecute}
	res, err := engine.Execute(ctx, query.Request{SQL: statement, Params: params, RowLimit: e.rowCap, Read: kind.Read()})
	if err != nil {
		result.Err = err
		return result
	}
	result.Columns = res.Columns
	result.Rows = res.Rows
	result.RowsAffected = res.RowsAffected
	result.Truncated = res.Truncated
	if kind.Read() && result.Columns == nil {
		result.Columns = []string{}
	}
	return result
}

func (e *Executor) explain(ctx context.Context, engine query.Engine, d dialect.Dialect, statement string, params query.Params) StatementResult {
	result := StatementResult{SQL: statement, Mode: ModePreview}
	prefix := explainPrefix(d)
	if prefix == "" {
		result.Err = fmt.Errorf("no query plan support for %s", d.DisplayName())
		return result
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := engine.Execute(ctx, query.Request{SQL: prefix + statement, Params: params, RowLimit: e.rowCap, Read: true})
	if err != nil {
		result.Err = err
		return result
	}
	planLines := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			cells = append(cells, fmt.Sprint(cell))
		}
		planLines = append(planLines, strings.Join(cells, " "))
	}
	result.Plan = strings.Join(planLines, "\n")
	return result
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

func explainPrefix(d dialect.Dialect) string {
	switch d {
	case dialect.SQLite:
		return "EXPLAIN QUERY PLAN "
	case dialect.PostgreSQL, dialect.MySQL, dialect.DuckDB:
		return "EXPLAIN "
	default:
		return ""
	}
}

func summarize(n, total int, result StatementResult) string {
	prefix := ""
	if total > 1 {
		prefix = fmt.Sprintf("statement %d: ", n)
	}
	switch {
	case result.Err != nil:
		return prefix + "failed: " + result.Err.Error()
	case result.Mode == ModePreview:
		return prefix + "plan:\n" + result.Plan
	case result.Kind.Read() && result.Truncated:
		return prefix + fmt.Sprintf("returned %d of more than %d rows", len(result.Rows), len(result.Rows))
	case result.Kind.Read():
		return prefix + fmt.Sprintf("returned %d rows", len(result.Rows))
	default:
		return prefix + fmt.Sprintf("affected %d rows", result.RowsAffected)
	}
}
