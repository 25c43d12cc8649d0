package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/cache"
	"github.com/sqlpilot/sqlpilot/internal/chart"
	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/postprocess"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/query"
	"github.com/sqlpilot/sqlpilot/internal/retrieval"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/validation"
)

type Config struct {
	DefaultTopK   int
	MaxTopK       int
	CacheTTL      time.Duration
	RepairEnabled bool
}

type Dependencies struct {
	Connections connections.Manager
	Schemas     schema.Provider
	Retriever   retrieval.Retriever
	Generator   Generator
	Executor    Executor
	Logger      *slog.Logger
	Clock       func() time.Time
}

type Service struct {
	deps  Dependencies
	cfg   Config
	cache *cache.Cache[draft]
	now   func() time.Time
}

// NewService accepts partial wiring so the host can start; Ask reports the
// missing pieces as ConfigError.
func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Retriever == nil {
		deps.Retriever = retrieval.NewKeywordRetriever()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		deps:  deps,
		cfg:   cfg,
		cache: cache.New[draft](cfg.CacheTTL, cache.WithClock[draft](now)),
		now:   now,
	}
}

func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Ask runs the full pipeline. Validation problems and execution failures
// are reported on the result; only configuration and generation failures
// are returned as errors.
func (s *Service) Ask(ctx context.Context, question string, opts AskOptions) (SQLResult, error) {
	return s.ask(ctx, question, opts, nil)
}

type hooks struct {
	onDelta func(text string)
}

func (s *Service) ask(ctx context.Context, question string, opts AskOptions, h *hooks) (SQLResult, error) {
	started := s.now()
	result, err := s.run(ctx, question, opts, h)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !result.IsValid:
		outcome = "invalid"
	}
	observability.ObserveAsk(outcome, s.now().Sub(started))
	return result, err
}

func (s *Service) run(ctx context.Context, question string, opts AskOptions, h *hooks) (SQLResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return SQLResult{}, ErrEmptyQuestion
	}
	if err := s.checkWiring(opts); err != nil {
		return SQLResult{}, err
	}

	conn, err := s.deps.Connections.Get(ctx, opts.ConnectionID)
	if err != nil {
		if errors.Is(err, connections.ErrConnectionNotFound) {
			return SQLResult{}, &ConfigError{Reason: fmt.Sprintf("connection %q", opts.ConnectionID), Err: err}
		}
		return SQLResult{}, fmt.Errorf("get connection: %w", err)
	}
	d := conn.Dialect()
	if strings.TrimSpace(opts.Dialect) != "" {
		d = dialect.Parse(opts.Dialect)
	}
	if !d.Known() {
		return SQLResult{}, &ConfigError{Reason: fmt.Sprintf("unsupported dialect for connection %q", opts.ConnectionID)}
	}

	dbSchema, err := s.deps.Schemas.Load(ctx, conn.ID)
	if err != nil {
		return SQLResult{}, fmt.Errorf("load schema: %w", err)
	}
	idx := schema.NewIndex(dbSchema)
	retrieved, err := s.deps.Retriever.Retrieve(ctx, retrieval.Query{
		ConnectionID: conn.ID,
		Question:     question,
		Schema:       dbSchema,
		Index:        idx,
		TopK:         clampTopK(opts.TopK, s.cfg.DefaultTopK, s.cfg.MaxTopK),
	})
	if err != nil {
		return SQLResult{}, fmt.Errorf("retrieve schema context: %w", err)
	}

	req := generation.SQLRequest{
		Prompt: prompt.Input{
			Question:      question,
			Dialect:       d,
			Context:       retrieved,
			AllowWrite:    opts.AllowWrite,
			Explain:       opts.Explain,
			AgentDocument: conn.AgentDocument,
		},
		Index: idx,
	}
	if h != nil {
		req.OnDelta = h.onDelta
	}

	key := cacheKey(d, conn.ID, question, retrieved, opts)
	built, hit, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (draft, error) {
		return s.generate(ctx, req)
	})
	observability.ObserveCacheLookup(hit)
	if err != nil {
		return SQLResult{}, err
	}

	result := built.result
	result.Cached = hit
	result.SQL = append([]string(nil), result.SQL...)
	result.Parameters = append(query.Params{}, result.Parameters...)
	result.TouchedTables = append([]string(nil), result.TouchedTables...)
	result.Warnings = append([]string(nil), result.Warnings...)
	result.Errors = append([]string(nil), result.Errors...)
	result.ChartType = built.chartType
	result.ChartOption = built.chartTemplate

	if opts.Execute {
		s.execute(ctx, conn.ID, built, &result)
	}
	return result, nil
}

func (s *Service) checkWiring(opts AskOptions) error {
	switch {
	case strings.TrimSpace(opts.ConnectionID) == "":
		return &ConfigError{Reason: "connection id is required"}
	case s.deps.Connections == nil:
		return &ConfigError{Reason: "connection manager is not configured"}
	case s.deps.Schemas == nil:
		return &ConfigError{Reason: "schema provider is not configured"}
	case s.deps.Generator == nil:
		return &ConfigError{Reason: "model client is not configured"}
	case opts.Execute && s.deps.Executor == nil:
		return &ConfigError{Reason: "executor is not configured"}
	}
	return nil
}

// cacheKey separates read-only from read-write and explained asks, since
// they produce different prompts for the same question.
func cacheKey(d dialect.Dialect, connectionID, question string, retrieved schema.Context, opts AskOptions) string {
	mode := "ro"
	if opts.AllowWrite {
		mode = "rw"
	}
	if opts.Explain {
		mode += "+explain"
	}
	return mode + ":" + cache.Key(d.String(), connectionID, question, retrieved.TableNames())
}

func (s *Service) generate(ctx context.Context, req generation.SQLRequest) (draft, error) {
	d := req.Prompt.Dialect
	out, err := s.deps.Generator.GenerateSQL(ctx, req)
	if err != nil {
		return draft{}, err
	}
	out = normalize(out, d)
	report := validation.Validate(out.SQL(), req.Prompt.Context, req.Prompt.AllowWrite)

	var warnings []string
	repaired := false
	if !report.Valid {
		observability.IncrementValidationFailure()
		if s.cfg.RepairEnabled {
			fixed, fixedReport, err := s.repair(ctx, req, out, report)
			switch {
			case err != nil:
				warnings = append(warnings, "repair failed: "+err.Error())
			case fixedReport.Valid:
				out, report, repaired = fixed, fixedReport, true
			}
		}
	}

	result := SQLResult{
		SQL:           out.SQL(),
		Parameters:    out.Parameters,
		Dialect:       d.String(),
		TouchedTables: report.TouchedTables,
		Explanation:   out.Explanation,
		Confidence:    report.Confidence,
		IsValid:       report.Valid,
		Warnings:      append(report.Warnings, warnings...),
		Repaired:      repaired,
	}
	if len(result.TouchedTables) == 0 && len(out.Tables) > 0 {
		result.TouchedTables = out.Tables
	}
	if len(report.Errors) > 0 {
		result.Errors = report.Errors
	}
	if !report.Valid {
		result.Warnings = append(result.Warnings, report.Errors...)
	}
	if result.Parameters == nil {
		result.Parameters = query.Params{}
	}

	built := draft{result: result}
	if report.Valid {
		if stmt, ok := out.ChartStatement(); ok {
			chartOut, err := s.deps.Generator.GenerateChart(ctx, prompt.ChartInput{
				Question: req.Prompt.Question,
				SQL:      stmt.SQL,
				Columns:  stmt.Columns,
			})
			if err != nil {
				s.deps.Logger.WarnContext(ctx, "chart generation failed", slog.Any("error", err))
				built.result.Warnings = append(built.result.Warnings, "chart generation failed: "+err.Error())
			} else {
				built.chartTemplate = chartOut.Option
				built.chartType = chartOut.ChartType
			}
		}
	}
	return built, nil
}

// repair makes the single permitted regeneration attempt.
func (s *Service) repair(ctx context.Context, req generation.SQLRequest, failed generation.SQLOutput, report validation.Report) (generation.SQLOutput, validation.Report, error) {
	req.OnDelta = nil
	fixed, err := s.deps.Generator.Repair(ctx, req, failed, report)
	if err != nil {
		observability.ObserveRepair(false)
		return generation.SQLOutput{}, validation.Report{}, err
	}
	fixed = normalize(fixed, req.Prompt.Dialect)
	fixedReport := validation.Validate(fixed.SQL(), req.Prompt.Context, req.Prompt.AllowWrite)
	observability.ObserveRepair(fixedReport.Valid)
	if !fixedReport.Valid {
		s.deps.Logger.InfoContext(ctx, "repaired sql still invalid",
			slog.String("errors", strings.Join(fixedReport.Errors, "; ")),
		)
	}
	return fixed, fixedReport, nil
}

// normalize rewrites placeholders for the target dialect. Declared intents
// survive only when the statement count is unchanged.
func normalize(out generation.SQLOutput, d dialect.Dialect) generation.SQLOutput {
	statements, params := postprocess.Apply(out.SQL(), out.Parameters, d)
	rewritten := make([]generation.Statement, len(statements))
	for i, sqlText := range statements {
		stmt := generation.Statement{SQL: sqlText, Intent: generation.IntentQuery}
		switch {
		case len(statements) == len(out.Statements):
			stmt.Intent = out.Statements[i].Intent
			stmt.Columns = out.Statements[i].Columns
		case !validation.ClassifyStatement(sqlText).Read():
			stmt.Intent = generation.IntentNonQuery
		}
		rewritten[i] = stmt
	}
	out.Statements = rewritten
	out.Parameters = params
	return out
}

func (s *Service) execute(ctx context.Context, connectionID string, built draft, result *SQLResult) {
	if !result.IsValid {
		result.Warnings = append(result.Warnings, "execution skipped: validation failed")
		return
	}
	outcome := s.deps.Executor.Run(ctx, connectionID, result.SQL, result.Parameters)
	result.Warnings = append(result.Warnings, outcome.Warnings...)
	result.ExecutionPreview = outcome.Preview

	rows, ok := outcome.FirstRows()
	if !ok {
		return
	}
	result.Columns = rows.Columns
	result.Rows = rows.Rows
	if built.chartTemplate == "" {
		return
	}
	option, diag := chart.Inject(built.chartTemplate, rows.Columns, rows.Rows)
	if diag != "" {
		s.deps.Logger.WarnContext(ctx, "chart injection failed",
			slog.String("connection_id", connectionID),
			slog.String("diagnostic", diag),
		)
		result.Warnings = append(result.Warnings, "chart injection: "+diag)
	}
	result.ChartOption = option
}
