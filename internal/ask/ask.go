// Package ask turns a natural-language question into validated SQL for one
// connection, optionally executing it and attaching a chart option.
package ask

import (
	"context"
	"errors"
	"fmt"

	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/query"
	"github.com/sqlpilot/sqlpilot/internal/query/sandbox"
	"github.com/sqlpilot/sqlpilot/internal/validation"
)

const (
	DefaultTopK = 8
	MaxTopK     = 20
)

var ErrEmptyQuestion = errors.New("ask: question is required")

// ConfigError reports missing wiring or an unknown connection. It is never
// worth retrying.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return "ask configuration: " + e.Reason
	}
	return fmt.Sprintf("ask configuration: %s: %v", e.Reason, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type AskOptions struct {
	ConnectionID string
	// Dialect overrides the dialect derived from the connection type.
	Dialect    string
	Execute    bool
	AllowWrite bool
	TopK       int
	Explain    bool
}

type SQLResult struct {
	SQL              []string     `json:"sql"`
	Parameters       query.Params `json:"parameters"`
	Dialect          string       `json:"dialect"`
	TouchedTables    []string     `json:"touchedTables"`
	Explanation      string       `json:"explanation,omitempty"`
	Confidence       string       `json:"confidence"`
	IsValid          bool         `json:"isValid"`
	Warnings         []string     `json:"warnings"`
	Errors           []string     `json:"errors,omitempty"`
	ExecutionPreview string       `json:"executionPreview,omitempty"`
	Columns          []string     `json:"columns,omitempty"`
	Rows             [][]any      `json:"rows,omitempty"`
	ChartType        string       `json:"chartType,omitempty"`
	ChartOption      string       `json:"chartOption,omitempty"`
	Repaired         bool         `json:"repaired,omitempty"`
	Cached           bool         `json:"cached"`
}

type Generator interface {
	GenerateSQL(ctx context.Context, req generation.SQLRequest) (generation.SQLOutput, error)
	Repair(ctx context.Context, req generation.SQLRequest, failed generation.SQLOutput, report validation.Report) (generation.SQLOutput, error)
	GenerateChart(ctx context.Context, in prompt.ChartInput) (generation.ChartOutput, error)
}

type Executor interface {
	Run(ctx context.Context, connectionID string, statements []string, params query.Params) sandbox.Outcome
}

// draft is what the cache holds: everything derived from generation, before
// any execution against live data.
type draft struct {
	result        SQLResult
	chartTemplate string
	chartType     string
}

func clampTopK(requested, fallback, ceiling int) int {
	if ceiling <= 0 || ceiling > MaxTopK {
		ceiling = MaxTopK
	}
	if fallback <= 0 {
		fallback = DefaultTopK
	}
	k := requested
	if k <= 0 {
		k = fallback
	}
	if k < 1 {
		k = 1
	}
	if k > ceiling {
		k = ceiling
	}
	return k
}
