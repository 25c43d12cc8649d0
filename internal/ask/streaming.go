package ask

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sqlpilot/sqlpilot/internal/chart"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/stream"
)

const (
	CodeInvalidRequest   = "invalid_request"
	CodeConfiguration    = "configuration_error"
	CodeGenerationFailed = "generation_failed"
	CodeInternal         = "internal_error"
)

// ErrorCode classifies an Ask error for clients.
func ErrorCode(err error) (code string, retryable bool) {
	var configErr *ConfigError
	var genErr *generation.Error
	switch {
	case errors.Is(err, ErrEmptyQuestion):
		return CodeInvalidRequest, false
	case errors.As(err, &configErr):
		return CodeConfiguration, false
	case errors.As(err, &genErr):
		return CodeGenerationFailed, genErr.Retryable
	default:
		return CodeInternal, true
	}
}

// AskStream runs Ask while forwarding model text as deltas, then emits the
// result blocks and exactly one terminal event.
func (s *Service) AskStream(ctx context.Context, question string, opts AskOptions, sink func(stream.Event)) (SQLResult, error) {
	emitter := stream.NewEmitter(sink)
	result, err := s.ask(ctx, question, opts, &hooks{onDelta: func(text string) {
		_ = emitter.Delta(text)
	}})
	if err != nil {
		code, _ := ErrorCode(err)
		var details any
		var genErr *generation.Error
		if errors.As(err, &genErr) {
			details = map[string]any{"kind": genErr.Kind}
		}
		_ = emitter.Fail(code, err.Error(), details)
		return result, err
	}

	for _, statement := range result.SQL {
		if _, err := emitter.SQL(statement, result.TouchedTables, result.Dialect); err != nil {
			return result, err
		}
	}
	if !result.IsValid {
		_, _ = emitter.ErrorBlock(strings.Join(result.Errors, "; "))
	}
	if result.Columns != nil {
		_, _ = emitter.Data(result.Columns, result.Rows, result.ExecutionPreview)
		if result.ChartOption != "" && json.Valid([]byte(result.ChartOption)) {
			config := map[string]any{}
			var sample []any
			if len(result.Rows) > 0 {
				sample = result.Rows[0]
			}
			if dimension, measure, ok := chart.SelectColumns(result.Columns, sample); ok {
				config["dimension"] = dimension
				config["measure"] = measure
			}
			_, _ = emitter.Chart(result.ChartType, json.RawMessage(result.ChartOption), config, records(result.Columns, result.Rows))
		}
	}
	return result, emitter.Done()
}

func records(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := make(map[string]any, len(columns))
		for i, column := range columns {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		out = append(out, record)
	}
	return out
}
