package query

import (
	"context"
	"time"
)

type Request struct {
	SQL      string
	Params   Params
	RowLimit int
	Read     bool
}

type Result struct {
	Columns      []string
	Rows         [][]any
	Truncated    bool
	RowsAffected int64
	Duration     time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}
