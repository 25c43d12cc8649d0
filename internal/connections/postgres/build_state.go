package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sqlpilot/sqlpilot/internal/knowledge"
)

type BuildStateRepository struct {
	db *sql.DB
}

func NewBuildStateRepository(db *sql.DB) *BuildStateRepository {
	return &BuildStateRepository{db: db}
}

func (r *BuildStateRepository) Get(ctx context.Context, connectionID string) (knowledge.BuildState, bool, error) {
	query := `
SELECT connection_id, status, message, error_message, started_at, finished_at
FROM connection_build_state
WHERE connection_id = $1`

	var (
		state      knowledge.BuildState
		status     string
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&state.ConnectionID,
		&status,
		&state.Message,
		&state.ErrorMessage,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return knowledge.BuildState{}, false, nil
		}
		return knowledge.BuildState{}, false, fmt.Errorf("get build state: %w", err)
	}
	state.Status = knowledge.Status(status)
	if startedAt.Valid {
		ts := startedAt.Time
		state.StartTime = &ts
	}
	if finishedAt.Valid {
		ts := finishedAt.Time
		state.EndTime = &ts
	}
	return state, true, nil
}

func (r *BuildStateRepository) Put(ctx context.Context, state knowledge.BuildState) error {
	query := `
INSERT INTO connection_build_state (connection_id, status, message, error_message, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (connection_id)
DO UPDATE SET status = EXCLUDED.status, message = EXCLUDED.message, error_message = EXCLUDED.error_message,
	started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at, updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query,
		state.ConnectionID,
		string(state.Status),
		state.Message,
		state.ErrorMessage,
		nullableTime(state.StartTime),
		nullableTime(state.EndTime),
	); err != nil {
		return fmt.Errorf("put build state: %w", err)
	}
	return nil
}

func (r *BuildStateRepository) PutIfAbsent(ctx context.Context, state knowledge.BuildState) (bool, error) {
	query := `
INSERT INTO connection_build_state (connection_id, status, message, error_message, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (connection_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query,
		state.ConnectionID,
		string(state.Status),
		state.Message,
		state.ErrorMessage,
		nullableTime(state.StartTime),
		nullableTime(state.EndTime),
	)
	if err != nil {
		return false, fmt.Errorf("put build state if absent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put build state if absent: %w", err)
	}
	return affected == 1, nil
}
