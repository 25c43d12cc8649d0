package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/dialect"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, connectionID string) (connections.Connection, error) {
	query := `
SELECT connection_id, name, database_type, connection_string, agent_document, agent_document_updated_at, created_at
FROM connection
WHERE connection_id = $1`

	var (
		conn      connections.Connection
		updatedAt sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&conn.ID,
		&conn.Name,
		&conn.DatabaseType,
		&conn.ConnectionString,
		&conn.AgentDocument,
		&updatedAt,
		&conn.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return connections.Connection{}, connections.ErrConnectionNotFound
		}
		return connections.Connection{}, fmt.Errorf("get connection: %w", err)
	}
	if updatedAt.Valid {
		ts := updatedAt.Time
		conn.AgentDocumentUpdatedAt = &ts
	}
	return conn, nil
}

func (r *Repository) List(ctx context.Context) ([]connections.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT connection_id, name, database_type, created_at
FROM connection
ORDER BY connection_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]connections.Connection, 0)
	for rows.Next() {
		var conn connections.Connection
		if err := rows.Scan(&conn.ID, &conn.Name, &conn.DatabaseType, &conn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan connection row: %w", err)
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection rows: %w", err)
	}
	return out, nil
}

func (r *Repository) Upsert(ctx context.Context, in connections.UpsertInput) (connections.Connection, error) {
	if strings.TrimSpace(in.ID) == "" {
		return connections.Connection{}, fmt.Errorf("connection id is required")
	}
	d := dialect.Parse(in.DatabaseType)
	if !d.Known() {
		return connections.Connection{}, fmt.Errorf("unsupported database type %q", in.DatabaseType)
	}

	query := `
INSERT INTO connection (connection_id, name, database_type, connection_string)
VALUES ($1, $2, $3, $4)
ON CONFLICT (connection_id)
DO UPDATE SET name = EXCLUDED.name, database_type = EXCLUDED.database_type, connection_string = EXCLUDED.connection_string, updated_at = NOW()
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.ID, in.Name, d.String(), in.ConnectionString).Scan(&createdAt); err != nil {
		return connections.Connection{}, fmt.Errorf("upsert connection: %w", err)
	}
	return connections.Connection{
		ID:               in.ID,
		Name:             in.Name,
		DatabaseType:     d.String(),
		ConnectionString: in.ConnectionString,
		CreatedAt:        createdAt,
	}, nil
}

func (r *Repository) UpdateAgentDocument(ctx context.Context, connectionID, document string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE connection
SET agent_document = $2, agent_document_updated_at = NOW(), updated_at = NOW()
WHERE connection_id = $1`, connectionID, document)
	if err != nil {
		return fmt.Errorf("update agent document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent document rows affected: %w", err)
	}
	if affected == 0 {
		return connections.ErrConnectionNotFound
	}
	return nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
