package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/vectorstore"
)

// Store keeps embeddings in the schema_embedding table as REAL[] and ranks
// them in process. Per-connection vector counts are small enough for that.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert embeddings: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
INSERT INTO schema_embedding (connection_id, table_name, content, content_hash, embedding, updated_at)
VALUES ($1, $2, $3, $4, $5::real[], $6)
ON CONFLICT (connection_id, table_name)
DO UPDATE SET content = EXCLUDED.content, content_hash = EXCLUDED.content_hash,
	embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`
	for _, entry := range entries {
		updatedAt := entry.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, query,
			entry.ConnectionID,
			entry.Table,
			entry.Content,
			entry.ContentHash,
			formatVector(entry.Embedding),
			updatedAt,
		); err != nil {
			return fmt.Errorf("upsert embedding %s/%s: %w", entry.ConnectionID, entry.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert embeddings: %w", err)
	}
	return nil
}

func (s *Store) DeleteByConnection(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schema_embedding WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, connectionID string, embedding []float32, k int) ([]vectorstore.Match, error) {
	entries, err := s.List(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return vectorstore.Rank(entries, embedding, k), nil
}

func (s *Store) IsUpToDate(ctx context.Context, connectionID, table, contentHash string) (bool, error) {
	var stored string
	err := s.db.QueryRowContext(ctx, `
SELECT content_hash
FROM schema_embedding
WHERE connection_id = $1 AND table_name = $2`, connectionID, table).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check embedding freshness: %w", err)
	}
	return stored == contentHash, nil
}

func (s *Store) Count(ctx context.Context, connectionID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_embedding WHERE connection_id = $1`, connectionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

func (s *Store) List(ctx context.Context, connectionID string) ([]vectorstore.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT connection_id, table_name, content, content_hash, embedding::text, updated_at
FROM schema_embedding
WHERE connection_id = $1
ORDER BY table_name ASC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []vectorstore.Entry
	for rows.Next() {
		var (
			entry vectorstore.Entry
			raw   string
		)
		if err := rows.Scan(&entry.ConnectionID, &entry.Table, &entry.Content, &entry.ContentHash, &raw, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vector, err := parseVector(raw)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", entry.Table, err)
		}
		entry.Embedding = vector
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return out, nil
}

// formatVector renders a Postgres array literal such as {0.1,0.2}.
func formatVector(values []float32) string {
	parts := make([]string, len(values))
	for i, value := range values {
		parts[i] = strconv.FormatFloat(float64(value), 'g', -1, 32)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func parseVector(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(value)
	}
	return out, nil
}
