package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/vectorstore"
)

const defaultIndexWorkers = 4

// VectorRetriever ranks tables by embedding similarity and falls back to
// keyword retrieval when the store cannot answer for the connection.
type VectorRetriever struct {
	embedder llm.Embedder
	store    vectorstore.Store
	fallback Retriever
	workers  int
	logger   *slog.Logger
}

type VectorOption func(*VectorRetriever)

func WithIndexWorkers(n int) VectorOption {
	return func(r *VectorRetriever) {
		if n > 0 {
			r.workers = n
		}
	}
}

func NewVectorRetriever(embedder llm.Embedder, store vectorstore.Store, logger *slog.Logger, opts ...VectorOption) *VectorRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &VectorRetriever{
		embedder: embedder,
		store:    store,
		fallback: NewKeywordRetriever(),
		workers:  defaultIndexWorkers,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *VectorRetriever) Retrieve(ctx context.Context, q Query) (schema.Context, error) {
	if r.embedder == nil || r.store == nil {
		return r.fallback.Retrieve(ctx, q)
	}
	count, err := r.store.Count(ctx, q.ConnectionID)
	if err != nil {
		r.logger.WarnContext(ctx, "vector store unavailable, using keyword retrieval",
			slog.String("connection_id", q.ConnectionID),
			slog.String("error", err.Error()),
		)
		return r.fallback.Retrieve(ctx, q)
	}
	if count == 0 {
		return r.fallback.Retrieve(ctx, q)
	}

	vectors, err := r.embedder.Embed(ctx, []string{q.Question})
	if err != nil || len(vectors) != 1 {
		r.logger.WarnContext(ctx, "question embedding failed, using keyword retrieval",
			slog.String("connection_id", q.ConnectionID),
			slog.Any("error", err),
		)
		return r.fallback.Retrieve(ctx, q)
	}

	limit := q.limit()
	matches, err := r.store.Search(ctx, q.ConnectionID, vectors[0], limit)
	if err != nil {
		r.logger.WarnContext(ctx, "vector search failed, using keyword retrieval",
			slog.String("connection_id", q.ConnectionID),
			slog.String("error", err.Error()),
		)
		return r.fallback.Retrieve(ctx, q)
	}

	out := make([]schema.TableDoc, 0, limit)
	seen := map[string]struct{}{}
	for _, match := range matches {
		table, ok := q.Schema.Table(match.Table)
		if !ok {
			continue
		}
		key := strings.ToLower(table.QualifiedName())
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, table)
		if len(out) == limit {
			break
		}
	}
	// Every match pointed at a dropped table; the index is stale.
	if len(out) == 0 {
		return r.fallback.Retrieve(ctx, q)
	}
	return schema.Context{Tables: out}, nil
}

// IndexConnection embeds every table whose document changed since the last
// run and upserts it. It returns the number of tables embedded.
func (r *VectorRetriever) IndexConnection(ctx context.Context, connectionID string, s schema.DatabaseSchema) (int, error) {
	if r.embedder == nil || r.store == nil {
		return 0, fmt.Errorf("vector retrieval is not configured")
	}

	type pending struct {
		table   string
		content string
		hash    string
	}
	var stale []pending
	for _, table := range s.Tables {
		content := TableDocument(table)
		hash := vectorstore.ContentHash(content)
		fresh, err := r.store.IsUpToDate(ctx, connectionID, table.Name, hash)
		if err != nil {
			return 0, fmt.Errorf("check %s: %w", table.Name, err)
		}
		if !fresh {
			stale = append(stale, pending{table: table.Name, content: content, hash: hash})
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	entries := make([]vectorstore.Entry, len(stale))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)
	for i, item := range stale {
		group.Go(func() error {
			vectors, err := r.embedder.Embed(groupCtx, []string{item.content})
			if err != nil {
				return fmt.Errorf("embed %s: %w", item.table, err)
			}
			if len(vectors) != 1 {
				return fmt.Errorf("embed %s: got %d vectors", item.table, len(vectors))
			}
			entries[i] = vectorstore.Entry{
				ConnectionID: connectionID,
				Table:        item.table,
				Content:      item.content,
				ContentHash:  item.hash,
				Embedding:    vectors[0],
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}
	if err := r.store.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("upsert embeddings: %w", err)
	}
	return len(entries), nil
}

// TableDocument is the text embedded for a table.
func TableDocument(table schema.TableDoc) string {
	var b strings.Builder
	b.WriteString(table.QualifiedName())
	if len(table.Aliases) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(table.Aliases, ", "))
		b.WriteString(")")
	}
	if table.Description != "" {
		b.WriteString(": ")
		b.WriteString(table.Description)
	}
	b.WriteString("\ncolumns: ")
	for i, column := range table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(column.Name)
		if column.Description != "" {
			b.WriteString(" (")
			b.WriteString(column.Description)
			b.WriteString(")")
		}
	}
	for _, fk := range table.ForeignKeys {
		fmt.Fprintf(&b, "\n%s references %s", fk.Column, fk.ReferencedTable)
	}
	return b.String()
}
