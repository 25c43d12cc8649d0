package retrieval

import (
	"context"
	"fmt"

	"github.com/sqlpilot/sqlpilot/internal/schema"
)

const DefaultTopK = 8

type Query struct {
	ConnectionID string
	Question     string
	Schema       schema.DatabaseSchema
	// Index is built from Schema when nil.
	Index *schema.Index
	TopK  int
}

func (q Query) index() *schema.Index {
	if q.Index != nil {
		return q.Index
	}
	return schema.NewIndex(q.Schema)
}

func (q Query) limit() int {
	if q.TopK <= 0 {
		return DefaultTopK
	}
	return q.TopK
}

type Retriever interface {
	Retrieve(ctx context.Context, q Query) (schema.Context, error)
}

// KeywordRetriever ranks tables by keyword hits in the schema index.
type KeywordRetriever struct{}

func NewKeywordRetriever() *KeywordRetriever {
	return &KeywordRetriever{}
}

func (r *KeywordRetriever) Retrieve(_ context.Context, q Query) (schema.Context, error) {
	idx := q.index()
	tables := idx.Tables()
	if len(tables) == 0 {
		return schema.Context{}, fmt.Errorf("retrieve for %q: %w", q.ConnectionID, schema.ErrNoTables)
	}
	limit := q.limit()

	scored := idx.Score(schema.Tokenize(q.Question))
	out := make([]schema.TableDoc, 0, limit)
	for _, hit := range scored {
		if len(out) == limit {
			break
		}
		out = append(out, hit.Table)
	}
	// Nothing matched: fall back to declaration order so the model still
	// sees part of the schema.
	if len(out) == 0 {
		for _, table := range tables {
			if len(out) == limit {
				break
			}
			out = append(out, table)
		}
	}
	return schema.Context{Tables: out}, nil
}
