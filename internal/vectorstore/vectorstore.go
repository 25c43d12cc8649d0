package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Entry is the embedding of one table document for one connection.
type Entry struct {
	ConnectionID string
	Table        string
	Content      string
	ContentHash  string
	Embedding    []float32
	UpdatedAt    time.Time
}

type Match struct {
	Table string
	Score float64
}

type Store interface {
	Upsert(ctx context.Context, entries []Entry) error
	DeleteByConnection(ctx context.Context, connectionID string) error
	Search(ctx context.Context, connectionID string, embedding []float32, k int) ([]Match, error)
	IsUpToDate(ctx context.Context, connectionID, table, contentHash string) (bool, error)
	Count(ctx context.Context, connectionID string) (int, error)
}

// Lister is implemented by stores that can enumerate a connection's entries
// for snapshot export.
type Lister interface {
	List(ctx context.Context, connectionID string) ([]Entry, error)
}

func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Rank scores entries against the query embedding and returns the best k.
// Entries with a different dimension are skipped.
func Rank(entries []Entry, embedding []float32, k int) []Match {
	matches := make([]Match, 0, len(entries))
	for _, entry := range entries {
		score, err := Cosine(entry.Embedding, embedding)
		if err != nil {
			continue
		}
		matches = append(matches, Match{Table: entry.Table, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
	order   map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]map[string]Entry{},
		order:   map[string][]string{},
	}
}

func (s *MemoryStore) Upsert(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		tables, ok := s.entries[entry.ConnectionID]
		if !ok {
			tables = map[string]Entry{}
			s.entries[entry.ConnectionID] = tables
		}
		key := strings.ToLower(entry.Table)
		if _, exists := tables[key]; !exists {
			s.order[entry.ConnectionID] = append(s.order[entry.ConnectionID], key)
		}
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = time.Now().UTC()
		}
		entry.Embedding = append([]float32(nil), entry.Embedding...)
		tables[key] = entry
	}
	return nil
}

func (s *MemoryStore) DeleteByConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, connectionID)
	delete(s.order, connectionID)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, connectionID string, embedding []float32, k int) ([]Match, error) {
	entries, err := s.List(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return Rank(entries, embedding, k), nil
}

func (s *MemoryStore) IsUpToDate(_ context.Context, connectionID, table, contentHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[connectionID][strings.ToLower(table)]
	return ok && entry.ContentHash == contentHash, nil
}

func (s *MemoryStore) Count(_ context.Context, connectionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[connectionID]), nil
}

func (s *MemoryStore) List(_ context.Context, connectionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.order[connectionID]))
	for _, key := range s.order[connectionID] {
		out = append(out, s.entries[connectionID][key])
	}
	return out, nil
}
