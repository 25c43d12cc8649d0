package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/objectstore"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/retrieval"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/vectorstore"
)

type fakeManager struct {
	mu   sync.Mutex
	docs map[string]string
}

func (m *fakeManager) Get(_ context.Context, id string) (connections.Connection, error) {
	if id != "shop" {
		return connections.Connection{}, connections.ErrConnectionNotFound
	}
	return connections.Connection{ID: "shop", Name: "Shop", DatabaseType: "sqlite"}, nil
}

func (m *fakeManager) UpdateAgentDocument(_ context.Context, id, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[string]string{}
	}
	m.docs[id] = doc
	return nil
}

func (m *fakeManager) document(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id]
}

type fakeSchemas struct{}

func (fakeSchemas) Load(context.Context, string) (schema.DatabaseSchema, error) {
	return schema.DatabaseSchema{
		Name: "shop",
		Tables: []schema.TableDoc{
			{Name: "customers", Columns: []schema.ColumnDoc{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "name", Type: "TEXT"}}},
			{Name: "orders", Columns: []schema.ColumnDoc{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "total", Type: "REAL"}}},
		},
	}, nil
}

type fakeWriter struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	panics  bool
}

func (w *fakeWriter) GenerateDocument(ctx context.Context, in prompt.DocumentInput) (generation.DocumentOutput, error) {
	w.calls.Add(1)
	if w.release != nil {
		select {
		case <-w.release:
		case <-ctx.Done():
			return generation.DocumentOutput{}, ctx.Err()
		}
	}
	if w.panics {
		panic("writer exploded")
	}
	if w.err != nil {
		return generation.DocumentOutput{}, w.err
	}
	return generation.DocumentOutput{Markdown: "# " + in.ConnectionName + "\n\n" + strings.Join(in.Schema.TableNames(), ", ")}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{1, float32(len(text))}
	}
	return out, nil
}

func newTestService(t *testing.T, writer *fakeWriter) (*Service, *fakeManager, *objectstore.MemoryStore) {
	t.Helper()
	manager := &fakeManager{}
	archive := objectstore.NewMemoryStore()
	vectors := vectorstore.NewMemoryStore()
	logger := observability.NewTestLogger(t)
	svc := &Service{
		Connections: manager,
		Schemas:     fakeSchemas{},
		Writer:      writer,
		Archive:     archive,
		Indexer:     retrieval.NewVectorRetriever(fakeEmbedder{}, vectors, logger),
		Snapshots:   vectors,
		Logger:      logger,
		Clock:       func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) },
	}
	return svc, manager, archive
}

func TestStartBuildCompletesAndArchives(t *testing.T) {
	svc, manager, archive := newTestService(t, &fakeWriter{})

	state, started, err := svc.StartBuild(context.Background(), "shop")
	if err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	if !started || state.Status != StatusInProgress || state.StartTime == nil {
		t.Fatalf("StartBuild() = %+v started=%v", state, started)
	}
	svc.Wait()

	final, err := svc.Status(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if final.Status != StatusCompleted || final.EndTime == nil || final.ErrorMessage != "" {
		t.Fatalf("Status() = %+v", final)
	}
	if doc := manager.document("shop"); !strings.Contains(doc, "customers, orders") {
		t.Fatalf("agent document = %q", doc)
	}

	keys := archive.Keys()
	want := []string{
		"connections/shop/embeddings/date=2026-03-04/build-1772600767000.parquet",
		"connections/shop/knowledge/date=2026-03-04/build-1772600767000.md",
		"connections/shop/knowledge/latest.md",
	}
	if strings.Join(keys, "|") != strings.Join(want, "|") {
		t.Fatalf("archive keys = %v, want %v", keys, want)
	}

	data, err := objectstore.ReadAll(context.Background(), archive, want[0])
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	entries, err := vectorstore.ImportParquet(data)
	if err != nil {
		t.Fatalf("ImportParquet() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("snapshot entries = %d, want 2", len(entries))
	}
}

func TestStartBuildWhileInProgressDoesNotStartSecondBuild(t *testing.T) {
	writer := &fakeWriter{release: make(chan struct{})}
	svc, _, _ := newTestService(t, writer)

	if _, started, err := svc.StartBuild(context.Background(), "shop"); err != nil || !started {
		t.Fatalf("first StartBuild() started=%v error=%v", started, err)
	}
	state, started, err := svc.StartBuild(context.Background(), "shop")
	if err != nil {
		t.Fatalf("second StartBuild() error = %v", err)
	}
	if started {
		t.Fatal("second StartBuild() started a build")
	}
	if state.Status != StatusInProgress || state.Message != messageInProgress {
		t.Fatalf("second StartBuild() = %+v", state)
	}

	close(writer.release)
	svc.Wait()
	if calls := writer.calls.Load(); calls != 1 {
		t.Fatalf("writer calls = %d, want 1", calls)
	}

	if _, started, err := svc.StartBuild(context.Background(), "shop"); err != nil || !started {
		t.Fatalf("rebuild StartBuild() started=%v error=%v", started, err)
	}
	svc.Wait()
}

func TestBuildFailureIsRecorded(t *testing.T) {
	svc, _, archive := newTestService(t, &fakeWriter{err: errors.New("model unavailable")})

	if _, _, err := svc.StartBuild(context.Background(), "shop"); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	svc.Wait()

	state, err := svc.Status(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != StatusFailed || !strings.Contains(state.ErrorMessage, "model unavailable") {
		t.Fatalf("Status() = %+v", state)
	}
	if keys := archive.Keys(); len(keys) != 0 {
		t.Fatalf("archive keys = %v, want none", keys)
	}
}

func TestBuildPanicIsRecoveredAsFailure(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeWriter{panics: true})

	if _, _, err := svc.StartBuild(context.Background(), "shop"); err != nil {
		t.Fatalf("StartBuild() error = %v", err)
	}
	svc.Wait()

	state, err := svc.Status(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != StatusFailed || !strings.Contains(state.ErrorMessage, "writer exploded") {
		t.Fatalf("Status() = %+v", state)
	}
	if svc.locks.Held("shop") {
		t.Fatal("lock still held after panic")
	}
}

func TestStatusCreatesNotStartedLazily(t *testing.T) {
	states := NewMemoryStateStore()
	svc, _, _ := newTestService(t, &fakeWriter{})
	svc.States = states

	state, err := svc.Status(context.Background(), "fresh")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != StatusNotStarted {
		t.Fatalf("Status() = %+v", state)
	}
	if _, found, _ := states.Get(context.Background(), "fresh"); !found {
		t.Fatal("expected NotStarted state to be stored")
	}
}

// racingStateStore starts a build right before the first PutIfAbsent lands.
type racingStateStore struct {
	*MemoryStateStore
	before func()
	once   sync.Once
}

func (r *racingStateStore) PutIfAbsent(ctx context.Context, state BuildState) (bool, error) {
	r.once.Do(r.before)
	return r.MemoryStateStore.PutIfAbsent(ctx, state)
}

func TestStatusDoesNotOverwriteBuildStartedConcurrently(t *testing.T) {
	writer := &fakeWriter{release: make(chan struct{})}
	svc, _, _ := newTestService(t, writer)
	states := &racingStateStore{MemoryStateStore: NewMemoryStateStore()}
	states.before = func() {
		if _, started, err := svc.StartBuild(context.Background(), "shop"); err != nil || !started {
			t.Errorf("StartBuild() started=%v error=%v", started, err)
		}
	}
	svc.States = states

	state, err := svc.Status(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != StatusInProgress {
		t.Fatalf("Status() = %+v, want InProgress", state)
	}
	stored, found, _ := states.Get(context.Background(), "shop")
	if !found || stored.Status != StatusInProgress {
		t.Fatalf("stored state = %+v, found=%v", stored, found)
	}

	close(writer.release)
	svc.Wait()
	state, err = svc.Status(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("Status() after build = %+v", state)
	}
}

func TestStartBuildUnknownConnectionReleasesLock(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeWriter{})

	for i := 0; i < 2; i++ {
		_, started, err := svc.StartBuild(context.Background(), "missing")
		if !errors.Is(err, connections.ErrConnectionNotFound) {
			t.Fatalf("StartBuild() error = %v, want ErrConnectionNotFound", err)
		}
		if started {
			t.Fatal("StartBuild() started a build for unknown connection")
		}
	}
}

func TestStartBuildRequiresCollaborators(t *testing.T) {
	svc := &Service{}
	if _, _, err := svc.StartBuild(context.Background(), "shop"); err == nil {
		t.Fatal("StartBuild() expected configuration error")
	}
}
