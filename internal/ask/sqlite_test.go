package ask

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sqlpilot/sqlpilot/internal/connections/file"
	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/query/sandbox"
	"github.com/sqlpilot/sqlpilot/internal/query/sqlengine"
	"github.com/sqlpilot/sqlpilot/internal/schema/introspect"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []llm.Response
	requests  []llm.Request
}

func (m *scriptedModel) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.requests)
	m.requests = append(m.requests, req)
	if i >= len(m.responses) {
		return llm.Response{Text: "done"}, nil
	}
	return m.responses[i], nil
}

func (m *scriptedModel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func toolCall(id, name, args string) llm.Response {
	return llm.Response{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}}}
}

func seedShop(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()
	for _, statement := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), total REAL)`,
		`INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Bob')`,
		`INSERT INTO orders (id, customer_id, total) VALUES (1, 1, 100), (2, 1, 50), (3, 2, 30)`,
	} {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("seed %q: %v", statement, err)
		}
	}
	return path
}

func newSQLiteService(t *testing.T, model llm.Client) *Service {
	t.Helper()
	registry, err := file.New([]file.Entry{{ID: "shop", DatabaseType: "sqlite", ConnectionString: seedShop(t)}})
	if err != nil {
		t.Fatalf("file.New() error = %v", err)
	}
	logger := observability.NewTestLogger(t)
	pool := sqlengine.NewPool(registry)
	t.Cleanup(func() { _ = pool.Close() })

	gen, err := generation.NewGenerator(model, generation.Config{}, logger)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return NewService(Dependencies{
		Connections: registry,
		Schemas:     introspect.NewProvider(pool, logger),
		Generator:   gen,
		Executor:    sandbox.NewExecutor(pool, sandbox.Config{RowCap: 100, Timeout: 5 * time.Second}, logger),
		Logger:      logger,
	}, Config{CacheTTL: time.Minute, RepairEnabled: true})
}

func TestAskAgainstSQLiteWithChart(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{
		toolCall("w1", generation.ToolWriteSQL, `{
			"statements":[{"sql":"SELECT c.name, SUM(o.total) AS revenue FROM customers c JOIN orders o ON o.customer_id = c.id WHERE o.total > :min GROUP BY c.name ORDER BY revenue DESC LIMIT 10","intent":"chart","columns":["name","revenue"]}],
			"parameters":{"min":0},
			"tables":["customers","orders"],
			"explanation":"revenue per customer"
		}`),
		toolCall("c1", generation.ToolWriteChartOption, `{"chart_type":"bar","option":"{\"xAxis\":{\"data\":\"{{X_DATA}}\"},\"series\":[{\"type\":\"bar\",\"data\":\"{{Y_DATA}}\"}]}"}`),
	}}
	svc := newSQLiteService(t, model)

	result, err := svc.Ask(context.Background(), "revenue by customer name", AskOptions{ConnectionID: "shop", Execute: true})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.IsValid || result.Confidence != "medium" {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.SQL[0], "o.total > @min") {
		t.Fatalf("SQL = %q", result.SQL[0])
	}
	if len(result.Rows) != 2 || result.Rows[0][0] != "Ada" || result.Rows[0][1] != float64(150) {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if result.ChartOption != `{"xAxis":{"data":["Ada","Bob"]},"series":[{"type":"bar","data":[150,30]}]}` {
		t.Fatalf("ChartOption = %s", result.ChartOption)
	}
	if result.ExecutionPreview != "returned 2 rows" {
		t.Fatalf("ExecutionPreview = %q", result.ExecutionPreview)
	}

	calls := model.count()
	again, err := svc.Ask(context.Background(), "Revenue by customer name", AskOptions{ConnectionID: "shop", Execute: true})
	if err != nil {
		t.Fatalf("second Ask() error = %v", err)
	}
	if !again.Cached || model.count() != calls {
		t.Fatalf("expected cached result without model calls, cached=%v calls=%d->%d", again.Cached, calls, model.count())
	}
	if len(again.Rows) != 2 {
		t.Fatalf("cached rows = %#v", again.Rows)
	}
}

func TestAskAgainstSQLiteRepairsUnsafeDelete(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{
		toolCall("w1", generation.ToolWriteSQL, `{"statements":[{"sql":"DELETE FROM orders","intent":"nonquery"}],"tables":["orders"]}`),
		toolCall("w2", generation.ToolWriteSQL, `{"statements":[{"sql":"DELETE FROM orders WHERE customer_id = ?","intent":"nonquery"}],"parameters":{"customer":2},"tables":["orders"]}`),
	}}
	svc := newSQLiteService(t, model)

	result, err := svc.Ask(context.Background(), "delete the orders of customer 2", AskOptions{ConnectionID: "shop", AllowWrite: true, Execute: true})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !result.Repaired || !result.IsValid {
		t.Fatalf("result = %+v", result)
	}
	if result.SQL[0] != "DELETE FROM orders WHERE customer_id = @customer" {
		t.Fatalf("SQL = %q", result.SQL[0])
	}
	if result.ExecutionPreview != "affected 1 rows" {
		t.Fatalf("ExecutionPreview = %q", result.ExecutionPreview)
	}
	repairPrompt := model.requests[1].Messages[0].Content
	if !strings.Contains(repairPrompt, "unsafe write: DELETE without WHERE clause") {
		t.Fatalf("repair prompt = %q", repairPrompt)
	}
	if model.requests[0].System == "" || !strings.Contains(model.requests[0].System, dialect.SQLite.DisplayName()) {
		t.Fatalf("system prompt = %q", model.requests[0].System)
	}
}
