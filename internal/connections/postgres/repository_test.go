package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/knowledge"
)

func TestGetConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT connection_id, name, database_type, connection_string, agent_document, agent_document_updated_at, created_at
FROM connection
WHERE connection_id = $1`)).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{
			"connection_id", "name", "database_type", "connection_string", "agent_document", "agent_document_updated_at", "created_at",
		}).AddRow("shop", "Shop", "sqlite", "file:shop.db", "# Shop", now, now))

	conn, err := repo.Get(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if conn.DatabaseType != "sqlite" || conn.AgentDocument != "# Shop" {
		t.Fatalf("connection = %+v", conn)
	}
	if conn.AgentDocumentUpdatedAt == nil || !conn.AgentDocumentUpdatedAt.Equal(now) {
		t.Fatalf("AgentDocumentUpdatedAt = %v", conn.AgentDocumentUpdatedAt)
	}
	assertSQLMock(t, mock)
}

func TestGetConnectionReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM connection
WHERE connection_id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, connections.ErrConnectionNotFound) {
		t.Fatalf("Get() error = %v, want ErrConnectionNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestUpsertNormalizesDatabaseType(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO connection (connection_id, name, database_type, connection_string)`)).
		WithArgs("warehouse", "Warehouse", "postgresql", "postgres://wh").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	conn, err := repo.Upsert(context.Background(), connections.UpsertInput{
		ID:               "warehouse",
		Name:             "Warehouse",
		DatabaseType:     "pg",
		ConnectionString: "postgres://wh",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if conn.DatabaseType != "postgresql" {
		t.Fatalf("DatabaseType = %q", conn.DatabaseType)
	}
	assertSQLMock(t, mock)
}

func TestUpsertRejectsUnknownDatabaseType(t *testing.T) {
	db, _ := newSQLMock(t)
	repo := NewRepository(db)
	_, err := repo.Upsert(context.Background(), connections.UpsertInput{ID: "x", DatabaseType: "mongodb"})
	if err == nil {
		t.Fatal("expected error for unsupported database type")
	}
}

func TestUpdateAgentDocumentMissingConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE connection
SET agent_document = $2`)).
		WithArgs("missing", "doc").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAgentDocument(context.Background(), "missing", "doc")
	if !errors.Is(err, connections.ErrConnectionNotFound) {
		t.Fatalf("UpdateAgentDocument() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestBuildStateGetMissingReturnsFalse(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewBuildStateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM connection_build_state`)).
		WithArgs("shop").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := repo.Get(context.Background(), "shop")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected missing state")
	}
	assertSQLMock(t, mock)
}

func TestBuildStatePutAndGet(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewBuildStateRepository(db)
	started := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO connection_build_state`)).
		WithArgs("shop", "InProgress", "building", "", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM connection_build_state`)).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "status", "message", "error_message", "started_at", "finished_at"}).
			AddRow("shop", "InProgress", "building", "", started, nil))

	err := repo.Put(context.Background(), knowledge.BuildState{
		ConnectionID: "shop",
		Status:       knowledge.StatusInProgress,
		Message:      "building",
		StartTime:    &started,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	state, ok, err := repo.Get(context.Background(), "shop")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if state.Status != knowledge.StatusInProgress || state.StartTime == nil || state.EndTime != nil {
		t.Fatalf("state = %+v", state)
	}
	assertSQLMock(t, mock)
}

func TestBuildStatePutIfAbsentReportsConflict(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewBuildStateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (connection_id) DO NOTHING`)).
		WithArgs("shop", "NotStarted", "", "", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (connection_id) DO NOTHING`)).
		WithArgs("shop", "NotStarted", "", "", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	state := knowledge.BuildState{ConnectionID: "shop", Status: knowledge.StatusNotStarted}
	created, err := repo.PutIfAbsent(context.Background(), state)
	if err != nil || !created {
		t.Fatalf("PutIfAbsent() = %v, %v, want true", created, err)
	}
	created, err = repo.PutIfAbsent(context.Background(), state)
	if err != nil || created {
		t.Fatalf("PutIfAbsent() = %v, %v, want false", created, err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
