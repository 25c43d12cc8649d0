package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/dialect"
	"github.com/sqlpilot/sqlpilot/internal/query"
)

var ErrUnsupportedDialect = errors.New("sqlengine: unsupported database type")

type OpenFunc func(driverName, dsn string) (*sql.DB, error)

type pooled struct {
	db      *sql.DB
	dialect dialect.Dialect
	dsn     string
}

// Pool keeps one *sql.DB per target connection id.
type Pool struct {
	manager connections.Manager
	open    OpenFunc

	mu  sync.Mutex
	dbs map[string]pooled
}

func NewPool(manager connections.Manager) *Pool {
	return NewPoolWithOpener(manager, sql.Open)
}

func NewPoolWithOpener(manager connections.Manager, open OpenFunc) *Pool {
	return &Pool{manager: manager, open: open, dbs: map[string]pooled{}}
}

func (p *Pool) DB(ctx context.Context, connectionID string) (*sql.DB, dialect.Dialect, error) {
	conn, err := p.manager.Get(ctx, connectionID)
	if err != nil {
		return nil, dialect.Unknown, err
	}
	d := conn.Dialect()
	if !d.Known() {
		return nil, d, fmt.Errorf("%w: %q", ErrUnsupportedDialect, conn.DatabaseType)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.dbs[connectionID]; ok {
		if existing.dsn == conn.ConnectionString && existing.dialect == d {
			return existing.db, d, nil
		}
		_ = existing.db.Close()
		delete(p.dbs, connectionID)
	}

	db, err := p.open(d.DriverName(), conn.ConnectionString)
	if err != nil {
		return nil, d, fmt.Errorf("open %s connection %q: %w", d, connectionID, err)
	}
	configure(db, d)
	p.dbs[connectionID] = pooled{db: db, dialect: d, dsn: conn.ConnectionString}
	return db, d, nil
}

func (p *Pool) Engine(ctx context.Context, connectionID string) (query.Engine, dialect.Dialect, error) {
	db, d, err := p.DB(ctx, connectionID)
	if err != nil {
		return nil, d, err
	}
	return NewEngine(db, d), d, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, entry := range p.dbs {
		if err := entry.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", id, err))
		}
		delete(p.dbs, id)
	}
	return errors.Join(errs...)
}

func configure(db *sql.DB, d dialect.Dialect) {
	switch d {
	case dialect.SQLite, dialect.DuckDB:
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(2)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}
}
