package connections

import (
	"context"
	"errors"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
)

var ErrConnectionNotFound = errors.New("connections: not found")

type Connection struct {
	ID                     string
	Name                   string
	DatabaseType           string
	ConnectionString       string
	AgentDocument          string
	AgentDocumentUpdatedAt *time.Time
	CreatedAt              time.Time
}

func (c Connection) Dialect() dialect.Dialect {
	return dialect.Parse(c.DatabaseType)
}

type Manager interface {
	Get(ctx context.Context, connectionID string) (Connection, error)
	UpdateAgentDocument(ctx context.Context, connectionID, document string) error
}

type UpsertInput struct {
	ID               string
	Name             string
	DatabaseType     string
	ConnectionString string
}
