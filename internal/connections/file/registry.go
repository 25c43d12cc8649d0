package file

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/dialect"
)

type registryFile struct {
	Connections []Entry `koanf:"connections"`
}

// Entry is one connection as declared in the registry file.
type Entry struct {
	ID               string `koanf:"id"`
	Name             string `koanf:"name"`
	DatabaseType     string `koanf:"database_type"`
	ConnectionString string `koanf:"connection_string"`
	AgentDocument    string `koanf:"agent_document"`
}

// Registry serves connections declared in a YAML file. Agent documents written
// at runtime are kept in memory only.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]connections.Connection
	now         func() time.Time
}

func Load(path string) (*Registry, error) {
	k := koanf.New(".")
	if err := k.Load(kfile.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load connections file %q: %w", path, err)
	}
	var parsed registryFile
	if err := k.Unmarshal("", &parsed); err != nil {
		return nil, fmt.Errorf("decode connections file %q: %w", path, err)
	}
	return New(parsed.Connections)
}

func New(entries []Entry) (*Registry, error) {
	r := &Registry{connections: map[string]connections.Connection{}, now: time.Now}
	for i, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("connection %d: id is required", i)
		}
		if _, dup := r.connections[id]; dup {
			return nil, fmt.Errorf("connection %q declared twice", id)
		}
		d := dialect.Parse(entry.DatabaseType)
		if !d.Known() {
			return nil, fmt.Errorf("connection %q: unsupported database type %q", id, entry.DatabaseType)
		}
		if strings.TrimSpace(entry.ConnectionString) == "" {
			return nil, fmt.Errorf("connection %q: connection_string is required", id)
		}
		name := entry.Name
		if name == "" {
			name = id
		}
		r.connections[id] = connections.Connection{
			ID:               id,
			Name:             name,
			DatabaseType:     d.String(),
			ConnectionString: entry.ConnectionString,
			AgentDocument:    entry.AgentDocument,
		}
	}
	return r, nil
}

func (r *Registry) Get(_ context.Context, connectionID string) (connections.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return connections.Connection{}, connections.ErrConnectionNotFound
	}
	return conn, nil
}

func (r *Registry) UpdateAgentDocument(_ context.Context, connectionID, document string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return connections.ErrConnectionNotFound
	}
	ts := r.now().UTC()
	conn.AgentDocument = document
	conn.AgentDocumentUpdatedAt = &ts
	r.connections[connectionID] = conn
	return nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
