package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/dialect"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sqlpilot-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
	if cfg.Store.MaxOpenConns != 20 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.AI.Provider != "openai" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.MaxToolRounds != 6 {
		t.Fatalf("AI.MaxToolRounds = %d", cfg.AI.MaxToolRounds)
	}
	if cfg.Ask.DefaultTopK != 8 || cfg.Ask.MaxTopK != 20 {
		t.Fatalf("Ask top-k = %d/%d", cfg.Ask.DefaultTopK, cfg.Ask.MaxTopK)
	}
	if cfg.Ask.RowCap != 100 {
		t.Fatalf("Ask.RowCap = %d", cfg.Ask.RowCap)
	}
	if cfg.Ask.CacheTTL != 10*time.Minute {
		t.Fatalf("Ask.CacheTTL = %s", cfg.Ask.CacheTTL)
	}
	if !cfg.Ask.RepairEnabled {
		t.Fatal("Ask.RepairEnabled should default to true")
	}
	if cfg.Ask.ExecTimeout != 30*time.Second {
		t.Fatalf("Ask.ExecTimeout = %s", cfg.Ask.ExecTimeout)
	}
	if len(cfg.Ask.PreviewOnly) != 0 {
		t.Fatalf("Ask.PreviewOnly = %v", cfg.Ask.PreviewOnly)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SQLPILOT_PROFILE": "prod"})
	cfg, err := Load("sqlpilot-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLPILOT_PROFILE":                 "test",
		"SQLPILOT_HTTP_ADDR":               ":9999",
		"SQLPILOT_HTTP_READ_TIMEOUT":       "2s",
		"SQLPILOT_LOG_LEVEL":               "error",
		"SQLPILOT_AUTH_REQUIRED":           "true",
		"SQLPILOT_AUTH_STATIC_KEYS":        "k1:t1:ask_reader",
		"SQLPILOT_STORE_DSN":               "postgres://example",
		"SQLPILOT_STORE_MAX_OPEN_CONNS":    "42",
		"SQLPILOT_SERVICE_NAME":            "sqlpilot-custom",
		"SQLPILOT_OBJECTSTORE_ENABLED":     "true",
		"SQLPILOT_OBJECTSTORE_BUCKET":      "kb-prod",
		"SQLPILOT_CONNECTIONS_FILE":        "/etc/sqlpilot/connections.yaml",
		"SQLPILOT_AI_PROVIDER":             "Anthropic",
		"SQLPILOT_AI_MODEL":                "claude-sonnet-4-5",
		"SQLPILOT_AI_TEMPERATURE":          "0.3",
		"SQLPILOT_AI_TIMEOUT":              "21s",
		"SQLPILOT_AI_MAX_TOOL_ROUNDS":      "3",
		"SQLPILOT_ASK_DEFAULT_TOP_K":       "5",
		"SQLPILOT_ASK_MAX_TOP_K":           "12",
		"SQLPILOT_ASK_CACHE_TTL":           "90s",
		"SQLPILOT_ASK_ROW_CAP":             "50",
		"SQLPILOT_ASK_VECTOR_RETRIEVAL":    "true",
		"SQLPILOT_ASK_REPAIR_ENABLED":      "false",
		"SQLPILOT_AI_EMBEDDING_MODEL":      "embed-small",
		"SQLPILOT_OBJECTSTORE_USE_SSL":     "true",
		"SQLPILOT_OBJECTSTORE_PREFIX":      "kb",
		"SQLPILOT_STORE_CONN_MAX_LIFETIME": "1h",
		"SQLPILOT_ASK_PREVIEW_ONLY":        "mssql, DuckDB,",
		"SQLPILOT_ASK_EXEC_TIMEOUT":        "12s",
	})
	cfg, err := Load("sqlpilot-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlpilot-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Store.DSN != "postgres://example" {
		t.Fatalf("Store.DSN = %q", cfg.Store.DSN)
	}
	if cfg.Store.MaxOpenConns != 42 {
		t.Fatalf("Store.MaxOpenConns = %d", cfg.Store.MaxOpenConns)
	}
	if cfg.Store.ConnMaxLifetime != time.Hour {
		t.Fatalf("Store.ConnMaxLifetime = %s", cfg.Store.ConnMaxLifetime)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Bucket != "kb-prod" || cfg.ObjectStore.Prefix != "kb" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Connections.File != "/etc/sqlpilot/connections.yaml" {
		t.Fatalf("Connections.File = %q", cfg.Connections.File)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxToolRounds != 3 {
		t.Fatalf("AI.MaxToolRounds = %d", cfg.AI.MaxToolRounds)
	}
	if cfg.AI.EmbeddingModel != "embed-small" {
		t.Fatalf("AI.EmbeddingModel = %q", cfg.AI.EmbeddingModel)
	}
	if cfg.Ask.DefaultTopK != 5 || cfg.Ask.MaxTopK != 12 {
		t.Fatalf("Ask top-k = %d/%d", cfg.Ask.DefaultTopK, cfg.Ask.MaxTopK)
	}
	if cfg.Ask.CacheTTL != 90*time.Second {
		t.Fatalf("Ask.CacheTTL = %s", cfg.Ask.CacheTTL)
	}
	if cfg.Ask.RowCap != 50 {
		t.Fatalf("Ask.RowCap = %d", cfg.Ask.RowCap)
	}
	if !cfg.Ask.VectorRetrieval {
		t.Fatal("Ask.VectorRetrieval = false, want true")
	}
	if cfg.Ask.RepairEnabled {
		t.Fatal("Ask.RepairEnabled = true, want false")
	}
	if len(cfg.Ask.PreviewOnly) != 2 || cfg.Ask.PreviewOnly[0] != dialect.SQLServer || cfg.Ask.PreviewOnly[1] != dialect.DuckDB {
		t.Fatalf("Ask.PreviewOnly = %v", cfg.Ask.PreviewOnly)
	}
	if cfg.Ask.ExecTimeout != 12*time.Second {
		t.Fatalf("Ask.ExecTimeout = %s", cfg.Ask.ExecTimeout)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLPILOT_PROFILE": "oops"},
		{"SQLPILOT_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLPILOT_STORE_MAX_OPEN_CONNS": "oops"},
		{"SQLPILOT_AI_TEMPERATURE": "bad"},
		{"SQLPILOT_AI_PROVIDER": "llamafarm"},
		{"SQLPILOT_AUTH_REQUIRED": "not-bool"},
		{"SQLPILOT_LOG_LEVEL": "verbose"},
		{"SQLPILOT_ASK_DEFAULT_TOP_K": "0"},
		{"SQLPILOT_ASK_DEFAULT_TOP_K": "30"},
		{"SQLPILOT_ASK_ROW_CAP": "-1"},
		{"SQLPILOT_ASK_PREVIEW_ONLY": "sqlite,oracle"},
		{"SQLPILOT_ASK_EXEC_TIMEOUT": "soon"},
		{"SQLPILOT_ASK_EXEC_TIMEOUT": "-1s"},
	}
	for _, env := range tests {
		_, err := Load("sqlpilot-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
