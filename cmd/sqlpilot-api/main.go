package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/api"
	"github.com/sqlpilot/sqlpilot/internal/ask"
	"github.com/sqlpilot/sqlpilot/internal/auth"
	"github.com/sqlpilot/sqlpilot/internal/config"
	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/connections/file"
	connpostgres "github.com/sqlpilot/sqlpilot/internal/connections/postgres"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/knowledge"
	"github.com/sqlpilot/sqlpilot/internal/llm"
	"github.com/sqlpilot/sqlpilot/internal/llm/anthropic"
	"github.com/sqlpilot/sqlpilot/internal/llm/openai"
	"github.com/sqlpilot/sqlpilot/internal/objectstore"
	s3store "github.com/sqlpilot/sqlpilot/internal/objectstore/s3"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/query/sandbox"
	"github.com/sqlpilot/sqlpilot/internal/query/sqlengine"
	"github.com/sqlpilot/sqlpilot/internal/retrieval"
	"github.com/sqlpilot/sqlpilot/internal/schema/introspect"
	"github.com/sqlpilot/sqlpilot/internal/vectorstore"
	vectorpostgres "github.com/sqlpilot/sqlpilot/internal/vectorstore/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("sqlpilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		storeDB *sql.DB
		manager connections.Manager
		states  knowledge.StateStore
		checks  []api.ReadinessCheck
		err     error
	)
	if cfg.Connections.File != "" {
		registry, err := file.Load(cfg.Connections.File)
		if err != nil {
			return fmt.Errorf("load connections file: %w", err)
		}
		manager = registry
		logger.Info("using connection registry file", slog.String("path", cfg.Connections.File), slog.Any("connections", registry.IDs()))
	} else {
		storeDB, err = connpostgres.Open(ctx, connpostgres.DBConfig{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("open store db: %w", err)
		}
		defer func() { _ = storeDB.Close() }()
		repo := connpostgres.NewRepository(storeDB)
		manager = repo
		states = connpostgres.NewBuildStateRepository(storeDB)
		checks = append(checks, repo.HealthCheck)
	}

	pool := sqlengine.NewPool(manager)
	defer func() { _ = pool.Close() }()
	schemas := introspect.NewProvider(pool, logger)

	client, err := newModelClient(cfg)
	if err != nil {
		return fmt.Errorf("initialize model client: %w", err)
	}
	generator, err := generation.NewGenerator(client, generation.Config{MaxToolRounds: cfg.AI.MaxToolRounds}, logger)
	if err != nil {
		return fmt.Errorf("initialize generator: %w", err)
	}

	var (
		retriever retrieval.Retriever = retrieval.NewKeywordRetriever()
		indexer   knowledge.Indexer
		snapshots vectorstore.Lister
	)
	if cfg.Ask.VectorRetrieval {
		if storeDB == nil {
			return errors.New("vector retrieval requires the postgres store")
		}
		embedder, err := openai.NewEmbedder(openai.Config{
			BaseURL:        cfg.AI.BaseURL,
			APIKey:         cfg.AI.APIKey,
			EmbeddingModel: cfg.AI.EmbeddingModel,
			Timeout:        cfg.AI.Timeout,
		})
		if err != nil {
			return fmt.Errorf("initialize embedder: %w", err)
		}
		vectors := vectorpostgres.NewStore(storeDB)
		vectorRetriever := retrieval.NewVectorRetriever(embedder, vectors, logger, retrieval.WithIndexWorkers(cfg.Ask.IndexWorkers))
		retriever = vectorRetriever
		indexer = vectorRetriever
		snapshots = vectors
	}

	var archive objectstore.Store
	if cfg.ObjectStore.Enabled {
		archive, err = s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("initialize object store: %w", err)
		}
		checks = append(checks, api.CheckObjectStoreConfig(cfg))
	}

	executor := sandbox.NewExecutor(pool, sandbox.Config{
		RowCap:      cfg.Ask.RowCap,
		PreviewOnly: cfg.Ask.PreviewOnly,
		Timeout:     cfg.Ask.ExecTimeout,
	}, logger)
	asker := ask.NewService(ask.Dependencies{
		Connections: manager,
		Schemas:     schemas,
		Retriever:   retriever,
		Generator:   generator,
		Executor:    executor,
		Logger:      logger,
	}, ask.Config{
		DefaultTopK:   cfg.Ask.DefaultTopK,
		MaxTopK:       cfg.Ask.MaxTopK,
		CacheTTL:      cfg.Ask.CacheTTL,
		RepairEnabled: cfg.Ask.RepairEnabled,
	})
	builder := &knowledge.Service{
		Connections: manager,
		Schemas:     schemas,
		Writer:      generator,
		States:      states,
		Archive:     archive,
		Indexer:     indexer,
		Snapshots:   snapshots,
		Logger:      logger,
	}
	defer builder.Wait()

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(append([]api.ReadinessCheck{api.CheckStoreDSN(cfg)}, checks...)...),
		DependencyTimeout: time.Second,
		Asker:             asker,
		Builder:           builder,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("provider", cfg.AI.Provider))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newModelClient(cfg config.Config) (llm.Client, error) {
	switch cfg.AI.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		})
	default:
		return openai.NewClient(openai.Config{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
	}
}
