package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/connections"
	"github.com/sqlpilot/sqlpilot/internal/generation"
	"github.com/sqlpilot/sqlpilot/internal/objectstore"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/prompt"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/vectorstore"
)

const defaultBuildTimeout = 10 * time.Minute

const (
	messageStarted    = "knowledge base build started"
	messageInProgress = "knowledge base build already in progress"
	messageCompleted  = "knowledge base build completed"
	messageFailed     = "knowledge base build failed"
)

// DocumentWriter produces the knowledge-base markdown for a schema.
type DocumentWriter interface {
	GenerateDocument(ctx context.Context, in prompt.DocumentInput) (generation.DocumentOutput, error)
}

// Indexer embeds table documents for vector retrieval.
type Indexer interface {
	IndexConnection(ctx context.Context, connectionID string, s schema.DatabaseSchema) (int, error)
}

// Service runs at most one background build per connection id. Archive,
// Indexer and Snapshots are optional.
type Service struct {
	Connections connections.Manager
	Schemas     schema.Provider
	Writer      DocumentWriter
	States      StateStore
	Archive     objectstore.Store
	Indexer     Indexer
	Snapshots   vectorstore.Lister
	Logger      *slog.Logger
	Clock       func() time.Time
	Timeout     time.Duration

	initOnce sync.Once
	locks    *KeyedLocks
	wg       sync.WaitGroup
}

func (s *Service) ensureDefaults() {
	s.initOnce.Do(func() {
		s.locks = NewKeyedLocks()
		if s.Clock == nil {
			s.Clock = time.Now
		}
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		if s.States == nil {
			s.States = NewMemoryStateStore()
		}
		if s.Timeout <= 0 {
			s.Timeout = defaultBuildTimeout
		}
	})
}

func (s *Service) validate() error {
	if s.Connections == nil {
		return fmt.Errorf("connection manager is required")
	}
	if s.Schemas == nil {
		return fmt.Errorf("schema provider is required")
	}
	if s.Writer == nil {
		return fmt.Errorf("document writer is required")
	}
	return nil
}

// StartBuild never blocks on a running build: when one is in flight it
// returns the current state with started=false.
func (s *Service) StartBuild(ctx context.Context, connectionID string) (BuildState, bool, error) {
	s.ensureDefaults()
	if err := s.validate(); err != nil {
		return BuildState{}, false, err
	}

	unlock, ok := s.locks.TryLock(connectionID)
	if !ok {
		state, found, err := s.States.Get(ctx, connectionID)
		if err != nil {
			return BuildState{}, false, err
		}
		if !found || state.Status != StatusInProgress {
			state = BuildState{ConnectionID: connectionID, Status: StatusInProgress}
		}
		state.Message = messageInProgress
		return state, false, nil
	}

	conn, err := s.Connections.Get(ctx, connectionID)
	if err != nil {
		unlock()
		return BuildState{}, false, err
	}

	started := s.Clock().UTC()
	state := BuildState{
		ConnectionID: connectionID,
		Status:       StatusInProgress,
		Message:      messageStarted,
		StartTime:    &started,
	}
	if err := s.States.Put(ctx, state); err != nil {
		unlock()
		return BuildState{}, false, fmt.Errorf("store build state: %w", err)
	}

	observability.BuildStarted()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unlock()
		s.run(context.WithoutCancel(ctx), conn, state)
	}()
	return state, true, nil
}

// Status creates a NotStarted record on first query. The record is only
// written when absent so it cannot replace a build that started meanwhile.
func (s *Service) Status(ctx context.Context, connectionID string) (BuildState, error) {
	s.ensureDefaults()
	state, found, err := s.States.Get(ctx, connectionID)
	if err != nil {
		return BuildState{}, err
	}
	if found {
		return state, nil
	}
	if s.locks.Held(connectionID) {
		return BuildState{ConnectionID: connectionID, Status: StatusInProgress, Message: messageInProgress}, nil
	}
	state = BuildState{ConnectionID: connectionID, Status: StatusNotStarted}
	created, err := s.States.PutIfAbsent(ctx, state)
	if err != nil {
		return BuildState{}, fmt.Errorf("store build state: %w", err)
	}
	if created {
		return state, nil
	}
	current, found, err := s.States.Get(ctx, connectionID)
	if err != nil {
		return BuildState{}, err
	}
	if !found {
		return state, nil
	}
	return current, nil
}

// Wait blocks until every background build has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, conn connections.Connection, state BuildState) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	logger := s.Logger.With(slog.String("connection_id", conn.ID))
	var buildErr error
	defer func() {
		if recovered := recover(); recovered != nil {
			buildErr = fmt.Errorf("build panicked: %v", recovered)
		}
		s.finish(ctx, logger, state, buildErr)
	}()

	buildErr = s.build(ctx, logger, conn)
}

func (s *Service) build(ctx context.Context, logger *slog.Logger, conn connections.Connection) error {
	dbSchema, err := s.Schemas.Load(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if len(dbSchema.Tables) == 0 {
		return fmt.Errorf("load schema: no tables found")
	}

	doc, err := s.Writer.GenerateDocument(ctx, prompt.DocumentInput{
		ConnectionName: conn.Name,
		Dialect:        conn.Dialect(),
		Schema:         dbSchema,
	})
	if err != nil {
		return fmt.Errorf("generate document: %w", err)
	}
	if err := s.Connections.UpdateAgentDocument(ctx, conn.ID, doc.Markdown); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	// Archiving and indexing are best effort once the document is stored.
	if err := s.archiveDocument(ctx, conn.ID, doc.Markdown); err != nil {
		logger.WarnContext(ctx, "archive knowledge document failed", slog.Any("error", err))
	}
	if s.Indexer != nil {
		indexed, err := s.Indexer.IndexConnection(ctx, conn.ID, dbSchema)
		if err != nil {
			logger.WarnContext(ctx, "index schema embeddings failed", slog.Any("error", err))
		} else {
			logger.InfoContext(ctx, "schema embeddings indexed", slog.Int("tables", indexed))
			if err := s.archiveSnapshot(ctx, conn.ID); err != nil {
				logger.WarnContext(ctx, "archive embedding snapshot failed", slog.Any("error", err))
			}
		}
	}
	return nil
}

func (s *Service) archiveDocument(ctx context.Context, connectionID, markdown string) error {
	if s.Archive == nil {
		return nil
	}
	buildPath, err := objectstore.BuildDocumentPath(connectionID, s.Clock())
	if err != nil {
		return err
	}
	latestPath, err := objectstore.LatestDocumentPath(connectionID)
	if err != nil {
		return err
	}
	for _, key := range []string{buildPath, latestPath} {
		if _, err := objectstore.PutBytes(ctx, s.Archive, key, []byte(markdown), objectstore.ContentTypeMarkdown); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
	}
	return nil
}

func (s *Service) archiveSnapshot(ctx context.Context, connectionID string) error {
	if s.Archive == nil || s.Snapshots == nil {
		return nil
	}
	entries, err := s.Snapshots.List(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("list embeddings: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	data, err := vectorstore.ExportParquet(entries)
	if err != nil {
		return err
	}
	key, err := objectstore.BuildVectorSnapshotPath(connectionID, s.Clock())
	if err != nil {
		return err
	}
	if _, err := objectstore.PutBytes(ctx, s.Archive, key, data, objectstore.ContentTypeParquet); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, state BuildState, buildErr error) {
	finished := s.Clock().UTC()
	state.EndTime = &finished
	if buildErr == nil {
		state.Status = StatusCompleted
		state.Message = messageCompleted
		state.ErrorMessage = ""
		logger.InfoContext(ctx, "knowledge base build completed")
	} else {
		state.Status = StatusFailed
		state.Message = messageFailed
		state.ErrorMessage = buildErr.Error()
		logger.ErrorContext(ctx, "knowledge base build failed", slog.Any("error", buildErr))
	}
	observability.BuildFinished(string(state.Status))

	// The build context may already be past its deadline.
	storeCtx := ctx
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := s.States.Put(storeCtx, state); err != nil {
		logger.ErrorContext(ctx, "store build state failed", slog.Any("error", err))
	}
}
