// Package engine is the local-first data-access layer: every read and write
// is served by the local store, and mutations are mirrored to the remote
// document store in the background.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/events"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/pullmerge"
	"github.com/dvloznov/offline-ledger/internal/realtime"
	"github.com/dvloznov/offline-ledger/internal/remote"
	"github.com/dvloznov/offline-ledger/internal/replicator"
	"github.com/dvloznov/offline-ledger/internal/snapshot"
	"github.com/dvloznov/offline-ledger/internal/tasks"
)

// sessionUserKey is the session-storage key holding the signed-in user.
const sessionUserKey = "ledger_session_user"

// Options configures an Engine.
type Options struct {
	// Local is the persistent store. Required.
	Local *localstore.Store

	// Session is per-process session storage, emptied by FactoryReset.
	// A fresh memory backend is used when nil.
	Session *localstore.MemoryBackend

	// Remote is the remote document store. Nil means offline only.
	Remote remote.Store

	// Bus receives change notifications. A new bus is created when nil.
	Bus *events.Bus

	// SnapshotDelay is the snapshot debounce quiet period.
	SnapshotDelay time.Duration

	Logger zerolog.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Engine is one installation's data-access session. All state that the
// sync paths share lives here, so separate engines never interfere.
type Engine struct {
	local   *localstore.Store
	session *localstore.MemoryBackend
	remote  remote.Store
	bus     *events.Bus
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
	delay   time.Duration

	runner   *tasks.Runner
	repl     *replicator.Replicator
	puller   *pullmerge.Puller
	ingestor *realtime.Ingestor
	ops      map[string]operation

	mu     sync.Mutex
	userID string
	syncer *snapshot.Syncer
}

// New creates an engine. No remote session exists until Open is called.
func New(opts Options) (*Engine, error) {
	if opts.Local == nil {
		return nil, fmt.Errorf("engine.New: local store is required")
	}

	e := &Engine{
		local:   opts.Local,
		session: opts.Session,
		remote:  opts.Remote,
		bus:     opts.Bus,
		log:     opts.Logger.With().Str("component", "engine").Logger(),
		now:     opts.Now,
		newID:   opts.NewID,
		delay:   opts.SnapshotDelay,
	}
	if e.session == nil {
		e.session = localstore.NewMemoryBackend()
	}
	if e.bus == nil {
		e.bus = events.NewBus(opts.Logger)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}

	e.runner = tasks.NewRunner(opts.Logger.With().Str("component", "tasks").Logger(), 0)
	e.repl = replicator.New(opts.Remote, e.runner, opts.Logger)
	e.puller = pullmerge.New(opts.Remote, opts.Local, opts.Logger)
	if opts.Remote != nil {
		e.ingestor = realtime.New(opts.Remote, opts.Local, e.bus, e.repl, opts.Logger)
		e.repl.OnSettled(e.ingestor.Settled)
	}
	e.ops = e.buildOperations()
	return e, nil
}

// Open starts a session for userID: remote replication, snapshot pushes and
// live ingestion are enabled when a remote store is configured. An already
// open session for another user is closed first.
func (e *Engine) Open(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("Open: %w", ErrNoSession)
	}
	if current := e.UserID(); current != "" {
		if current == userID {
			return nil
		}
		if err := e.Close(ctx); err != nil {
			return fmt.Errorf("Open: closing previous session: %w", err)
		}
	}

	var syncer *snapshot.Syncer
	if e.remote != nil {
		syncer = snapshot.New(e.remote, userID, e.snapshotSource, e.delay, e.log)
	}

	e.mu.Lock()
	e.userID = userID
	e.syncer = syncer
	e.mu.Unlock()

	if e.ingestor != nil {
		if err := e.ingestor.Subscribe(ctx, userID); err != nil {
			e.mu.Lock()
			e.userID = ""
			e.syncer = nil
			e.mu.Unlock()
			if syncer != nil {
				syncer.Stop()
			}
			return fmt.Errorf("Open: %w", err)
		}
	}

	if err := e.session.Set(ctx, sessionUserKey, []byte(userID)); err != nil {
		e.log.Warn().Err(err).Msg("session user not recorded")
	}
	e.log.Info().Str("user_id", userID).Bool("remote", e.remote != nil).Msg("session opened")
	return nil
}

// Close ends the session: live ingestion stops, a pending snapshot push is
// flushed best-effort, and replication becomes a no-op. Local data stays.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	userID := e.userID
	syncer := e.syncer
	e.userID = ""
	e.syncer = nil
	e.mu.Unlock()

	if userID == "" {
		return nil
	}

	if e.ingestor != nil {
		e.ingestor.Unsubscribe()
	}
	if syncer != nil {
		if err := syncer.Flush(ctx); err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("final snapshot push failed")
		}
		syncer.Stop()
	}
	if err := e.session.Delete(ctx, sessionUserKey); err != nil {
		e.log.Warn().Err(err).Msg("session user not cleared")
	}

	e.log.Info().Str("user_id", userID).Msg("session closed")
	return nil
}

// Shutdown closes the session, waits for in-flight replication and releases
// the local store.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.Close(ctx); err != nil {
		return fmt.Errorf("Shutdown: %w", err)
	}
	if err := e.runner.Stop(ctx); err != nil {
		e.log.Warn().Err(err).Msg("replication tasks still running at shutdown")
	}
	e.bus.Close()
	if e.remote != nil {
		if err := e.remote.Close(); err != nil {
			e.log.Warn().Err(err).Msg("closing remote store")
		}
	}
	if err := e.local.Close(); err != nil {
		return fmt.Errorf("Shutdown: closing local store: %w", err)
	}
	return nil
}

// UserID returns the signed-in user, or "" when no session is open.
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// Online reports whether mutations are currently being replicated.
func (e *Engine) Online() bool {
	return e.remote != nil && e.UserID() != ""
}

// Events returns the change-notification bus.
func (e *Engine) Events() *events.Bus {
	return e.bus
}

// ReplicationErrors reports failed background writes. Reading it is
// optional; failures are logged either way.
func (e *Engine) ReplicationErrors() <-chan *tasks.TaskError {
	return e.runner.Errors()
}

// Wait blocks until every replication task started so far has finished.
func (e *Engine) Wait(ctx context.Context) error {
	return e.runner.Wait(ctx)
}

// FlushSnapshot runs a pending snapshot push immediately.
func (e *Engine) FlushSnapshot(ctx context.Context) error {
	e.mu.Lock()
	syncer := e.syncer
	e.mu.Unlock()

	if syncer == nil {
		return nil
	}
	return syncer.Flush(ctx)
}

// Status summarises the session for diagnostics.
type Status struct {
	UserID          string                `json:"userId,omitempty"`
	Online          bool                  `json:"online"`
	SnapshotPending bool                  `json:"snapshotPending"`
	SnapshotPushes  int64                 `json:"snapshotPushes"`
	Tasks           tasks.Stats           `json:"tasks"`
	Realtime        realtime.Stats        `json:"realtime"`
	Cache           localstore.CacheStats `json:"cache"`
}

// Status returns the current session state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{UserID: e.userID}
	syncer := e.syncer
	e.mu.Unlock()

	st.Online = e.remote != nil && st.UserID != ""
	if syncer != nil {
		st.SnapshotPending = syncer.Pending()
		st.SnapshotPushes = syncer.Pushes()
	}
	st.Tasks = e.runner.Stats()
	if e.ingestor != nil {
		st.Realtime = e.ingestor.Stats()
	}
	st.Cache = e.local.CacheStats()
	return st
}

func (e *Engine) snapshotSource(ctx context.Context) (map[string]any, error) {
	return e.local.Dump(ctx, domain.Synced())
}

func (e *Engine) scheduleSnapshot() {
	e.mu.Lock()
	syncer := e.syncer
	e.mu.Unlock()

	if syncer != nil {
		syncer.Schedule()
	}
}

func (e *Engine) cancelSnapshot() {
	e.mu.Lock()
	syncer := e.syncer
	e.mu.Unlock()

	if syncer != nil {
		syncer.Cancel()
	}
}
