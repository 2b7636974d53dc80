// Package snapshot pushes the whole local dataset to the remote root document
// after a quiet period, as a coarse backstop for per-document replication.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/remote"
)

// DefaultDelay is the quiet period between the last Schedule call and the push.
const DefaultDelay = 2 * time.Second

const pushTimeout = 30 * time.Second

// Source serializes the current local dataset.
type Source func(ctx context.Context) (map[string]any, error)

// Syncer is a trailing-edge debounced snapshot pusher. At most one timer is
// outstanding; each Schedule call pushes it back, and pushes never overlap.
type Syncer struct {
	store  remote.Store
	userID string
	source Source
	delay  time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	stopped bool

	pushMu sync.Mutex
	wg     sync.WaitGroup
	pushes atomic.Int64
}

// New creates a syncer for one user's session. A delay of zero uses
// DefaultDelay.
func New(store remote.Store, userID string, source Source, delay time.Duration, log zerolog.Logger) *Syncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Syncer{
		store:  store,
		userID: userID,
		source: source,
		delay:  delay,
		log:    log.With().Str("component", "snapshot").Str("user_id", userID).Logger(),
		now:    time.Now,
	}
}

// Schedule cancels any pending push and starts a new quiet period.
func (s *Syncer) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.gen++
	gen := s.gen
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()
		s.fire(gen)
	})
}

// fire runs a timer's push unless a newer Schedule or a Flush superseded it.
func (s *Syncer) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen || s.timer == nil {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := s.push(ctx); err != nil {
		s.log.Warn().Err(err).Msg("snapshot push failed")
	}
}

// Pending reports whether a push is scheduled.
func (s *Syncer) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Flush runs a scheduled push now instead of waiting for the quiet period.
// It does nothing when no push is pending.
func (s *Syncer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer == nil {
		s.mu.Unlock()
		return nil
	}
	if s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	s.gen++
	s.mu.Unlock()

	return s.push(ctx)
}

// Cancel drops a pending push without running it. The syncer stays usable.
func (s *Syncer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	s.gen++
}

// Stop cancels a pending push and waits for a running one. Later Schedule
// calls are ignored.
func (s *Syncer) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	s.mu.Unlock()

	s.wg.Wait()
}

// Pushes returns how many snapshots were written.
func (s *Syncer) Pushes() int64 {
	return s.pushes.Load()
}

func (s *Syncer) push(ctx context.Context) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	if s.store == nil || s.userID == "" {
		return nil
	}

	data, err := s.source(ctx)
	if err != nil {
		return fmt.Errorf("Syncer.push: serializing local data: %w", err)
	}

	fields := map[string]any{
		remote.FieldSnapshot:   remote.Sanitize(data),
		remote.FieldSnapshotAt: s.now().UTC(),
	}
	if err := s.store.MergeRoot(ctx, s.userID, fields); err != nil {
		return fmt.Errorf("Syncer.push: %w", err)
	}

	s.pushes.Add(1)
	s.log.Debug().Int("collections", len(data)).Msg("snapshot pushed")
	return nil
}
