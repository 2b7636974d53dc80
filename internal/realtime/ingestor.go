// Package realtime applies live remote collection snapshots to the local
// store.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/events"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/remote"
)

// Outcome says what Ingest did with a snapshot.
type Outcome int

const (
	// Applied means the local collection was replaced.
	Applied Outcome = iota
	// SkippedPending means this device had an unacknowledged write to the
	// collection. The snapshot is kept and replayed once the writes settle.
	SkippedPending
	// SkippedUnchanged means the local collection already matched.
	SkippedUnchanged
	// SkippedInitialEmpty means the first delivery of a subscription was
	// empty while local data exists, e.g. first sign-in after offline use.
	SkippedInitialEmpty
	// SkippedStale means the snapshot belongs to a user that is no longer
	// subscribed.
	SkippedStale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case SkippedPending:
		return "skipped_pending"
	case SkippedUnchanged:
		return "skipped_unchanged"
	case SkippedInitialEmpty:
		return "skipped_initial_empty"
	case SkippedStale:
		return "skipped_stale"
	default:
		return "unknown"
	}
}

// Notifier receives local change notifications. *events.Bus satisfies it.
type Notifier interface {
	Publish(ev events.Event)
}

// PendingWrites reports unacknowledged outbound writes.
// *replicator.Replicator satisfies it.
type PendingWrites interface {
	Pending(userID string, c domain.Collection) bool
}

// Stats counts deliveries by outcome.
type Stats struct {
	Applied     int64 `json:"applied"`
	Skipped     int64 `json:"skipped"`
	Errors      int64 `json:"errors"`
	Collections int   `json:"collections"`
}

// Ingestor keeps one watch per tracked collection for the signed-in user.
type Ingestor struct {
	remote      remote.Store
	local       *localstore.Store
	notifier    Notifier
	pending     PendingWrites
	log         zerolog.Logger
	collections []domain.Collection

	mu     sync.Mutex
	userID string
	subs   []remote.Subscription
	ctx    context.Context
	cancel context.CancelFunc

	// ingestMu serializes ingestion so a replayed snapshot never overwrites
	// a newer delivery.
	ingestMu sync.Mutex
	deferred map[domain.Collection]deferredSnapshot

	applied atomic.Int64
	skipped atomic.Int64
	errors  atomic.Int64
}

type deferredSnapshot struct {
	snap    remote.Snapshot
	initial bool
}

// New creates an ingestor over the per-document collections. notifier and
// pending may be nil.
func New(store remote.Store, local *localstore.Store, notifier Notifier, pending PendingWrites, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		remote:      store,
		local:       local,
		notifier:    notifier,
		pending:     pending,
		log:         log.With().Str("component", "realtime").Logger(),
		collections: domain.Tracked(),
		deferred:    make(map[domain.Collection]deferredSnapshot),
	}
}

// Subscribe opens one watch per tracked collection for userID. Watches left
// from an earlier Subscribe are torn down first so a previous user's
// listener can never write into the new session.
func (i *Ingestor) Subscribe(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("Ingestor.Subscribe: empty user id")
	}
	i.Unsubscribe()

	watchCtx, cancel := context.WithCancel(context.Background())

	i.mu.Lock()
	i.userID = userID
	i.ctx = watchCtx
	i.cancel = cancel
	i.mu.Unlock()

	var subs []remote.Subscription
	for _, c := range i.collections {
		sub, err := i.watch(watchCtx, userID, c)
		if err != nil {
			cancel()
			for _, s := range subs {
				s.Stop()
			}
			i.mu.Lock()
			i.userID = ""
			i.ctx = nil
			i.cancel = nil
			i.mu.Unlock()
			return fmt.Errorf("Ingestor.Subscribe: watching %s: %w", c, err)
		}
		subs = append(subs, sub)
	}

	i.mu.Lock()
	i.subs = subs
	i.mu.Unlock()

	i.log.Info().Str("user_id", userID).Int("collections", len(subs)).Msg("realtime sync started")
	return nil
}

func (i *Ingestor) watch(ctx context.Context, userID string, c domain.Collection) (remote.Subscription, error) {
	var first atomic.Bool
	first.Store(true)

	onSnapshot := func(snap remote.Snapshot) {
		initial := first.Swap(false)
		outcome, err := i.ingest(ctx, snap, initial)
		if err != nil {
			i.errors.Add(1)
			i.log.Warn().Err(err).Str("user_id", userID).Str("collection", string(c)).Msg("applying remote snapshot failed")
			return
		}
		i.log.Debug().
			Str("collection", string(c)).
			Int("records", len(snap.Records)).
			Str("outcome", outcome.String()).
			Msg("remote snapshot")
	}
	onError := func(err error) {
		i.errors.Add(1)
		i.log.Warn().Err(err).Str("user_id", userID).Str("collection", string(c)).Msg("realtime watch failed, collection stale until resubscribe")
	}

	return i.remote.Watch(ctx, userID, c, onSnapshot, onError)
}

// Unsubscribe stops every watch. It is safe to call when not subscribed.
func (i *Ingestor) Unsubscribe() {
	i.mu.Lock()
	subs := i.subs
	cancel := i.cancel
	userID := i.userID
	i.subs = nil
	i.ctx = nil
	i.cancel = nil
	i.userID = ""
	i.mu.Unlock()

	// Stop waits for in-flight callbacks, which may need the store lock, so
	// it runs outside i.mu.
	for _, s := range subs {
		s.Stop()
	}
	if cancel != nil {
		cancel()
	}

	i.ingestMu.Lock()
	clear(i.deferred)
	i.ingestMu.Unlock()

	if userID != "" {
		i.log.Info().Str("user_id", userID).Msg("realtime sync stopped")
	}
}

// UserID returns the subscribed user, or "" when idle.
func (i *Ingestor) UserID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.userID
}

// Ingest applies one snapshot as a non-initial delivery.
func (i *Ingestor) Ingest(ctx context.Context, snap remote.Snapshot) (Outcome, error) {
	return i.ingest(ctx, snap, false)
}

// Settled replays the last snapshot of c that was skipped while this device
// had writes in flight. It runs when those writes have all finished; a
// delivery that arrived after the skip has already superseded it.
func (i *Ingestor) Settled(userID string, c domain.Collection) {
	i.mu.Lock()
	ctx := i.ctx
	i.mu.Unlock()
	if ctx == nil {
		return
	}

	i.ingestMu.Lock()
	defer i.ingestMu.Unlock()

	d, ok := i.deferred[c]
	if !ok || d.snap.UserID != userID || i.writesPending(userID, c) {
		return
	}
	delete(i.deferred, c)

	d.snap.HasPendingWrites = false
	outcome, err := i.ingestLocked(ctx, d.snap, d.initial)
	if err != nil {
		i.errors.Add(1)
		i.log.Warn().Err(err).Str("user_id", userID).Str("collection", string(c)).Msg("replaying remote snapshot failed")
		return
	}
	i.log.Debug().Str("collection", string(c)).Str("outcome", outcome.String()).Msg("replayed remote snapshot")
}

func (i *Ingestor) writesPending(userID string, c domain.Collection) bool {
	return i.pending != nil && i.pending.Pending(userID, c)
}

func (i *Ingestor) ingest(ctx context.Context, snap remote.Snapshot, initial bool) (Outcome, error) {
	i.ingestMu.Lock()
	defer i.ingestMu.Unlock()
	return i.ingestLocked(ctx, snap, initial)
}

func (i *Ingestor) ingestLocked(ctx context.Context, snap remote.Snapshot, initial bool) (Outcome, error) {
	if snap.UserID != i.UserID() {
		i.skipped.Add(1)
		return SkippedStale, nil
	}
	if snap.HasPendingWrites || i.writesPending(snap.UserID, snap.Collection) {
		i.deferred[snap.Collection] = deferredSnapshot{snap: snap, initial: initial}
		i.skipped.Add(1)
		return SkippedPending, nil
	}
	delete(i.deferred, snap.Collection)

	current, err := i.local.Records(ctx, snap.Collection)
	if err != nil {
		return 0, fmt.Errorf("Ingestor.ingest: reading %s: %w", snap.Collection, err)
	}
	if initial && len(snap.Records) == 0 && len(current) > 0 {
		i.skipped.Add(1)
		return SkippedInitialEmpty, nil
	}

	same, err := sameRecords(current, snap.Records)
	if err != nil {
		return 0, fmt.Errorf("Ingestor.ingest: comparing %s: %w", snap.Collection, err)
	}
	if same {
		i.skipped.Add(1)
		return SkippedUnchanged, nil
	}

	if err := i.local.Replace(ctx, snap.Collection, snap.Records); err != nil {
		return 0, fmt.Errorf("Ingestor.ingest: replacing %s: %w", snap.Collection, err)
	}
	i.applied.Add(1)

	if i.notifier != nil {
		i.notifier.Publish(events.Event{Kind: events.KindChanged, Collection: snap.Collection})
	}
	return Applied, nil
}

// sameRecords compares the stored encodings, so int64 from the remote store
// and float64 from a local read of the same number compare equal.
func sameRecords(local, incoming []domain.Record) (bool, error) {
	if len(local) != len(incoming) {
		return false, nil
	}
	a, err := json.Marshal(local)
	if err != nil {
		return false, err
	}
	b, err := json.Marshal(incoming)
	if err != nil {
		return false, err
	}
	return bytes.Equal(a, b), nil
}

// Stats returns delivery counters.
func (i *Ingestor) Stats() Stats {
	i.mu.Lock()
	n := len(i.subs)
	i.mu.Unlock()
	return Stats{
		Applied:     i.applied.Load(),
		Skipped:     i.skipped.Load(),
		Errors:      i.errors.Load(),
		Collections: n,
	}
}
