// Package replicator mirrors single local mutations into the remote document
// store. Every write runs as a detached task: callers never wait for it and
// never see its error.
package replicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/remote"
	"github.com/dvloznov/offline-ledger/internal/tasks"
)

// Runner launches detached work in per-key order. *tasks.Runner satisfies it.
type Runner interface {
	Go(key, name string, task tasks.Task) bool
}

// Replicator performs outbound per-document writes for one engine.
type Replicator struct {
	store  remote.Store
	runner Runner
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   map[pendingKey]int
	onSettled func(userID string, c domain.Collection)
}

type pendingKey struct {
	userID     string
	collection domain.Collection
}

// New creates a replicator. A nil store turns every call into a no-op, which
// is how offline-only use is modelled.
func New(store remote.Store, runner Runner, log zerolog.Logger) *Replicator {
	return &Replicator{
		store:  store,
		runner: runner,
		log:     log.With().Str("component", "replicator").Logger(),
		now:     time.Now,
		pending: make(map[pendingKey]int),
	}
}

// OnSettled registers fn to run when the last unacknowledged write to a
// collection finishes, successfully or not.
func (r *Replicator) OnSettled(fn func(userID string, c domain.Collection)) {
	r.mu.Lock()
	r.onSettled = fn
	r.mu.Unlock()
}

// Pending reports whether a write to the collection has been scheduled and
// not yet finished. It turns true before Replicate returns.
func (r *Replicator) Pending(userID string, c domain.Collection) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending[pendingKey{userID, c}] > 0
}

// Hold marks the collection pending until release is called. Callers take it
// before a local write whose replication follows, so no remote delivery can
// land between the local commit and the scheduled write.
func (r *Replicator) Hold(userID string, c domain.Collection) (release func()) {
	if !r.ready(userID) {
		return func() {}
	}
	key := pendingKey{userID, c}
	r.begin(key)
	var once sync.Once
	return func() {
		once.Do(func() { r.end(key) })
	}
}

func (r *Replicator) begin(key pendingKey) {
	r.mu.Lock()
	r.pending[key]++
	r.mu.Unlock()
}

func (r *Replicator) end(key pendingKey) {
	r.mu.Lock()
	r.pending[key]--
	settled := r.pending[key] <= 0
	if settled {
		delete(r.pending, key)
	}
	fn := r.onSettled
	r.mu.Unlock()

	if settled && fn != nil {
		fn(key.userID, key.collection)
	}
}

// Enabled reports whether a remote store is attached.
func (r *Replicator) Enabled() bool {
	return r != nil && r.store != nil
}

// Replicate schedules the remote counterpart of a record mutation: an upsert
// of the whole record, or a delete of the document with the record's id.
// Collections outside the per-document map are left to the snapshot push.
func (r *Replicator) Replicate(userID string, c domain.Collection, rec domain.Record, isDelete bool) {
	if !r.ready(userID) {
		return
	}
	spec, ok := domain.Lookup(c)
	if !ok || !spec.PerDocument {
		return
	}
	id, ok := rec.ID()
	if !ok {
		r.log.Warn().Str("collection", string(c)).Str("user_id", userID).Msg("record without id not replicated")
		return
	}

	if isDelete {
		r.schedule(fmt.Sprintf("replicate:%s:delete:%s", c, id), userID, c, id, func(ctx context.Context) error {
			return r.store.DeleteDocument(ctx, userID, c, id)
		})
		return
	}

	fields := remote.Sanitize(rec)
	r.schedule(fmt.Sprintf("replicate:%s:set:%s", c, id), userID, c, id, func(ctx context.Context) error {
		return r.store.SetDocument(ctx, userID, c, id, fields)
	})
}

// ReplicateSettings schedules a write of the settings singleton onto the
// user's root document.
func (r *Replicator) ReplicateSettings(userID string, settings map[string]any) {
	if !r.ready(userID) {
		return
	}
	fields := map[string]any{remote.FieldSettings: remote.Sanitize(settings)}
	r.schedule("replicate:settings", userID, domain.Settings, "", func(ctx context.Context) error {
		return r.store.MergeRoot(ctx, userID, fields)
	})
}

func (r *Replicator) ready(userID string) bool {
	return r.Enabled() && r.runner != nil && userID != ""
}

func (r *Replicator) schedule(name, userID string, c domain.Collection, id string, write func(ctx context.Context) error) {
	key := pendingKey{userID, c}
	r.begin(key)
	ok := r.runner.Go(userID, name, func(ctx context.Context) error {
		err := func() error {
			defer r.end(key)
			return write(ctx)
		}()
		if err != nil {
			r.log.Warn().Err(err).
				Str("user_id", userID).
				Str("collection", string(c)).
				Str("id", id).
				Msg("remote replication failed")
			return fmt.Errorf("Replicator: %s: %w", name, err)
		}
		r.log.Debug().Str("user_id", userID).Str("collection", string(c)).Str("id", id).Msg("replicated")
		r.touch(ctx, userID)
		return nil
	})
	if !ok {
		r.end(key)
	}
}

// touch records the time of the last successful write on the root document.
// Failures are logged only.
func (r *Replicator) touch(ctx context.Context, userID string) {
	err := r.store.MergeRoot(ctx, userID, map[string]any{
		remote.FieldLastUpdated: r.now().UTC(),
	})
	if err != nil {
		r.log.Debug().Err(err).Str("user_id", userID).Msg("lastUpdated not recorded")
	}
}
