// Package pullmerge folds the remote whole-dataset snapshot into the local
// store, typically once right after sign-in.
package pullmerge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/localstore"
	"github.com/dvloznov/offline-ledger/internal/remote"
)

// MetaLastSync is the local meta key holding the last successful pull time.
const MetaLastSync = "lastSync"

// MergeStats describes a merge of the transactions collection.
type MergeStats struct {
	Updated  int `json:"updated"`
	Appended int `json:"appended"`
	Kept     int `json:"kept"`
	Skipped  int `json:"skipped"`
}

// Result reports what a pull changed.
type Result struct {
	// Found is false when the remote side had no usable snapshot.
	Found        bool                `json:"found"`
	Replaced     []domain.Collection `json:"replaced,omitempty"`
	Transactions MergeStats          `json:"transactions"`
	SyncedAt     time.Time           `json:"syncedAt,omitempty"`
}

// Puller runs pull-and-merge for one local store.
type Puller struct {
	remote remote.Store
	local  *localstore.Store
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Puller.
func New(store remote.Store, local *localstore.Store, log zerolog.Logger) *Puller {
	return &Puller{
		remote: store,
		local:  local,
		log:    log.With().Str("component", "pullmerge").Logger(),
		now:    time.Now,
	}
}

// PullAndMerge fetches the user's snapshot and merges it into the local
// store: transactions by id, every other collection present in the snapshot
// replaced wholesale. A missing or malformed snapshot is not an error.
func (p *Puller) PullAndMerge(ctx context.Context, userID string) (Result, error) {
	if p.remote == nil || userID == "" {
		return Result{}, nil
	}

	root, err := p.remote.GetRoot(ctx, userID)
	if errors.Is(err, remote.ErrNotFound) {
		p.log.Info().Str("user_id", userID).Msg("no remote data to sync")
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("PullAndMerge: fetching snapshot: %w", err)
	}

	snapshot, ok := root[remote.FieldSnapshot].(map[string]any)
	if !ok {
		p.log.Info().Str("user_id", userID).Msg("remote snapshot missing or malformed, nothing merged")
		return Result{}, nil
	}

	res := Result{Found: true}
	for _, name := range sortedKeys(snapshot) {
		c := domain.Collection(name)
		spec, known := domain.Lookup(c)
		if !known || spec.LocalOnly {
			continue
		}
		value := snapshot[name]

		if c == domain.Transactions {
			incoming, ok := domain.ToRecords(value)
			if !ok {
				p.log.Warn().Str("collection", name).Msg("malformed collection in snapshot skipped")
				continue
			}
			var stats MergeStats
			err := p.local.Update(ctx, c, func(current any) (any, error) {
				local, _ := domain.ToRecords(current)
				merged, s := MergeByID(local, incoming)
				stats = s
				return merged, nil
			})
			if err != nil {
				return res, fmt.Errorf("PullAndMerge: merging transactions: %w", err)
			}
			res.Transactions = stats
			continue
		}

		if !shapeMatches(spec.Kind, value) {
			p.log.Warn().Str("collection", name).Msg("malformed collection in snapshot skipped")
			continue
		}
		if err := p.local.Replace(ctx, c, value); err != nil {
			return res, fmt.Errorf("PullAndMerge: replacing %s: %w", name, err)
		}
		res.Replaced = append(res.Replaced, c)
	}

	res.SyncedAt = p.now().UTC()
	if err := p.local.SetMeta(ctx, MetaLastSync, res.SyncedAt.Format(time.RFC3339Nano)); err != nil {
		return res, fmt.Errorf("PullAndMerge: recording last sync: %w", err)
	}
	p.local.InvalidateCache()

	p.log.Info().
		Str("user_id", userID).
		Int("replaced", len(res.Replaced)).
		Int("tx_updated", res.Transactions.Updated).
		Int("tx_appended", res.Transactions.Appended).
		Msg("pull and merge complete")
	return res, nil
}

// LastSync returns the time of the last successful pull.
func LastSync(ctx context.Context, local *localstore.Store) (time.Time, bool, error) {
	v, ok, err := local.GetMeta(ctx, MetaLastSync)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// MergeByID overwrites local records in place with incoming ones of the same
// id and appends incoming records with no local match. Local-only records
// keep their position. Incoming records without an id are skipped.
func MergeByID(local, incoming []domain.Record) ([]domain.Record, MergeStats) {
	out := make([]domain.Record, len(local), len(local)+len(incoming))
	for i, r := range local {
		out[i] = r.Clone()
	}

	var stats MergeStats
	touched := make(map[int]bool)
	for _, rec := range incoming {
		id, ok := rec.ID()
		if !ok {
			stats.Skipped++
			continue
		}
		if i := domain.IndexOf(out, id); i >= 0 {
			out[i] = rec.Clone()
			if i < len(local) && !touched[i] {
				stats.Updated++
			}
			touched[i] = true
			continue
		}
		out = append(out, rec.Clone())
		touched[len(out)-1] = true
		stats.Appended++
	}
	stats.Kept = len(local) - stats.Updated
	return out, stats
}

func shapeMatches(kind domain.Kind, v any) bool {
	switch kind {
	case domain.KindSequence:
		_, ok := domain.ToRecords(v)
		return ok
	case domain.KindMap, domain.KindSingleton:
		_, ok := domain.ToMap(v)
		return ok
	default:
		return true
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
