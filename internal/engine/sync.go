package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/offline-ledger/internal/events"
	"github.com/dvloznov/offline-ledger/internal/pullmerge"
)

// PullAndMerge merges the remote snapshot into local data. Offline, with no
// session, or with no remote snapshot it does nothing and returns an empty
// result.
func (e *Engine) PullAndMerge(ctx context.Context) (pullmerge.Result, error) {
	userID := e.UserID()
	if e.remote == nil || userID == "" {
		return pullmerge.Result{}, nil
	}

	res, err := e.puller.PullAndMerge(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("PullAndMerge: %w", err)
	}
	if res.Found {
		e.bus.Publish(events.Event{Kind: events.KindPulled})
	}
	return res, nil
}

// LastSync returns when PullAndMerge last merged a snapshot.
func (e *Engine) LastSync(ctx context.Context) (time.Time, bool, error) {
	return pullmerge.LastSync(ctx, e.local)
}
