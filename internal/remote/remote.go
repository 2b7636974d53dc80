// Package remote defines the per-user remote document store the sync engine
// replicates into, plus its Firestore and in-memory implementations.
//
// Layout:
//
//	users/{userId}                        root: settings, lastUpdated, snapshot
//	users/{userId}/{collection}/{recordId} one document per record
package remote

import (
	"context"
	"errors"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Root document field names.
const (
	FieldSettings    = "settings"
	FieldLastUpdated = "lastUpdated"
	FieldSnapshot    = "snapshot"
	FieldSnapshotAt  = "snapshotAt"
)

// ErrNotFound is returned by GetRoot when the user has no root document.
var ErrNotFound = errors.New("remote document not found")

// Snapshot is one delivery of a watched collection: the full current member
// set plus whether it still reflects this client's own unacknowledged writes.
type Snapshot struct {
	UserID           string
	Collection       domain.Collection
	Records          []domain.Record
	HasPendingWrites bool
}

// Subscription is a live watch on one collection.
type Subscription interface {
	// Stop cancels the watch. No callbacks run after Stop returns.
	Stop()
}

// Store is the remote document store contract.
type Store interface {
	// SetDocument upserts one record document with field-level merge.
	SetDocument(ctx context.Context, userID string, c domain.Collection, id string, fields map[string]any) error

	// DeleteDocument removes one record document.
	DeleteDocument(ctx context.Context, userID string, c domain.Collection, id string) error

	// MergeRoot upserts fields on the user's root document. Each top-level
	// field is replaced as a whole; fields not named are left untouched.
	MergeRoot(ctx context.Context, userID string, fields map[string]any) error

	// GetRoot reads the user's root document. It returns ErrNotFound if absent.
	GetRoot(ctx context.Context, userID string) (map[string]any, error)

	// Watch delivers a Snapshot for the collection on every change until the
	// subscription is stopped. onError is called when the watch fails for good.
	Watch(ctx context.Context, userID string, c domain.Collection, onSnapshot func(Snapshot), onError func(error)) (Subscription, error)

	// Close releases the connection.
	Close() error
}
