package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

const usersCollection = "users"

// FirestoreStore is the production Store backed by Cloud Firestore.
//
// The Go client has no latency-compensated local cache, so the pending-write
// signal is produced here: every write in flight is counted per
// (user, collection) and any snapshot that arrives while the count is
// non-zero is flagged HasPendingWrites.
type FirestoreStore struct {
	client *firestore.Client
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]int
}

// NewFirestoreStore connects to the given project and database. An empty
// databaseID selects the default database. It assumes Application Default
// Credentials are configured, or FIRESTORE_EMULATOR_HOST is set.
func NewFirestoreStore(ctx context.Context, projectID, databaseID string, log zerolog.Logger, opts ...option.ClientOption) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewFirestoreStore: project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewFirestoreStore: creating client: %w", err)
	}

	return &FirestoreStore{
		client:  client,
		log:     log.With().Str("component", "firestore").Logger(),
		pending: make(map[string]int),
	}, nil
}

func (f *FirestoreStore) userDoc(userID string) *firestore.DocumentRef {
	return f.client.Collection(usersCollection).Doc(userID)
}

func pendingKey(userID string, c domain.Collection) string {
	return userID + "/" + string(c)
}

func (f *FirestoreStore) begin(key string) {
	f.mu.Lock()
	f.pending[key]++
	f.mu.Unlock()
}

func (f *FirestoreStore) end(key string) {
	f.mu.Lock()
	if f.pending[key]--; f.pending[key] <= 0 {
		delete(f.pending, key)
	}
	f.mu.Unlock()
}

func (f *FirestoreStore) hasPending(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[key] > 0
}

// SetDocument implements the Store interface.
func (f *FirestoreStore) SetDocument(ctx context.Context, userID string, c domain.Collection, id string, fields map[string]any) error {
	key := pendingKey(userID, c)
	f.begin(key)
	defer f.end(key)

	ref := f.userDoc(userID).Collection(string(c)).Doc(id)
	if _, err := ref.Set(ctx, fields, firestore.MergeAll); err != nil {
		return fmt.Errorf("FirestoreStore.SetDocument %s/%s: %w", c, id, err)
	}
	return nil
}

// DeleteDocument implements the Store interface.
func (f *FirestoreStore) DeleteDocument(ctx context.Context, userID string, c domain.Collection, id string) error {
	key := pendingKey(userID, c)
	f.begin(key)
	defer f.end(key)

	if _, err := f.userDoc(userID).Collection(string(c)).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("FirestoreStore.DeleteDocument %s/%s: %w", c, id, err)
	}
	return nil
}

// MergeRoot implements the Store interface.
func (f *FirestoreStore) MergeRoot(ctx context.Context, userID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	paths := make([]string, 0, len(fields))
	for k := range fields {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	// Merge on top-level paths replaces each named field as a whole.
	if _, err := f.userDoc(userID).Set(ctx, fields, firestore.Merge(toFieldPaths(paths)...)); err != nil {
		return fmt.Errorf("FirestoreStore.MergeRoot: %w", err)
	}
	return nil
}

func toFieldPaths(paths []string) []firestore.FieldPath {
	out := make([]firestore.FieldPath, len(paths))
	for i, p := range paths {
		out[i] = firestore.FieldPath{p}
	}
	return out
}

// GetRoot implements the Store interface.
func (f *FirestoreStore) GetRoot(ctx context.Context, userID string) (map[string]any, error) {
	snap, err := f.userDoc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FirestoreStore.GetRoot: %w", err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return snap.Data(), nil
}

// Watch implements the Store interface.
func (f *FirestoreStore) Watch(ctx context.Context, userID string, c domain.Collection, onSnapshot func(Snapshot), onError func(error)) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := f.userDoc(userID).Collection(string(c)).Snapshots(ctx)
	key := pendingKey(userID, c)

	sub := &firestoreSubscription{cancel: cancel, it: it, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for {
			qs, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				onError(fmt.Errorf("FirestoreStore.Watch %s: %w", c, err))
				return
			}

			docs, err := qs.Documents.GetAll()
			if err != nil {
				onError(fmt.Errorf("FirestoreStore.Watch %s: reading documents: %w", c, err))
				continue
			}

			onSnapshot(Snapshot{
				UserID:           userID,
				Collection:       c,
				Records:          documentsToRecords(docs),
				HasPendingWrites: f.hasPending(key),
			})
		}
	}()

	return sub, nil
}

func documentsToRecords(docs []*firestore.DocumentSnapshot) []domain.Record {
	records := make([]domain.Record, 0, len(docs))
	for _, d := range docs {
		rec := domain.Record(d.Data())
		if _, ok := rec.ID(); !ok {
			rec[domain.FieldID] = d.Ref.ID
		}
		records = append(records, rec)
	}
	return records
}

// Close implements the Store interface.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

type firestoreSubscription struct {
	cancel context.CancelFunc
	it     *firestore.QuerySnapshotIterator
	done   chan struct{}
	once   sync.Once
}

func (s *firestoreSubscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.it.Stop()
		<-s.done
	})
}

// Ensure FirestoreStore implements Store interface.
var _ Store = (*FirestoreStore)(nil)
