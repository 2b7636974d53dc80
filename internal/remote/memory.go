package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// OpKind names a write received by the MemoryServer.
type OpKind string

const (
	OpSet       OpKind = "set"
	OpDelete    OpKind = "delete"
	OpMergeRoot OpKind = "merge_root"
)

// Op is one write recorded by the MemoryServer, in arrival order.
type Op struct {
	Kind       OpKind
	ClientID   string
	UserID     string
	Collection domain.Collection
	DocID      string
	Fields     map[string]any
	At         time.Time
}

type watchKey struct {
	userID     string
	collection domain.Collection
}

type memWatcher struct {
	id         int
	client     *MemoryClient
	onSnapshot func(Snapshot)
	mu         sync.Mutex
	stopped    bool
}

type memUser struct {
	root        map[string]any
	collections map[domain.Collection]map[string]map[string]any
}

// MemoryServer is an in-process document store shared by any number of
// clients, one per simulated device. A delivery to a client that has an
// unacknowledged write on the watched collection carries HasPendingWrites,
// the way a real document store reports latency-compensated local writes.
// That includes the writer's own echo.
type MemoryServer struct {
	mu       sync.Mutex
	users    map[string]*memUser
	watchers map[watchKey]map[int]*memWatcher
	nextID   int
	ops      []Op
}

// NewMemoryServer creates an empty server.
func NewMemoryServer() *MemoryServer {
	return &MemoryServer{
		users:    make(map[string]*memUser),
		watchers: make(map[watchKey]map[int]*memWatcher),
	}
}

// Connect returns a Store bound to one simulated device.
func (s *MemoryServer) Connect(clientID string) *MemoryClient {
	return &MemoryClient{server: s, clientID: clientID}
}

// Ops returns a copy of every write received so far.
func (s *MemoryServer) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Document returns a copy of one record document.
func (s *MemoryServer) Document(userID string, c domain.Collection, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, false
	}
	doc, ok := u.collections[c][id]
	if !ok {
		return nil, false
	}
	return domain.CloneValue(doc).(map[string]any), true
}

// WatcherCount reports how many live watches exist for a user.
func (s *MemoryServer) WatcherCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, ws := range s.watchers {
		if k.userID == userID {
			n += len(ws)
		}
	}
	return n
}

func (s *MemoryServer) user(userID string) *memUser {
	u, ok := s.users[userID]
	if !ok {
		u = &memUser{collections: make(map[domain.Collection]map[string]map[string]any)}
		s.users[userID] = u
	}
	return u
}

// recordsLocked returns the collection members ordered by document id.
func (s *MemoryServer) recordsLocked(userID string, c domain.Collection) []domain.Record {
	docs := s.user(userID).collections[c]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		rec := domain.Record(domain.CloneValue(docs[id]).(map[string]any))
		if _, ok := rec.ID(); !ok {
			rec[domain.FieldID] = id
		}
		records = append(records, rec)
	}
	return records
}

type delivery struct {
	w    *memWatcher
	snap Snapshot
}

// fanoutLocked builds the snapshot each watcher of (userID, c) should see.
func (s *MemoryServer) fanoutLocked(userID string, c domain.Collection) []delivery {
	ws := s.watchers[watchKey{userID, c}]
	if len(ws) == 0 {
		return nil
	}
	ids := make([]int, 0, len(ws))
	for id := range ws {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]delivery, 0, len(ids))
	for _, id := range ids {
		w := ws[id]
		out = append(out, delivery{w: w, snap: Snapshot{
			UserID:           userID,
			Collection:       c,
			Records:          s.recordsLocked(userID, c),
			HasPendingWrites: w.client.inFlight(watchKey{userID, c}),
		}})
	}
	return out
}

func deliver(ds []delivery) {
	for _, d := range ds {
		d.w.mu.Lock()
		if !d.w.stopped {
			d.w.onSnapshot(d.snap)
		}
		d.w.mu.Unlock()
	}
}

// MemoryClient is one device's connection to a MemoryServer.
type MemoryClient struct {
	server   *MemoryServer
	clientID string

	mu       sync.Mutex
	writeErr error
	hold     chan struct{}
	writing  map[watchKey]int
}

// FailWrites makes every subsequent write fail with err. Pass nil to recover.
func (c *MemoryClient) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *MemoryClient) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeErr
}

// HoldWrites parks every subsequent document write before it reaches the
// server, leaving it unacknowledged, until the returned release is called.
func (c *MemoryClient) HoldWrites() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.hold = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.hold == ch {
				c.hold = nil
			}
			c.mu.Unlock()
			close(ch)
		})
	}
}

// begin marks a document write in flight and waits out HoldWrites.
func (c *MemoryClient) begin(ctx context.Context, key watchKey) error {
	c.mu.Lock()
	if c.writing == nil {
		c.writing = make(map[watchKey]int)
	}
	c.writing[key]++
	hold := c.hold
	c.mu.Unlock()

	if hold == nil {
		return ctx.Err()
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MemoryClient) end(key watchKey) {
	c.mu.Lock()
	if c.writing[key]--; c.writing[key] <= 0 {
		delete(c.writing, key)
	}
	c.mu.Unlock()
}

func (c *MemoryClient) inFlight(key watchKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writing[key] > 0
}

// SetDocument implements the Store interface.
func (c *MemoryClient) SetDocument(ctx context.Context, userID string, coll domain.Collection, id string, fields map[string]any) error {
	if err := c.failure(); err != nil {
		return fmt.Errorf("MemoryClient.SetDocument: %w", err)
	}
	key := watchKey{userID, coll}
	defer c.end(key)
	if err := c.begin(ctx, key); err != nil {
		return err
	}

	s := c.server
	s.mu.Lock()
	u := s.user(userID)
	docs, ok := u.collections[coll]
	if !ok {
		docs = make(map[string]map[string]any)
		u.collections[coll] = docs
	}
	doc, ok := docs[id]
	if !ok {
		doc = make(map[string]any)
		docs[id] = doc
	}
	mergeFields(doc, fields)
	s.ops = append(s.ops, Op{Kind: OpSet, ClientID: c.clientID, UserID: userID, Collection: coll, DocID: id, Fields: domain.CloneValue(fields).(map[string]any), At: time.Now()})
	ds := s.fanoutLocked(userID, coll)
	s.mu.Unlock()

	deliver(ds)
	return nil
}

// DeleteDocument implements the Store interface.
func (c *MemoryClient) DeleteDocument(ctx context.Context, userID string, coll domain.Collection, id string) error {
	if err := c.failure(); err != nil {
		return fmt.Errorf("MemoryClient.DeleteDocument: %w", err)
	}
	key := watchKey{userID, coll}
	defer c.end(key)
	if err := c.begin(ctx, key); err != nil {
		return err
	}

	s := c.server
	s.mu.Lock()
	delete(s.user(userID).collections[coll], id)
	s.ops = append(s.ops, Op{Kind: OpDelete, ClientID: c.clientID, UserID: userID, Collection: coll, DocID: id, At: time.Now()})
	ds := s.fanoutLocked(userID, coll)
	s.mu.Unlock()

	deliver(ds)
	return nil
}

// MergeRoot implements the Store interface.
func (c *MemoryClient) MergeRoot(ctx context.Context, userID string, fields map[string]any) error {
	if err := c.failure(); err != nil {
		return fmt.Errorf("MemoryClient.MergeRoot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.user(userID)
	if u.root == nil {
		u.root = make(map[string]any)
	}
	for k, v := range fields {
		u.root[k] = domain.CloneValue(v)
	}
	s.ops = append(s.ops, Op{Kind: OpMergeRoot, ClientID: c.clientID, UserID: userID, Fields: domain.CloneValue(fields).(map[string]any), At: time.Now()})
	return nil
}

// GetRoot implements the Store interface.
func (c *MemoryClient) GetRoot(ctx context.Context, userID string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok || u.root == nil {
		return nil, ErrNotFound
	}
	return domain.CloneValue(u.root).(map[string]any), nil
}

// Watch implements the Store interface. The current member set is delivered
// once before Watch returns.
func (c *MemoryClient) Watch(ctx context.Context, userID string, coll domain.Collection, onSnapshot func(Snapshot), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := c.server
	s.mu.Lock()
	s.nextID++
	w := &memWatcher{id: s.nextID, client: c, onSnapshot: onSnapshot}
	key := watchKey{userID, coll}
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[int]*memWatcher)
	}
	s.watchers[key][w.id] = w
	initial := delivery{w: w, snap: Snapshot{UserID: userID, Collection: coll, Records: s.recordsLocked(userID, coll), HasPendingWrites: c.inFlight(key)}}
	s.mu.Unlock()

	deliver([]delivery{initial})

	sub := &memSubscription{server: s, key: key, w: w}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Stop()
		}()
	}
	return sub, nil
}

// Close implements the Store interface.
func (c *MemoryClient) Close() error {
	return nil
}

type memSubscription struct {
	server *MemoryServer
	key    watchKey
	w      *memWatcher
	once   sync.Once
}

func (m *memSubscription) Stop() {
	m.once.Do(func() {
		m.server.mu.Lock()
		delete(m.server.watchers[m.key], m.w.id)
		if len(m.server.watchers[m.key]) == 0 {
			delete(m.server.watchers, m.key)
		}
		m.server.mu.Unlock()

		// Waits for an in-flight callback, then blocks later ones.
		m.w.mu.Lock()
		m.w.stopped = true
		m.w.mu.Unlock()
	})
}

// mergeFields applies field-level upsert semantics: nested objects are
// merged, everything else is replaced.
func mergeFields(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeFields(existing, sub)
				continue
			}
		}
		dst[k] = domain.CloneValue(v)
	}
}

// Ensure MemoryClient implements Store interface.
var _ Store = (*MemoryClient)(nil)
