package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) onSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func noError(t *testing.T) func(error) {
	return func(err error) { t.Errorf("unexpected watch error: %v", err) }
}

func TestMemoryServer_EchoMarksOwnWritesPending(t *testing.T) {
	ctx := context.Background()
	server := NewMemoryServer()
	phone := server.Connect("phone")
	laptop := server.Connect("laptop")

	var phoneSeen, laptopSeen recorder
	if _, err := phone.Watch(ctx, "u1", domain.Goals, phoneSeen.onSnapshot, noError(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := laptop.Watch(ctx, "u1", domain.Goals, laptopSeen.onSnapshot, noError(t)); err != nil {
		t.Fatal(err)
	}

	if err := phone.SetDocument(ctx, "u1", domain.Goals, "42", map[string]any{"id": 42.0, "target": 100.0}); err != nil {
		t.Fatalf("SetDocument failed: %v", err)
	}

	p := phoneSeen.all()
	l := laptopSeen.all()
	if len(p) != 2 || len(l) != 2 {
		t.Fatalf("got %d phone and %d laptop deliveries, want 2 each (initial + change)", len(p), len(l))
	}
	if p[0].HasPendingWrites || l[0].HasPendingWrites {
		t.Error("initial delivery flagged as pending")
	}
	if !p[1].HasPendingWrites {
		t.Error("writer's own echo not flagged as pending")
	}
	if l[1].HasPendingWrites {
		t.Error("other device's delivery flagged as pending")
	}

	want := []domain.Record{{"id": 42.0, "target": 100.0}}
	if diff := cmp.Diff(want, l[1].Records); diff != "" {
		t.Errorf("delivered records mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryServer_SetMergesFields(t *testing.T) {
	ctx := context.Background()
	server := NewMemoryServer()
	c := server.Connect("d1")

	if err := c.SetDocument(ctx, "u1", domain.Transactions, "t1", map[string]any{"id": "t1", "amount": 5.0}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDocument(ctx, "u1", domain.Transactions, "t1", map[string]any{"reconciled": true}); err != nil {
		t.Fatal(err)
	}

	doc, ok := server.Document("u1", domain.Transactions, "t1")
	if !ok {
		t.Fatal("document missing")
	}
	want := map[string]any{"id": "t1", "amount": 5.0, "reconciled": true}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryServer_RootDocument(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryServer().Connect("d1")

	if _, err := c.GetRoot(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRoot on empty server = %v, want ErrNotFound", err)
	}

	if err := c.MergeRoot(ctx, "u1", map[string]any{FieldSettings: map[string]any{"currency": "INR", "theme": "dark"}}); err != nil {
		t.Fatal(err)
	}
	if err := c.MergeRoot(ctx, "u1", map[string]any{FieldSettings: map[string]any{"currency": "USD"}, FieldLastUpdated: "now"}); err != nil {
		t.Fatal(err)
	}

	root, err := c.GetRoot(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRoot failed: %v", err)
	}
	want := map[string]any{FieldSettings: map[string]any{"currency": "USD"}, FieldLastUpdated: "now"}
	if diff := cmp.Diff(want, root); diff != "" {
		t.Errorf("root mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryServer_StopEndsDeliveries(t *testing.T) {
	ctx := context.Background()
	server := NewMemoryServer()
	c := server.Connect("d1")

	var seen recorder
	sub, err := c.Watch(ctx, "u1", domain.Payees, seen.onSnapshot, noError(t))
	if err != nil {
		t.Fatal(err)
	}
	if server.WatcherCount("u1") != 1 {
		t.Fatalf("WatcherCount = %d, want 1", server.WatcherCount("u1"))
	}
	sub.Stop()
	sub.Stop()

	if err := c.SetDocument(ctx, "u1", domain.Payees, "p1", map[string]any{"id": "p1"}); err != nil {
		t.Fatal(err)
	}
	if n := len(seen.all()); n != 1 {
		t.Errorf("got %d deliveries, want only the initial one", n)
	}
	if server.WatcherCount("u1") != 0 {
		t.Errorf("WatcherCount after Stop = %d", server.WatcherCount("u1"))
	}
}

func TestMemoryClient_FailWrites(t *testing.T) {
	ctx := context.Background()
	server := NewMemoryServer()
	c := server.Connect("d1")
	boom := errors.New("permission denied")

	c.FailWrites(boom)
	if err := c.DeleteDocument(ctx, "u1", domain.Goals, "1"); !errors.Is(err, boom) {
		t.Errorf("DeleteDocument error = %v, want %v", err, boom)
	}
	if len(server.Ops()) != 0 {
		t.Error("failed write was recorded")
	}

	c.FailWrites(nil)
	if err := c.DeleteDocument(ctx, "u1", domain.Goals, "1"); err != nil {
		t.Errorf("DeleteDocument after recovery: %v", err)
	}
}

func TestMemoryServer_HeldWriteMarksOtherDeliveriesPending(t *testing.T) {
	ctx := context.Background()
	server := NewMemoryServer()
	phone := server.Connect("phone")
	laptop := server.Connect("laptop")

	var p recorder
	sub, err := phone.Watch(ctx, "u1", domain.Goals, p.onSnapshot, noError(t))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Stop()

	release := phone.HoldWrites()
	done := make(chan error, 1)
	go func() {
		done <- phone.SetDocument(ctx, "u1", domain.Goals, "mine", map[string]any{"id": "mine"})
	}()

	// Wait until the held write is registered.
	deadline := time.Now().Add(2 * time.Second)
	for !phone.inFlight(watchKey{"u1", domain.Goals}) {
		if time.Now().After(deadline) {
			t.Fatal("held write never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if err := laptop.SetDocument(ctx, "u1", domain.Goals, "theirs", map[string]any{"id": "theirs"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := server.Document("u1", domain.Goals, "mine"); ok {
		t.Fatal("held write reached the server")
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("held SetDocument: %v", err)
	}
	if err := laptop.SetDocument(ctx, "u1", domain.Goals, "later", map[string]any{"id": "later"}); err != nil {
		t.Fatal(err)
	}

	snaps := p.all()
	if len(snaps) != 4 {
		t.Fatalf("phone got %d deliveries, want 4", len(snaps))
	}
	var pending []bool
	for _, s := range snaps {
		pending = append(pending, s.HasPendingWrites)
	}
	if diff := cmp.Diff([]bool{false, true, true, false}, pending); diff != "" {
		t.Errorf("pending flags mismatch (-want +got):\n%s", diff)
	}
}
