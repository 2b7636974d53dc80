package replicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/remote"
	"github.com/dvloznov/offline-ledger/internal/tasks"
)

func setup(t *testing.T) (*Replicator, *remote.MemoryServer, *remote.MemoryClient, *tasks.Runner) {
	t.Helper()
	log := zerolog.New(io.Discard)
	server := remote.NewMemoryServer()
	client := server.Connect("device-a")
	runner := tasks.NewRunner(log, 8)
	r := New(client, runner, log)
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r, server, client, runner
}

func drain(t *testing.T, runner *tasks.Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Wait(ctx); err != nil {
		t.Fatalf("runner.Wait: %v", err)
	}
}

func TestReplicate_DeleteIssuesOneRemoteDelete(t *testing.T) {
	r, server, _, runner := setup(t)

	r.Replicate("u1", domain.Goals, domain.Record{"id": 42.0}, true)
	drain(t, runner)

	var deletes []remote.Op
	for _, op := range server.Ops() {
		if op.Kind == remote.OpDelete {
			deletes = append(deletes, op)
		}
	}
	if len(deletes) != 1 {
		t.Fatalf("got %d deletes, want 1", len(deletes))
	}
	if deletes[0].Collection != domain.Goals || deletes[0].DocID != "42" || deletes[0].UserID != "u1" {
		t.Errorf("delete addressed at %s/%s/%s", deletes[0].UserID, deletes[0].Collection, deletes[0].DocID)
	}
}

func TestReplicate_UpsertTouchesLastUpdated(t *testing.T) {
	r, server, client, runner := setup(t)

	r.Replicate("u1", domain.Transactions, domain.Record{"id": "t1", "amount": 500.0, "bad": math.NaN()}, false)
	drain(t, runner)

	doc, ok := server.Document("u1", domain.Transactions, "t1")
	if !ok {
		t.Fatal("document not written")
	}
	if diff := cmp.Diff(map[string]any{"id": "t1", "amount": 500.0}, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}

	root, err := client.GetRoot(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetRoot: %v", err)
	}
	if got, ok := root[remote.FieldLastUpdated].(time.Time); !ok || !got.Equal(r.now()) {
		t.Errorf("lastUpdated = %v", root[remote.FieldLastUpdated])
	}
}

func TestReplicate_NoOpCases(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		coll   domain.Collection
		rec    domain.Record
	}{
		{name: "no session", userID: "", coll: domain.Goals, rec: domain.Record{"id": "g1"}},
		{name: "snapshot-only collection", userID: "u1", coll: domain.Crypto, rec: domain.Record{"id": "c1"}},
		{name: "budgets map", userID: "u1", coll: domain.Budgets, rec: domain.Record{"id": "b"}},
		{name: "local-only collection", userID: "u1", coll: domain.FeatureFlags, rec: domain.Record{"id": "f"}},
		{name: "missing id", userID: "u1", coll: domain.Goals, rec: domain.Record{"name": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, server, _, runner := setup(t)
			r.Replicate(tt.userID, tt.coll, tt.rec, false)
			drain(t, runner)
			if ops := server.Ops(); len(ops) != 0 {
				t.Errorf("expected no remote writes, got %d", len(ops))
			}
		})
	}
}

func TestReplicate_NilStoreIsOffline(t *testing.T) {
	runner := tasks.NewRunner(zerolog.New(io.Discard), 1)
	r := New(nil, runner, zerolog.New(io.Discard))
	if r.Enabled() {
		t.Fatal("replicator without store reports enabled")
	}
	r.Replicate("u1", domain.Goals, domain.Record{"id": "g"}, false)
	r.ReplicateSettings("u1", map[string]any{"currency": "INR"})
	if got := runner.Stats().Started; got != 0 {
		t.Errorf("started %d tasks, want 0", got)
	}
}

func TestReplicate_FailureIsSwallowed(t *testing.T) {
	r, server, client, runner := setup(t)
	boom := errors.New("permission denied")
	client.FailWrites(boom)

	r.Replicate("u1", domain.Payees, domain.Record{"id": "p1"}, false)
	drain(t, runner)

	select {
	case te := <-runner.Errors():
		if !errors.Is(te, boom) {
			t.Errorf("task error = %v, want %v", te, boom)
		}
	default:
		t.Error("failure not reported on the error channel")
	}
	if len(server.Ops()) != 0 {
		t.Error("failed write reached the server")
	}
}

func TestReplicateSettings(t *testing.T) {
	r, _, client, runner := setup(t)

	r.ReplicateSettings("u1", map[string]any{"currency": "INR"})
	drain(t, runner)

	root, err := client.GetRoot(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"currency": "INR"}, root[remote.FieldSettings]); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestReplicate_AddThenDeleteLeavesNoDocument(t *testing.T) {
	r, server, _, runner := setup(t)

	const n = 500
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("g%d", i)
		r.Replicate("u1", domain.Goals, domain.Record{"id": id, "name": "Bike"}, false)
		r.Replicate("u1", domain.Goals, domain.Record{"id": id}, true)
	}
	drain(t, runner)

	var left []string
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("g%d", i)
		if _, ok := server.Document("u1", domain.Goals, id); ok {
			left = append(left, id)
		}
	}
	if len(left) != 0 {
		t.Errorf("%d documents survived add then delete: %v", len(left), left)
	}
}

// gatedStore blocks SetDocument until release is closed.
type gatedStore struct {
	remote.Store
	release chan struct{}
}

func (g *gatedStore) SetDocument(ctx context.Context, userID string, c domain.Collection, id string, fields map[string]any) error {
	<-g.release
	return g.Store.SetDocument(ctx, userID, c, id, fields)
}

func TestReplicate_PendingUntilWriteFinishes(t *testing.T) {
	log := zerolog.New(io.Discard)
	server := remote.NewMemoryServer()
	store := &gatedStore{Store: server.Connect("device-a"), release: make(chan struct{})}
	runner := tasks.NewRunner(log, 8)
	r := New(store, runner, log)

	settled := make(chan domain.Collection, 4)
	r.OnSettled(func(userID string, c domain.Collection) {
		if userID == "u1" {
			settled <- c
		}
	})

	r.Replicate("u1", domain.Goals, domain.Record{"id": "g1"}, false)
	if !r.Pending("u1", domain.Goals) {
		t.Fatal("write not pending right after Replicate returned")
	}
	if r.Pending("u1", domain.Payees) || r.Pending("u2", domain.Goals) {
		t.Error("pending leaked to another collection or user")
	}

	close(store.release)
	drain(t, runner)

	if r.Pending("u1", domain.Goals) {
		t.Error("write still pending after it finished")
	}
	select {
	case c := <-settled:
		if c != domain.Goals {
			t.Errorf("settled %s, want goals", c)
		}
	default:
		t.Error("settle callback did not run")
	}
}

func TestHold(t *testing.T) {
	r, _, _, runner := setup(t)
	settled := 0
	r.OnSettled(func(string, domain.Collection) { settled++ })

	release := r.Hold("u1", domain.Goals)
	r.Replicate("u1", domain.Goals, domain.Record{"id": "g1"}, false)
	drain(t, runner)

	if !r.Pending("u1", domain.Goals) {
		t.Fatal("collection not pending while held")
	}
	if settled != 0 {
		t.Errorf("settled %d times while held", settled)
	}

	release()
	release()
	if r.Pending("u1", domain.Goals) {
		t.Error("collection still pending after release")
	}
	if settled != 1 {
		t.Errorf("settled %d times, want 1", settled)
	}

	noop := r.Hold("", domain.Goals)
	noop()
	if r.Pending("", domain.Goals) {
		t.Error("hold without a session marked the collection pending")
	}
}
