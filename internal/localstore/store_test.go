package localstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

func newTestStore() *Store {
	return New(NewMemoryBackend())
}

func TestStore_EmptyCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	tests := []struct {
		collection domain.Collection
		want       any
	}{
		{domain.Transactions, []domain.Record{}},
		{domain.Budgets, map[string]any{}},
		{domain.Settings, domain.Record{}},
		{domain.PIN, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.collection), func(t *testing.T) {
			got, err := s.Get(ctx, tt.collection)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Get mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_UnknownCollection(t *testing.T) {
	s := newTestStore()
	if _, err := s.Get(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestStore_RecordCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if _, err := s.AddRecord(ctx, domain.Goals, domain.Record{"id": 42.0, "target": 1000.0}); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	if _, err := s.AddRecord(ctx, domain.Goals, domain.Record{"id": "g2", "target": 50.0}); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}

	updated, err := s.UpdateRecord(ctx, domain.Goals, "42", domain.Record{"current": 250.0})
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if updated["current"] != 250.0 || updated["target"] != 1000.0 {
		t.Errorf("UpdateRecord returned %v", updated)
	}

	removed, err := s.DeleteRecord(ctx, domain.Goals, "g2")
	if err != nil || !removed {
		t.Fatalf("DeleteRecord = (%v, %v), want (true, nil)", removed, err)
	}

	got, err := s.Records(ctx, domain.Goals)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	want := []domain.Record{{"id": 42.0, "target": 1000.0, "current": 250.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateMissingRecord(t *testing.T) {
	s := newTestStore()
	_, err := s.UpdateRecord(context.Background(), domain.Payees, "missing", domain.Record{"name": "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_AddRequiresID(t *testing.T) {
	s := newTestStore()
	_, err := s.AddRecord(context.Background(), domain.Payees, domain.Record{"name": "x"})
	if !errors.Is(err, domain.ErrMissingID) {
		t.Errorf("expected ErrMissingID, got %v", err)
	}
}

// TestStore_MatchesReferenceModel applies random add/update/delete sequences
// to the store and to a plain slice and compares the outcome.
func TestStore_MatchesReferenceModel(t *testing.T) {
	ctx := context.Background()

	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			s := newTestStore()
			var model []domain.Record
			next := 0

			for step := 0; step < 60; step++ {
				switch op := rng.Intn(3); {
				case op == 0 || len(model) == 0:
					next++
					rec := domain.Record{"id": fmt.Sprintf("r%d", next), "amount": float64(rng.Intn(1000))}
					if _, err := s.AddRecord(ctx, domain.Transactions, rec); err != nil {
						t.Fatalf("AddRecord failed: %v", err)
					}
					model = append(model, rec.Clone())
				case op == 1:
					i := rng.Intn(len(model))
					id, _ := model[i].ID()
					patch := domain.Record{"amount": float64(rng.Intn(1000)), "category": "Food"}
					if _, err := s.UpdateRecord(ctx, domain.Transactions, id, patch); err != nil {
						t.Fatalf("UpdateRecord failed: %v", err)
					}
					model[i] = model[i].Merge(patch)
				default:
					i := rng.Intn(len(model))
					id, _ := model[i].ID()
					if _, err := s.DeleteRecord(ctx, domain.Transactions, id); err != nil {
						t.Fatalf("DeleteRecord failed: %v", err)
					}
					model = append(model[:i], model[i+1:]...)
				}
			}

			got, err := s.Records(ctx, domain.Transactions)
			if err != nil {
				t.Fatalf("Records failed: %v", err)
			}
			want := model
			if want == nil {
				want = []domain.Record{}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("store diverged from model (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_CacheInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	if err := s.Set(ctx, domain.Goals, []domain.Record{{"id": "a"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Records(ctx, domain.Goals); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Records(ctx, domain.Goals); err != nil {
		t.Fatal(err)
	}
	if stats := s.CacheStats(); stats.Hits != 1 || stats.Entries != 1 {
		t.Errorf("after two reads stats = %+v, want 1 hit and 1 entry", stats)
	}

	if err := s.Set(ctx, domain.Goals, []domain.Record{{"id": "b"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Records(ctx, domain.Goals)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := got[0].ID(); id != "b" {
		t.Errorf("read stale cache value %v", got)
	}
}

func TestStore_CachedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	if err := s.Set(ctx, domain.Goals, []domain.Record{{"id": "a", "target": 1.0}}); err != nil {
		t.Fatal(err)
	}

	first, _ := s.Records(ctx, domain.Goals)
	first[0]["target"] = 999.0

	second, _ := s.Records(ctx, domain.Goals)
	if second[0]["target"] != 1.0 {
		t.Errorf("caller mutation leaked into cache: %v", second[0])
	}
}

func TestStore_ReplacePrimesCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	incoming := []domain.Record{{"id": int64(7), "amount": int64(500)}}
	if err := s.Replace(ctx, domain.Transactions, incoming); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, err := s.Records(ctx, domain.Transactions)
	if err != nil {
		t.Fatal(err)
	}
	want := []domain.Record{{"id": 7.0, "amount": 500.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Replace mismatch (-want +got):\n%s", diff)
	}
	if stats := s.CacheStats(); stats.Hits != 1 {
		t.Errorf("expected read served from cache, stats = %+v", stats)
	}
}

func TestStore_QuotaExceededSurfaces(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryBackendWithQuota(64))

	big := domain.Record{"id": "x", "note": string(make([]byte, 200))}
	_, err := s.AddRecord(ctx, domain.Transactions, big)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	got, err := s.Records(ctx, domain.Transactions)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("failed write left %d records behind", len(got))
	}
}

func TestStore_PurgeNamespaceKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := New(backend)

	if err := s.Set(ctx, domain.Settings, domain.Record{"currency": "INR"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta(ctx, "onboardingDone", "true"); err != nil {
		t.Fatal(err)
	}
	if err := backend.Set(ctx, "other_app", []byte("keep")); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeNamespace(ctx)
	if err != nil {
		t.Fatalf("PurgeNamespace failed: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d keys, want 2", n)
	}

	keys, _ := backend.Keys(ctx)
	if diff := cmp.Diff([]string{"other_app"}, keys); diff != "" {
		t.Errorf("remaining keys mismatch (-want +got):\n%s", diff)
	}
	settings, _ := s.Object(ctx, domain.Settings)
	if len(settings) != 0 {
		t.Errorf("settings survived purge: %v", settings)
	}
}

func TestStore_SetRejectsWrongShape(t *testing.T) {
	s := newTestStore()
	if err := s.Set(context.Background(), domain.Transactions, "not a list"); err == nil {
		t.Error("expected error for non-list transactions")
	}
	if err := s.Set(context.Background(), domain.Budgets, []any{1, 2}); err == nil {
		t.Error("expected error for non-object budgets")
	}
}
