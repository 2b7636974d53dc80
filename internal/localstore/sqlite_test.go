package localstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	backend, err := NewSQLiteBackend(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	s := New(backend)
	if _, err := s.AddRecord(ctx, domain.Transactions, domain.Record{"id": "t1", "amount": 500.0, "type": "expense"}); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	backend, err = NewSQLiteBackend(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer backend.Close()
	s = New(backend)

	got, err := s.Records(ctx, domain.Transactions)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	want := []domain.Record{{"id": "t1", "amount": 500.0, "type": "expense"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteBackend_KeysAndDelete(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "kv.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	defer backend.Close()

	for _, k := range []string{"b", "a", "c"} {
		if err := backend.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set %s failed: %v", k, err)
		}
	}
	if err := backend.Set(ctx, "a", []byte("overwritten")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if err := backend.Delete(ctx, "c"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := backend.Delete(ctx, "never-there"); err != nil {
		t.Fatalf("Delete of absent key failed: %v", err)
	}

	keys, err := backend.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, keys); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}

	v, ok, err := backend.Get(ctx, "a")
	if err != nil || !ok || string(v) != "overwritten" {
		t.Errorf("Get(a) = (%q, %v, %v)", v, ok, err)
	}
	if _, ok, _ := backend.Get(ctx, "c"); ok {
		t.Error("deleted key still readable")
	}
}
