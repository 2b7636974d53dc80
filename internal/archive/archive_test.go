package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type mockWriter struct {
	PutFunc func(ctx context.Context, src any) error
}

func (m *mockWriter) Put(ctx context.Context, src any) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, src)
	}
	return nil
}

var archivedAt = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func TestToRow(t *testing.T) {
	rec := domain.Record{
		"id":          "t1",
		"date":        "2026-06-15",
		"amount":      float64(-42.5),
		"type":        "expense",
		"accountId":   "default",
		"category":    "Groceries",
		"description": "Weekly shop",
		"reconciled":  true,
		"tags":        []any{"food", 3, "home"},
		"notes":       "receipt in drawer",
	}

	got, err := ToRow("u1", rec, archivedAt)
	if err != nil {
		t.Fatalf("ToRow: %v", err)
	}
	want := &Row{
		TransactionID:   "t1",
		UserID:          "u1",
		TransactionDate: civil.Date{Year: 2026, Month: time.June, Day: 15},
		Amount:          -42.5,
		Type:            bigquery.NullString{StringVal: "expense", Valid: true},
		AccountID:       bigquery.NullString{StringVal: "default", Valid: true},
		Category:        bigquery.NullString{StringVal: "Groceries", Valid: true},
		Description:     bigquery.NullString{StringVal: "Weekly shop", Valid: true},
		Reconciled:      true,
		Tags:            []string{"food", "home"},
		ArchivedTS:      archivedAt,
		Extra:           bigquery.NullString{StringVal: `{"notes":"receipt in drawer"}`, Valid: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToRow mismatch (-want +got):\n%s", diff)
	}
}

func TestToRow_Dates(t *testing.T) {
	tests := []struct {
		name    string
		date    any
		want    civil.Date
		wantErr bool
	}{
		{name: "plain date", date: "2026-01-31", want: civil.Date{Year: 2026, Month: time.January, Day: 31}},
		{name: "rfc3339", date: "2026-02-01T23:30:00Z", want: civil.Date{Year: 2026, Month: time.February, Day: 1}},
		{name: "date with local time", date: "2026-03-05T10:00:00.000", want: civil.Date{Year: 2026, Month: time.March, Day: 5}},
		{name: "missing", date: nil, wantErr: true},
		{name: "garbage", date: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := ToRow("u1", domain.Record{"id": "t", "date": tt.date, "amount": "10.25"}, archivedAt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToRow error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if row.TransactionDate != tt.want {
				t.Errorf("date = %v, want %v", row.TransactionDate, tt.want)
			}
			if row.Amount != 10.25 {
				t.Errorf("amount = %v, want 10.25", row.Amount)
			}
		})
	}
}

func TestArchive(t *testing.T) {
	var saved []*bigquery.StructSaver
	w := &mockWriter{PutFunc: func(ctx context.Context, src any) error {
		saved = src.([]*bigquery.StructSaver)
		return nil
	}}
	a := newWithWriter(w, zerolog.New(io.Discard))
	a.now = func() time.Time { return archivedAt }

	res, err := a.Archive(context.Background(), "u1", []domain.Record{
		{"id": "t1", "date": "2026-06-01", "amount": float64(5)},
		{"id": "t2"},
		{"date": "2026-06-02"},
		{"id": "t3", "date": "2026-06-03", "amount": float64(7)},
	})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if res.Archived != 2 {
		t.Errorf("Archived = %d, want 2", res.Archived)
	}
	if diff := cmp.Diff([]string{"t2", ""}, res.Rejected); diff != "" {
		t.Errorf("Rejected mismatch (-want +got):\n%s", diff)
	}
	if len(saved) != 2 || saved[0].InsertID != "t1" || saved[1].InsertID != "t3" {
		t.Errorf("unexpected savers: %+v", saved)
	}
}

func TestArchive_Errors(t *testing.T) {
	boom := errors.New("quota")
	calls := 0
	w := &mockWriter{PutFunc: func(ctx context.Context, src any) error {
		calls++
		return boom
	}}
	a := newWithWriter(w, zerolog.New(io.Discard))

	if _, err := a.Archive(context.Background(), "u1", []domain.Record{{"id": "t1", "date": "2026-06-01"}}); !errors.Is(err, boom) {
		t.Errorf("Archive error = %v, want %v", err, boom)
	}

	res, err := a.Archive(context.Background(), "u1", nil)
	if err != nil || res.Archived != 0 {
		t.Errorf("empty Archive = %+v, %v", res, err)
	}
	if calls != 1 {
		t.Errorf("Put called %d times, want 1", calls)
	}
}
