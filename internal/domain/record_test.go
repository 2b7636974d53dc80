package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"string", "abc", "abc", true},
		{"empty string", "", "", false},
		{"json float", float64(42), "42", true},
		{"fractional float", 1.5, "1.5", true},
		{"int", 42, "42", true},
		{"int64 from firestore", int64(1700000000000), "1700000000000", true},
		{"json number", json.Number("7"), "7", true},
		{"nil", nil, "", false},
		{"bool", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeID(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeID(%v) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	orig := Record{
		"id":          "t1",
		"attachments": []any{map[string]any{"name": "receipt.png"}},
	}
	cp := orig.Clone()
	cp["attachments"].([]any)[0].(map[string]any)["name"] = "changed"

	got := orig["attachments"].([]any)[0].(map[string]any)["name"]
	if got != "receipt.png" {
		t.Errorf("Clone shared nested state, original now %v", got)
	}
}

func TestRecordMergeKeepsID(t *testing.T) {
	r := Record{"id": "g1", "target": 100.0}
	got := r.Merge(Record{"id": "other", "current": 40.0})

	want := Record{"id": "g1", "target": 100.0, "current": 40.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestToRecords(t *testing.T) {
	var decoded any
	if err := json.Unmarshal([]byte(`[{"id":1,"a":"x"},"junk",{"id":2}]`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, ok := ToRecords(decoded)
	if !ok {
		t.Fatal("ToRecords rejected a list")
	}
	want := []Record{{"id": 1.0, "a": "x"}, {"id": 2.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToRecords mismatch (-want +got):\n%s", diff)
	}

	if _, ok := ToRecords("not a list"); ok {
		t.Error("ToRecords accepted a string")
	}
}

func TestIndexOf(t *testing.T) {
	records := []Record{{"id": 1.0}, {"id": "2"}}
	if i := IndexOf(records, "2"); i != 1 {
		t.Errorf("IndexOf(2) = %d, want 1", i)
	}
	if i := IndexOf(records, "1"); i != 0 {
		t.Errorf("IndexOf(1) = %d, want 0", i)
	}
	if i := IndexOf(records, "3"); i != -1 {
		t.Errorf("IndexOf(3) = %d, want -1", i)
	}
}

func TestRegistry(t *testing.T) {
	for _, c := range Tracked() {
		s, _ := Lookup(c)
		if s.Kind != KindSequence {
			t.Errorf("tracked collection %s is %s, want sequence", c, s.Kind)
		}
	}
	for _, c := range []Collection{Crypto, SIPs, Budgets} {
		s, ok := Lookup(c)
		if !ok || s.PerDocument {
			t.Errorf("%s should be snapshot-only", c)
		}
	}
	for _, c := range Synced() {
		if c == PIN || c == FeatureFlags {
			t.Errorf("local-only collection %s is part of the snapshot", c)
		}
	}
	if _, err := ParseCollection("nope"); err == nil {
		t.Error("ParseCollection accepted an unknown name")
	}
}
