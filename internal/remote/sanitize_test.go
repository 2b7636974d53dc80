package remote

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

func TestSanitize(t *testing.T) {
	when := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in := map[string]any{
		"str":      "a",
		"int":      7,
		"uint":     uint8(3),
		"huge":     uint64(math.MaxUint64),
		"float":    1.5,
		"nan":      math.NaN(),
		"inf":      math.Inf(1),
		"nil":      nil,
		"when":     when,
		"fn":       func() {},
		"ch":       make(chan int),
		"tags":     []string{"x", "y"},
		"nested":   []any{[]any{1}, "keep"},
		"intKeys":  map[int]string{1: "a"},
		"typedMap": map[string]int{"a": 1},
		"record":   domain.Record{"id": "r", "bad": math.Inf(-1)},
	}

	want := map[string]any{
		"str":      "a",
		"int":      int64(7),
		"uint":     int64(3),
		"float":    1.5,
		"nil":      nil,
		"when":     when,
		"tags":     []any{"x", "y"},
		"nested":   []any{"keep"},
		"typedMap": map[string]any{"a": int64(1)},
		"record":   map[string]any{"id": "r"},
	}

	if diff := cmp.Diff(want, Sanitize(in)); diff != "" {
		t.Errorf("Sanitize mismatch (-want +got):\n%s", diff)
	}
}
