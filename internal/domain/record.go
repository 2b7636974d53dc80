package domain

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"
)

// FieldID is the only field every record is guaranteed to carry.
const FieldID = "id"

const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// ErrMissingID is returned when a record without a usable id reaches code
// that addresses records by id.
var ErrMissingID = errors.New("record has no id")

// Record is one schema-less entry of a collection. Beyond "id" the expected
// fields depend on the collection (a transaction has amount, type, category,
// date, accountId, reconciled, attachments; a goal has target, current,
// deadline; and so on).
type Record map[string]any

// ID returns the normalized id of the record.
func (r Record) ID() (string, bool) {
	if r == nil {
		return "", false
	}
	return NormalizeID(r[FieldID])
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// Merge returns a copy of r with the fields of patch applied on top.
// The id of r is never overwritten by the patch.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range patch {
		if k == FieldID {
			continue
		}
		out[k] = CloneValue(v)
	}
	return out
}

// NormalizeID converts the id forms produced by JSON, Firestore and callers
// (string, float64, int64, json.Number) into one comparable string.
// A JSON number 42 and the Go int 42 both normalize to "42".
func NormalizeID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return NormalizeID(floatOrString(id))
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return "", false
		}
		if id == math.Trunc(id) && math.Abs(id) < 1<<53 {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case float32:
		return NormalizeID(float64(id))
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint:
		return strconv.FormatUint(uint64(id), 10), true
	case uint32:
		return strconv.FormatUint(uint64(id), 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	default:
		return "", false
	}
}

func floatOrString(n json.Number) any {
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// CloneValue deep-copies the JSON-like value trees stored in collections.
// Scalars are returned as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	case []Record:
		out := make([]Record, len(t))
		for i, r := range t {
			out[i] = r.Clone()
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// ToRecords converts a decoded collection value into a record slice.
// Elements that are not objects are skipped. ok is false when v is not a
// list at all.
func ToRecords(v any) (records []Record, ok bool) {
	switch t := v.(type) {
	case nil:
		return []Record{}, true
	case []Record:
		out := make([]Record, 0, len(t))
		for _, r := range t {
			if r != nil {
				out = append(out, r.Clone())
			}
		}
		return out, true
	case []map[string]any:
		out := make([]Record, 0, len(t))
		for _, m := range t {
			if m != nil {
				out = append(out, Record(m).Clone())
			}
		}
		return out, true
	case []any:
		out := make([]Record, 0, len(t))
		for _, item := range t {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Record(m).Clone())
			case Record:
				out = append(out, m.Clone())
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// ToMap converts a decoded object value (budgets, settings) into a map.
func ToMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return CloneValue(t).(map[string]any), true
	case Record:
		return map[string]any(t.Clone()), true
	default:
		return nil, false
	}
}

// IndexOf returns the position of the record with the given id, or -1.
func IndexOf(records []Record, id string) int {
	for i, r := range records {
		if rid, ok := r.ID(); ok && rid == id {
			return i
		}
	}
	return -1
}

// Timestamp formats t the way records store their createdAt/updatedAt fields.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
