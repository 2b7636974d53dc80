package remote

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Sanitize returns a copy of fields holding only values the remote document
// model can store. Unsupported values are dropped rather than failing the
// whole write: functions, channels, NaN and infinities, maps keyed by
// anything but strings, and arrays nested directly inside arrays.
func Sanitize(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if clean, ok := sanitizeValue(v, false); ok {
			out[k] = clean
		}
	}
	return out
}

func sanitizeValue(v any, inArray bool) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool, string, time.Time, []byte:
		return x, true
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(x).Int(), true
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(x).Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return int64(u), true
	case float32:
		return sanitizeFloat(float64(x))
	case float64:
		return sanitizeFloat(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return sanitizeFloat(f)
	case domain.Record:
		return Sanitize(x), true
	case map[string]any:
		return Sanitize(x), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, true
		}
		return sanitizeValue(rv.Elem().Interface(), inArray)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if clean, ok := sanitizeValue(iter.Value().Interface(), false); ok {
				out[iter.Key().String()] = clean
			}
		}
		return out, true
	case reflect.Slice, reflect.Array:
		if inArray {
			return nil, false
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if clean, ok := sanitizeValue(rv.Index(i).Interface(), true); ok {
				out = append(out, clean)
			}
		}
		return out, true
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return rv.Bool(), true
	}
	return nil, false
}

func sanitizeFloat(f float64) (any, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return f, true
}
