package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/events"
)

// ExportVersion is the envelope version written by Export.
const ExportVersion = 1

// Export is the serialized form of the whole local dataset.
type Export struct {
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Data       map[string]any `json:"data"`
}

// ImportResult lists the collections an import overwrote.
type ImportResult struct {
	Collections []domain.Collection `json:"collections"`
	Ignored     []string            `json:"ignored,omitempty"`
}

// ExportData serializes every known collection into one JSON blob. Never
// written collections are exported with their empty value so an import
// reproduces them exactly.
func (e *Engine) ExportData(ctx context.Context) ([]byte, error) {
	all := domain.All()
	names := make([]domain.Collection, 0, len(all))
	for _, spec := range all {
		names = append(names, spec.Name)
	}

	data, err := e.local.Dump(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("ExportData: %w", err)
	}

	out, err := json.MarshalIndent(Export{
		Version:    ExportVersion,
		ExportedAt: e.now().UTC(),
		Data:       data,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("ExportData: encoding: %w", err)
	}
	return out, nil
}

// ImportData overwrites the collections present in payload and leaves every
// other collection untouched. payload is either an Export envelope or a bare
// {collection: value} object. Nothing is written unless every known
// collection in the payload has the right shape.
func (e *Engine) ImportData(ctx context.Context, payload []byte) (ImportResult, error) {
	data, err := parseImport(payload)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec, ok := domain.Lookup(domain.Collection(name))
		if !ok {
			res.Ignored = append(res.Ignored, name)
			continue
		}
		if err := checkShape(spec, data[name]); err != nil {
			return ImportResult{}, fmt.Errorf("ImportData: %s: %v: %w", name, err, ErrMalformedImport)
		}
		res.Collections = append(res.Collections, spec.Name)
	}
	if len(res.Collections) == 0 {
		return ImportResult{}, fmt.Errorf("ImportData: no known collections: %w", ErrMalformedImport)
	}

	for _, c := range res.Collections {
		if err := e.local.Set(ctx, c, data[string(c)]); err != nil {
			return res, fmt.Errorf("ImportData: writing %s: %w", c, err)
		}
	}

	e.scheduleSnapshot()
	e.bus.Publish(events.Event{Kind: events.KindImported})
	e.log.Info().Int("collections", len(res.Collections)).Strs("ignored", res.Ignored).Msg("data imported")
	return res, nil
}

func parseImport(payload []byte) (map[string]any, error) {
	payload = bytes.TrimSpace(payload)
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("ImportData: %v: %w", err, ErrMalformedImport)
	}

	// An envelope has a numeric version and an object under data.
	if v, ok := raw["version"].(float64); ok {
		data, ok := raw["data"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ImportData: envelope without data: %w", ErrMalformedImport)
		}
		if int(v) > ExportVersion {
			return nil, fmt.Errorf("ImportData: export version %d is newer than supported %d: %w", int(v), ExportVersion, ErrMalformedImport)
		}
		return data, nil
	}
	return raw, nil
}

func checkShape(spec domain.Spec, v any) error {
	switch spec.Kind {
	case domain.KindSequence:
		if _, ok := domain.ToRecords(v); !ok {
			return fmt.Errorf("expected a list, got %T", v)
		}
	case domain.KindMap, domain.KindSingleton:
		if _, ok := domain.ToMap(v); !ok {
			return fmt.Errorf("expected an object, got %T", v)
		}
	}
	return nil
}
