package localstore

import (
	"context"
	"fmt"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// AddRecord appends rec to a sequence collection. The id must already be
// assigned; uniqueness is the caller's job.
func (s *Store) AddRecord(ctx context.Context, c domain.Collection, rec domain.Record) (domain.Record, error) {
	if _, ok := rec.ID(); !ok {
		return nil, fmt.Errorf("AddRecord %s: %w", c, domain.ErrMissingID)
	}

	stored := rec.Clone()
	err := s.Update(ctx, c, func(current any) (any, error) {
		records, ok := current.([]domain.Record)
		if !ok {
			return nil, fmt.Errorf("%s is not a sequence collection", c)
		}
		return append(records, stored), nil
	})
	if err != nil {
		return nil, fmt.Errorf("AddRecord %s: %w", c, err)
	}
	return stored.Clone(), nil
}

// UpdateRecord merges patch into the record with the given id and returns the
// result. It fails with ErrNotFound when no record matches.
func (s *Store) UpdateRecord(ctx context.Context, c domain.Collection, id string, patch domain.Record) (domain.Record, error) {
	var updated domain.Record
	err := s.Update(ctx, c, func(current any) (any, error) {
		records, ok := current.([]domain.Record)
		if !ok {
			return nil, fmt.Errorf("%s is not a sequence collection", c)
		}
		i := domain.IndexOf(records, id)
		if i < 0 {
			return nil, fmt.Errorf("id %s: %w", id, ErrNotFound)
		}
		records[i] = records[i].Merge(patch)
		updated = records[i].Clone()
		return records, nil
	})
	if err != nil {
		return nil, fmt.Errorf("UpdateRecord %s: %w", c, err)
	}
	return updated, nil
}

// DeleteRecord removes every record with the given id. Deleting an id that is
// not present is a no-op and reports removed=false.
func (s *Store) DeleteRecord(ctx context.Context, c domain.Collection, id string) (removed bool, err error) {
	err = s.Update(ctx, c, func(current any) (any, error) {
		records, ok := current.([]domain.Record)
		if !ok {
			return nil, fmt.Errorf("%s is not a sequence collection", c)
		}
		kept := records[:0]
		for _, r := range records {
			if rid, ok := r.ID(); ok && rid == id {
				removed = true
				continue
			}
			kept = append(kept, r)
		}
		return kept, nil
	})
	if err != nil {
		return false, fmt.Errorf("DeleteRecord %s: %w", c, err)
	}
	return removed, nil
}

// FindRecord returns the record with the given id.
func (s *Store) FindRecord(ctx context.Context, c domain.Collection, id string) (domain.Record, error) {
	records, err := s.Records(ctx, c)
	if err != nil {
		return nil, err
	}
	i := domain.IndexOf(records, id)
	if i < 0 {
		return nil, fmt.Errorf("FindRecord %s id %s: %w", c, id, ErrNotFound)
	}
	return records[i], nil
}
