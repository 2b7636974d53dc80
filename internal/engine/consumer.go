package engine

import (
	"context"
	"fmt"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// The methods below are the typed consumer API. Each one goes through Do, so
// every call is mirrored exactly like a call by operation name.

// List returns every record of a sequence collection.
func (e *Engine) List(ctx context.Context, c domain.Collection) ([]domain.Record, error) {
	v, err := e.doVerb(ctx, VerbList, c, Request{})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Record), nil
}

// Find returns one record by id.
func (e *Engine) Find(ctx context.Context, c domain.Collection, id string) (domain.Record, error) {
	v, err := e.doVerb(ctx, VerbFind, c, Request{ID: id})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// Add stores a new record. An id is generated unless rec carries one.
func (e *Engine) Add(ctx context.Context, c domain.Collection, rec domain.Record) (domain.Record, error) {
	v, err := e.doVerb(ctx, VerbAdd, c, Request{Record: rec})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// Update merges patch into the record with the given id.
func (e *Engine) Update(ctx context.Context, c domain.Collection, id string, patch domain.Record) (domain.Record, error) {
	v, err := e.doVerb(ctx, VerbUpdate, c, Request{ID: id, Record: patch})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// Delete removes the record with the given id and reports whether it existed.
func (e *Engine) Delete(ctx context.Context, c domain.Collection, id string) (bool, error) {
	v, err := e.doVerb(ctx, VerbDelete, c, Request{ID: id})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// ReconcileTransaction sets the reconciled status of one transaction.
func (e *Engine) ReconcileTransaction(ctx context.Context, id string, reconciled bool) (domain.Record, error) {
	v, err := e.Do(ctx, OpReconcileTransaction, Request{ID: id, Value: reconciled})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// Budgets returns the category -> limit map.
func (e *Engine) Budgets(ctx context.Context) (map[string]any, error) {
	v, err := e.Do(ctx, OpGetBudgets, Request{})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// SaveBudgets replaces the budget map.
func (e *Engine) SaveBudgets(ctx context.Context, budgets map[string]any) (map[string]any, error) {
	v, err := e.Do(ctx, OpSaveBudgets, Request{Value: budgets})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Settings returns the user settings singleton.
func (e *Engine) Settings(ctx context.Context) (domain.Record, error) {
	v, err := e.Do(ctx, OpGetSettings, Request{})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// UpdateSettings merges patch into the settings and returns the result.
func (e *Engine) UpdateSettings(ctx context.Context, patch domain.Record) (domain.Record, error) {
	v, err := e.Do(ctx, OpUpdateSettings, Request{Record: patch})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// FeatureFlags returns the local feature flags.
func (e *Engine) FeatureFlags(ctx context.Context) (domain.Record, error) {
	v, err := e.Do(ctx, OpGetFeatureFlags, Request{})
	if err != nil {
		return nil, err
	}
	return v.(domain.Record), nil
}

// SetPIN stores the app lock PIN locally. It is never replicated.
func (e *Engine) SetPIN(ctx context.Context, pin string) error {
	_, err := e.Do(ctx, OpSetPIN, Request{Value: pin})
	return err
}

func (e *Engine) doVerb(ctx context.Context, verb string, c domain.Collection, req Request) (any, error) {
	name, err := OperationName(verb, c)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", verb, c, ErrUnknownOperation)
	}
	return e.Do(ctx, name, req)
}
