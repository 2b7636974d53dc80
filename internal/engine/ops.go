package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/offline-ledger/internal/domain"
)

// Request carries the arguments of one operation. Which fields matter
// depends on the operation: ID for find/update/delete/reconcile, Record for
// add/update and settings patches, Value for whole-value writes.
type Request struct {
	ID     string
	Record domain.Record
	Value  any
}

// replication says how a successful local mutation is mirrored remotely.
type replication int

const (
	replicateNone replication = iota
	replicateUpsert
	replicateDelete
	replicateSettings
)

type operation struct {
	collection domain.Collection
	mutates    bool
	replicate  replication
	run        func(ctx context.Context, req Request) (any, error)
}

// Verbs applied to every sequence collection.
const (
	VerbList   = "get"
	VerbFind   = "find"
	VerbAdd    = "add"
	VerbUpdate = "update"
	VerbDelete = "delete"
)

// Collection-specific operation names.
const (
	OpReconcileTransaction = "reconcile-transaction"
	OpGetBudgets           = "get-budgets"
	OpSaveBudgets          = "save-budgets"
	OpGetSettings          = "get-user-settings"
	OpUpdateSettings       = "update-user-settings"
	OpGetFeatureFlags      = "get-feature-flags"
	OpUpdateFeatureFlags   = "update-feature-flags"
	OpGetPIN               = "get-pin"
	OpSetPIN               = "set-pin"
)

// nouns maps each sequence collection to its singular and plural operation
// nouns.
var nouns = map[domain.Collection][2]string{
	domain.Transactions:   {"transaction", "transactions"},
	domain.Accounts:       {"account", "accounts"},
	domain.Payees:         {"payee", "payees"},
	domain.Recurring:      {"recurring", "recurring"},
	domain.Investments:    {"investment", "investments"},
	domain.Goals:          {"goal", "goals"},
	domain.Alerts:         {"alert", "alerts"},
	domain.Friends:        {"friend", "friends"},
	domain.SharedExpenses: {"shared-expense", "shared-expenses"},
	domain.Reminders:      {"reminder", "reminders"},
	domain.Loans:          {"loan", "loans"},
	domain.Assets:         {"asset", "assets"},
	domain.Charity:        {"charity", "charity"},
	domain.Crypto:         {"crypto", "crypto"},
	domain.SIPs:           {"sip", "sips"},
}

// OperationName returns the table name of a verb on a sequence collection,
// e.g. ("delete", goals) -> "delete-goal" and ("get", goals) -> "get-goals".
func OperationName(verb string, c domain.Collection) (string, error) {
	n, ok := nouns[c]
	if !ok {
		return "", fmt.Errorf("OperationName: %q is not a record collection", c)
	}
	if verb == VerbList {
		return verb + "-" + n[1], nil
	}
	return verb + "-" + n[0], nil
}

// Operations lists every operation name, sorted.
func (e *Engine) Operations() []string {
	names := make([]string, 0, len(e.ops))
	for name := range e.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Do runs a named operation: the local handler executes and its result is
// returned, and only then is the mutation handed to background replication
// and the snapshot debounce. Replication never delays or fails the call.
func (e *Engine) Do(ctx context.Context, name string, req Request) (any, error) {
	op, ok := e.ops[name]
	if !ok {
		return nil, fmt.Errorf("Do %q: %w", name, ErrUnknownOperation)
	}

	// Held across the local commit so a remote delivery cannot replace the
	// collection before the replicated write is scheduled.
	userID := e.UserID()
	if op.replicate != replicateNone {
		release := e.repl.Hold(userID, op.collection)
		defer release()
	}

	result, err := op.run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if op.mutates {
		e.afterMutation(userID, op, req, result)
	}
	return result, nil
}

func (e *Engine) afterMutation(userID string, op operation, req Request, result any) {
	switch op.replicate {
	case replicateUpsert:
		if rec, ok := result.(domain.Record); ok {
			e.repl.Replicate(userID, op.collection, rec, false)
		}
	case replicateDelete:
		e.repl.Replicate(userID, op.collection, domain.Record{domain.FieldID: req.ID}, true)
	case replicateSettings:
		if rec, ok := result.(domain.Record); ok {
			e.repl.ReplicateSettings(userID, rec)
		}
	}

	if spec, ok := domain.Lookup(op.collection); ok && !spec.LocalOnly {
		e.scheduleSnapshot()
	}
}

const fieldReconciled = "reconciled"

func (e *Engine) buildOperations() map[string]operation {
	ops := make(map[string]operation)

	for c := range nouns {
		list, _ := OperationName(VerbList, c)
		find, _ := OperationName(VerbFind, c)
		add, _ := OperationName(VerbAdd, c)
		update, _ := OperationName(VerbUpdate, c)
		del, _ := OperationName(VerbDelete, c)

		ops[list] = operation{collection: c, run: func(ctx context.Context, req Request) (any, error) {
			return e.local.Records(ctx, c)
		}}
		ops[find] = operation{collection: c, run: func(ctx context.Context, req Request) (any, error) {
			return e.local.FindRecord(ctx, c, req.ID)
		}}
		ops[add] = operation{collection: c, mutates: true, replicate: replicateUpsert, run: func(ctx context.Context, req Request) (any, error) {
			return e.addRecord(ctx, c, req.Record)
		}}
		ops[update] = operation{collection: c, mutates: true, replicate: replicateUpsert, run: func(ctx context.Context, req Request) (any, error) {
			return e.updateRecord(ctx, c, req.ID, req.Record)
		}}
		ops[del] = operation{collection: c, mutates: true, replicate: replicateDelete, run: func(ctx context.Context, req Request) (any, error) {
			if req.ID == "" {
				return nil, domain.ErrMissingID
			}
			return e.local.DeleteRecord(ctx, c, req.ID)
		}}
	}

	// The whole record is upserted so a transaction that never reached the
	// remote store does not arrive there as a bare reconciled flag.
	ops[OpReconcileTransaction] = operation{collection: domain.Transactions, mutates: true, replicate: replicateUpsert, run: func(ctx context.Context, req Request) (any, error) {
		patch := domain.Record{fieldReconciled: req.Value, domain.FieldUpdatedAt: domain.Timestamp(e.now())}
		return e.local.UpdateRecord(ctx, domain.Transactions, req.ID, patch)
	}}

	ops[OpGetBudgets] = operation{collection: domain.Budgets, run: func(ctx context.Context, req Request) (any, error) {
		return e.local.Object(ctx, domain.Budgets)
	}}
	ops[OpSaveBudgets] = operation{collection: domain.Budgets, mutates: true, run: func(ctx context.Context, req Request) (any, error) {
		return e.replaceObject(ctx, domain.Budgets, req.Value)
	}}

	ops[OpGetSettings] = operation{collection: domain.Settings, run: func(ctx context.Context, req Request) (any, error) {
		return e.singleton(ctx, domain.Settings)
	}}
	ops[OpUpdateSettings] = operation{collection: domain.Settings, mutates: true, replicate: replicateSettings, run: func(ctx context.Context, req Request) (any, error) {
		return e.mergeSingleton(ctx, domain.Settings, req.Record)
	}}

	ops[OpGetFeatureFlags] = operation{collection: domain.FeatureFlags, run: func(ctx context.Context, req Request) (any, error) {
		return e.singleton(ctx, domain.FeatureFlags)
	}}
	ops[OpUpdateFeatureFlags] = operation{collection: domain.FeatureFlags, mutates: true, run: func(ctx context.Context, req Request) (any, error) {
		return e.mergeSingleton(ctx, domain.FeatureFlags, req.Record)
	}}

	ops[OpGetPIN] = operation{collection: domain.PIN, run: func(ctx context.Context, req Request) (any, error) {
		return e.local.Get(ctx, domain.PIN)
	}}
	ops[OpSetPIN] = operation{collection: domain.PIN, mutates: true, run: func(ctx context.Context, req Request) (any, error) {
		if err := e.local.Set(ctx, domain.PIN, req.Value); err != nil {
			return nil, err
		}
		return req.Value, nil
	}}

	return ops
}

func (e *Engine) addRecord(ctx context.Context, c domain.Collection, rec domain.Record) (domain.Record, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = domain.Record{}
	}
	if _, ok := rec.ID(); !ok {
		rec[domain.FieldID] = e.newID()
	}
	if _, ok := rec[domain.FieldCreatedAt]; !ok {
		rec[domain.FieldCreatedAt] = domain.Timestamp(e.now())
	}
	return e.local.AddRecord(ctx, c, rec)
}

func (e *Engine) updateRecord(ctx context.Context, c domain.Collection, id string, patch domain.Record) (domain.Record, error) {
	if id == "" {
		return nil, domain.ErrMissingID
	}
	patch = patch.Clone()
	if patch == nil {
		patch = domain.Record{}
	}
	patch[domain.FieldUpdatedAt] = domain.Timestamp(e.now())
	return e.local.UpdateRecord(ctx, c, id, patch)
}

func (e *Engine) replaceObject(ctx context.Context, c domain.Collection, value any) (map[string]any, error) {
	m, ok := domain.ToMap(value)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", c, value)
	}
	if err := e.local.Set(ctx, c, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) singleton(ctx context.Context, c domain.Collection) (domain.Record, error) {
	m, err := e.local.Object(ctx, c)
	if err != nil {
		return nil, err
	}
	return domain.Record(m), nil
}

func (e *Engine) mergeSingleton(ctx context.Context, c domain.Collection, patch domain.Record) (domain.Record, error) {
	var merged domain.Record
	err := e.local.Update(ctx, c, func(current any) (any, error) {
		m, _ := domain.ToMap(current)
		merged = domain.Record(m)
		for k, v := range patch {
			merged[k] = domain.CloneValue(v)
		}
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}
