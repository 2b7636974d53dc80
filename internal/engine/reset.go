package engine

import (
	"context"
	"fmt"

	"github.com/dvloznov/offline-ledger/internal/domain"
	"github.com/dvloznov/offline-ledger/internal/events"
)

// DefaultAccountID is the id of the account seeded by ClearData.
const DefaultAccountID = "default"

// preserved survive ClearData.
var preserved = map[domain.Collection]bool{
	domain.Settings:     true,
	domain.FeatureFlags: true,
	domain.PIN:          true,
}

// ClearData removes every collection except settings, feature flags and the
// PIN, then seeds one default account. The remote store is not touched and a
// pending snapshot push is dropped so the cleared state is not uploaded.
func (e *Engine) ClearData(ctx context.Context) error {
	e.cancelSnapshot()

	for _, spec := range domain.All() {
		if preserved[spec.Name] {
			continue
		}
		if err := e.local.Remove(ctx, spec.Name); err != nil {
			return fmt.Errorf("ClearData: %w", err)
		}
	}

	seed := domain.Record{
		domain.FieldID:        DefaultAccountID,
		"name":                "Cash",
		"type":                "cash",
		"balance":             0,
		"isDefault":           true,
		domain.FieldCreatedAt: domain.Timestamp(e.now()),
	}
	if err := e.local.Set(ctx, domain.Accounts, []domain.Record{seed}); err != nil {
		return fmt.Errorf("ClearData: seeding default account: %w", err)
	}

	e.bus.Publish(events.Event{Kind: events.KindReset})
	e.log.Info().Msg("local data cleared")
	return nil
}

// FactoryReset deletes every key in the local namespace, collection or not,
// and empties session storage. The remote store is not touched.
func (e *Engine) FactoryReset(ctx context.Context) error {
	e.cancelSnapshot()

	n, err := e.local.PurgeNamespace(ctx)
	if err != nil {
		return fmt.Errorf("FactoryReset: %w", err)
	}
	e.session.Clear()

	e.bus.Publish(events.Event{Kind: events.KindReset})
	e.log.Info().Int("keys", n).Msg("factory reset")
	return nil
}
