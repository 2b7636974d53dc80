package domain

import (
	"fmt"
)

// Collection names one logical collection of the local dataset.
type Collection string

const (
	Transactions   Collection = "transactions"
	Accounts       Collection = "accounts"
	Payees         Collection = "payees"
	Recurring      Collection = "recurring"
	Investments    Collection = "investments"
	Goals          Collection = "goals"
	Alerts         Collection = "alerts"
	Friends        Collection = "friends"
	SharedExpenses Collection = "sharedExpenses"
	Reminders      Collection = "reminders"
	Loans          Collection = "loans"
	Assets         Collection = "assets"
	Charity        Collection = "charity"
	Crypto         Collection = "crypto"
	SIPs           Collection = "sips"
	Budgets        Collection = "budgets"
	Settings       Collection = "settings"
	FeatureFlags   Collection = "featureFlags"
	PIN            Collection = "pin"
)

// Kind describes the shape of a collection value.
type Kind int

const (
	// KindSequence is an ordered list of records with unique ids.
	KindSequence Kind = iota
	// KindMap is a free-form object such as budgets (category -> limit).
	KindMap
	// KindSingleton is a single record such as settings.
	KindSingleton
	// KindValue is an opaque scalar such as the PIN hash.
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	case KindSingleton:
		return "singleton"
	case KindValue:
		return "value"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Spec holds the static properties of a collection.
type Spec struct {
	Name Collection
	Kind Kind

	// PerDocument collections are replicated one remote document per record
	// and watched in real time. The rest only travel inside the snapshot.
	PerDocument bool

	// Cached collections are mirrored in the in-process collection cache.
	Cached bool

	// LocalOnly collections never leave the device and survive "clear data".
	LocalOnly bool
}

var registry = []Spec{
	{Name: Transactions, Kind: KindSequence, PerDocument: true, Cached: true},
	{Name: Accounts, Kind: KindSequence, PerDocument: true, Cached: true},
	{Name: Payees, Kind: KindSequence, PerDocument: true, Cached: true},
	{Name: Recurring, Kind: KindSequence, PerDocument: true, Cached: true},
	{Name: Investments, Kind: KindSequence, PerDocument: true},
	{Name: Goals, Kind: KindSequence, PerDocument: true, Cached: true},
	{Name: Alerts, Kind: KindSequence, PerDocument: true},
	{Name: Friends, Kind: KindSequence, PerDocument: true},
	{Name: SharedExpenses, Kind: KindSequence, PerDocument: true},
	{Name: Reminders, Kind: KindSequence, PerDocument: true},
	{Name: Loans, Kind: KindSequence, PerDocument: true},
	{Name: Assets, Kind: KindSequence, PerDocument: true},
	{Name: Charity, Kind: KindSequence, PerDocument: true},
	{Name: Crypto, Kind: KindSequence},
	{Name: SIPs, Kind: KindSequence},
	{Name: Budgets, Kind: KindMap, Cached: true},
	{Name: Settings, Kind: KindSingleton, Cached: true},
	{Name: FeatureFlags, Kind: KindSingleton, LocalOnly: true},
	{Name: PIN, Kind: KindValue, LocalOnly: true},
}

var byName = func() map[Collection]Spec {
	m := make(map[Collection]Spec, len(registry))
	for _, s := range registry {
		m[s.Name] = s
	}
	return m
}()

// Lookup returns the spec of a known collection.
func Lookup(c Collection) (Spec, bool) {
	s, ok := byName[c]
	return s, ok
}

// ParseCollection validates a collection name received from outside the
// process (HTTP path, CLI argument, import payload).
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if _, ok := byName[c]; !ok {
		return "", fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

// All returns every known collection spec in registry order.
func All() []Spec {
	return append([]Spec(nil), registry...)
}

// Tracked returns the collections replicated per document and watched in
// real time.
func Tracked() []Collection {
	var out []Collection
	for _, s := range registry {
		if s.PerDocument {
			out = append(out, s.Name)
		}
	}
	return out
}

// Synced returns every collection that is part of the remote snapshot.
func Synced() []Collection {
	var out []Collection
	for _, s := range registry {
		if !s.LocalOnly {
			out = append(out, s.Name)
		}
	}
	return out
}

// Empty returns the zero value stored for a collection that was never written.
func Empty(kind Kind) any {
	switch kind {
	case KindSequence:
		return []Record{}
	case KindMap:
		return map[string]any{}
	case KindSingleton:
		return Record{}
	default:
		return nil
	}
}
