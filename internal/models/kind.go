// Package models describes the finance entities that are stored locally,
// exchanged over the sync protocol and merged on the server.
package models

import "fmt"

// Kind names an entity collection. It doubles as the local table name and
// as the key of a sync batch.
type Kind string

const (
	KindSettings     Kind = "settings"
	KindCategories   Kind = "categories"
	KindGoals        Kind = "goals"
	KindBudgets      Kind = "budgets"
	KindTransactions Kind = "transactions"
)

// Kinds returns every kind in dependency order: referenced collections
// come before the ones that reference them.
func Kinds() []Kind {
	return []Kind{KindSettings, KindCategories, KindGoals, KindBudgets, KindTransactions}
}

func (k Kind) Valid() bool {
	switch k {
	case KindSettings, KindCategories, KindGoals, KindBudgets, KindTransactions:
		return true
	}
	return false
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// New returns an empty entity of the kind.
func (k Kind) New() (Entity, error) {
	switch k {
	case KindSettings:
		return &Settings{}, nil
	case KindCategories:
		return &Category{}, nil
	case KindGoals:
		return &Goal{}, nil
	case KindBudgets:
		return &Budget{}, nil
	case KindTransactions:
		return &Transaction{}, nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", string(k))
}
