package syncer

import (
	"encoding/json"
	"fmt"
)

// Strategy names a conflict resolution approach for an entity type.
type Strategy string

const (
	StrategyClientWins Strategy = "client-wins"
	StrategyServerWins Strategy = "server-wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyClientWins, StrategyServerWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

// Policy maps entity types to strategies and, for merge, per-field ownership.
// An entity type absent from the map resolves manually: the queue never
// guesses on types nobody configured.
type Policy struct {
	Strategies map[string]Strategy
	// FieldOwners lists fields whose value is always taken from one side in
	// a merge, keyed by entity type. Owner is "client" or "server".
	FieldOwners map[string]map[string]string
	// IgnoredFields are excluded from merge diffing (bookkeeping timestamps
	// the two sides maintain independently).
	IgnoredFields []string
}

// DefaultPolicy reflects how each entity class tolerates loss: field
// transactions are ground truth (client wins), stock counts are recomputed
// server-side (server wins), merchant and credit records merge field-wise,
// order state is server-driven.
func DefaultPolicy() Policy {
	return Policy{
		Strategies: map[string]Strategy{
			"transaction": StrategyClientWins,
			"stock":       StrategyServerWins,
			"merchant":    StrategyMerge,
			"credit":      StrategyMerge,
			"order":       StrategyServerWins,
		},
		FieldOwners: map[string]map[string]string{
			"credit": {"limit": "server"},
		},
		IgnoredFields: []string{"updatedAt", "syncedAt"},
	}
}

// StrategyFor returns the strategy for an entity type, defaulting to manual.
func (p Policy) StrategyFor(entityType string) Strategy {
	if s, ok := p.Strategies[entityType]; ok {
		return s
	}
	return StrategyManual
}

type policyJSON struct {
	Strategies    map[string]string            `json:"strategies"`
	FieldOwners   map[string]map[string]string `json:"fieldOwners"`
	IgnoredFields []string                     `json:"ignoredFields"`
}

// ParsePolicy overlays a JSON policy document onto the defaults. Deploy-time
// configuration only; the policy is not a runtime entity.
func ParsePolicy(raw []byte) (Policy, error) {
	policy := DefaultPolicy()
	if len(raw) == 0 {
		return policy, nil
	}

	var doc policyJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Policy{}, fmt.Errorf("parse conflict policy: %w", err)
	}
	for entityType, name := range doc.Strategies {
		s := Strategy(name)
		if !s.valid() {
			return Policy{}, fmt.Errorf("conflict policy: unknown strategy %q for %q", name, entityType)
		}
		policy.Strategies[entityType] = s
	}
	for entityType, owners := range doc.FieldOwners {
		if policy.FieldOwners == nil {
			policy.FieldOwners = map[string]map[string]string{}
		}
		policy.FieldOwners[entityType] = owners
	}
	if doc.IgnoredFields != nil {
		policy.IgnoredFields = doc.IgnoredFields
	}
	return policy, nil
}
