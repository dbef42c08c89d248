package syncer

import "time"

// Resolution is the outcome of resolving one conflict. When Resolved is
// false the conflict needs an operator; Merged then carries the server copy
// for display, never for automatic commit.
type Resolution struct {
	Resolved bool
	Merged   map[string]any
}

// Resolve reconciles a stale local payload with the authoritative server
// payload according to the entity type's strategy. Pure domain logic, no I/O.
func Resolve(entityType string, local, remote map[string]any, policy Policy) Resolution {
	switch policy.StrategyFor(entityType) {
	case StrategyClientWins:
		return Resolution{Resolved: true, Merged: overlay(remote, local)}
	case StrategyServerWins:
		return Resolution{Resolved: true, Merged: overlay(local, remote)}
	case StrategyMerge:
		return Resolution{Resolved: true, Merged: merge(entityType, local, remote, policy)}
	default:
		return Resolution{Resolved: false, Merged: copyMap(remote)}
	}
}

// overlay returns base with every field from top written over it. Fields only
// the base side knows survive.
func overlay(base, top map[string]any) map[string]any {
	out := copyMap(base)
	for k, v := range top {
		out[k] = v
	}
	return out
}

// merge reconciles field by field. Ignored bookkeeping fields are taken from
// the server copy without diffing. For a contested field the ownership list
// wins first, then the side with the newer updatedAt, then the local side.
func merge(entityType string, local, remote map[string]any, policy Policy) map[string]any {
	ignored := make(map[string]bool, len(policy.IgnoredFields))
	for _, f := range policy.IgnoredFields {
		ignored[f] = true
	}
	owners := policy.FieldOwners[entityType]
	localNewer := newerSide(local, remote)

	out := make(map[string]any, len(remote)+len(local))
	for k, v := range remote {
		out[k] = v
	}
	for k, localVal := range local {
		if ignored[k] {
			continue
		}
		remoteVal, inRemote := out[k]
		if !inRemote || equal(localVal, remoteVal) {
			out[k] = localVal
			continue
		}
		switch owners[k] {
		case "server":
			// keep remoteVal
		case "client":
			out[k] = localVal
		default:
			if localNewer {
				out[k] = localVal
			}
		}
	}
	return out
}

// newerSide reports whether the local side wins the timestamp tie-break.
// When only one side carries a usable updatedAt that side wins; equal
// timestamps and the no-timestamp case both go to the local side, since it
// is the deliberate offline edit the agent acted on.
func newerSide(local, remote map[string]any) bool {
	localAt, okLocal := timestampOf(local)
	remoteAt, okRemote := timestampOf(remote)
	switch {
	case okLocal && okRemote:
		return !localAt.Before(remoteAt)
	case okLocal:
		return true
	case okRemote:
		return false
	default:
		return true
	}
}

func timestampOf(payload map[string]any) (time.Time, bool) {
	raw, ok := payload["updatedAt"]
	if !ok {
		return time.Time{}, false
	}
	switch v := raw.(type) {
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v, true
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	}
	return time.Time{}, false
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equal(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
