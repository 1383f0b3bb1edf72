package history

import "fmt"

// QuotaPolicy decides what to evict when a write exceeds the primary
// store's capacity. The repository retries the write exactly once with
// the shrunk list.
type QuotaPolicy interface {
	Name() string
	Shrink(sessions []Session) []Session
}

// HalveSessions keeps the newer half of the sessions, rounding down. This
// discards whole sessions at once.
type HalveSessions struct{}

func (HalveSessions) Name() string { return "halve-sessions" }

func (HalveSessions) Shrink(sessions []Session) []Session {
	return sessions[:len(sessions)/2]
}

// DropOldestSession evicts only the oldest session.
type DropOldestSession struct{}

func (DropOldestSession) Name() string { return "drop-oldest-session" }

func (DropOldestSession) Shrink(sessions []Session) []Session {
	if len(sessions) == 0 {
		return sessions
	}
	return sessions[:len(sessions)-1]
}

// PolicyByName resolves a configured quota_policy value.
func PolicyByName(name string) (QuotaPolicy, error) {
	switch name {
	case "", HalveSessions{}.Name():
		return HalveSessions{}, nil
	case DropOldestSession{}.Name():
		return DropOldestSession{}, nil
	}
	return nil, fmt.Errorf("unknown quota policy %q", name)
}
