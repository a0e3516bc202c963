package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionMode selects the backing store of a session's engine handle.
type SessionMode string

// Session modes.
const (
	SessionModeMemory     SessionMode = "memory"
	SessionModePersistent SessionMode = "persistent"
)

// SessionKind is the immutable storage kind of a session. Path is only set
// for persistent sessions and may carry a scheme (s3://, gs://, az://, temp:).
type SessionKind struct {
	Mode SessionMode
	Path string
}

// MemoryKind returns the kind of an in-memory session.
func MemoryKind() SessionKind { return SessionKind{Mode: SessionModeMemory} }

// PersistentKind returns the kind of a path-backed session.
func PersistentKind(path string) SessionKind {
	return SessionKind{Mode: SessionModePersistent, Path: path}
}

// String renders the kind for logs and summaries.
func (k SessionKind) String() string {
	if k.Mode == SessionModePersistent {
		return "persistent:" + k.Path
	}
	return string(SessionModeMemory)
}

// Validate checks that the kind is well formed.
func (k SessionKind) Validate() error {
	switch k.Mode {
	case SessionModeMemory:
		if k.Path != "" {
			return ErrValidation("memory sessions do not take a path")
		}
		return nil
	case SessionModePersistent:
		if strings.TrimSpace(k.Path) == "" {
			return ErrValidation("persistent sessions require a path")
		}
		return nil
	default:
		return ErrValidation("unknown session type %q", k.Mode)
	}
}

// ParseSessionKind builds a SessionKind from its wire form ("memory" or
// "persistent" plus a path). An empty type selects memory, or persistent
// when a path is given.
func ParseSessionKind(typ, path string) (SessionKind, error) {
	var k SessionKind
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "":
		k = MemoryKind()
		if path != "" {
			k = PersistentKind(path)
		}
	case string(SessionModeMemory):
		k = SessionKind{Mode: SessionModeMemory, Path: path}
	case string(SessionModePersistent):
		k = PersistentKind(path)
	default:
		return SessionKind{}, fmt.Errorf("parse session kind: %w", ErrValidation("unknown session type %q", typ))
	}
	if err := k.Validate(); err != nil {
		return SessionKind{}, err
	}
	return k, nil
}

// SessionStatus is the lifecycle state of a session. Terminated is terminal.
type SessionStatus string

// Session statuses.
const (
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusTerminated SessionStatus = "TERMINATED"
)

// SessionSummary is a point-in-time view of a session.
type SessionSummary struct {
	ID             string
	Kind           SessionKind
	CreatedAt      time.Time
	LastAccessedAt time.Time
	TTL            time.Duration
	Status         SessionStatus
	Busy           bool
}

// ExpiresAt returns the instant the session becomes eligible for expiry.
func (s SessionSummary) ExpiresAt() time.Time { return s.LastAccessedAt.Add(s.TTL) }

// EvictionPolicy names the victim selection rule used at capacity.
type EvictionPolicy string

// Eviction policies.
const (
	EvictionLRU         EvictionPolicy = "lru"
	EvictionLRUIdleOnly EvictionPolicy = "lru-idle-only"
)

// RegistryStats summarizes registry occupancy.
type RegistryStats struct {
	ActiveSessions int
	MaxSessions    int
	UsagePercent   float64
	DefaultTTL     time.Duration
	EvictionPolicy EvictionPolicy
	Evictions      int64
	Expirations    int64
}
