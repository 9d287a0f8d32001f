package schema

import (
	"fmt"
	"strings"
)

// Scope declares where an event should be processed.
type Scope string

const (
	// ScopeLocal keeps the event inside this process.
	ScopeLocal Scope = "local"
	// ScopeBroadcast relays the event to the peer without local re-dispatch.
	ScopeBroadcast Scope = "broadcast"
	// ScopeBoth dispatches locally and relays to the peer.
	ScopeBoth Scope = "both"
)

// Valid reports whether the scope is one of the known values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeLocal, ScopeBroadcast, ScopeBoth:
		return true
	default:
		return false
	}
}

// Relays reports whether events with this scope may cross the bridge.
func (s Scope) Relays() bool {
	return s == ScopeBroadcast || s == ScopeBoth
}

// Dispatches reports whether events with this scope run local listeners.
func (s Scope) Dispatches() bool {
	return s == ScopeLocal || s == ScopeBoth
}

// ParseScope parses a scope name, returning fallback for an empty string.
func ParseScope(raw string, fallback Scope) (Scope, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return fallback, nil
	}
	scope := Scope(trimmed)
	if !scope.Valid() {
		return "", fmt.Errorf("unknown scope %q", raw)
	}
	return scope, nil
}
