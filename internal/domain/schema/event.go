// Package schema defines the canonical event record, scopes, listener results and wire envelopes.
package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/eventframe/errs"
)

// Metadata keys with reserved meaning.
const (
	// MetaSource records where an event originated.
	MetaSource = "source"
	// MetaEventID carries the unique identifier stamped at creation time.
	MetaEventID = "event_id"
	// MetaValidated is set by the validation transform.
	MetaValidated = "validated"
	// MetaAPIVersion is set by the validation transform.
	MetaAPIVersion = "api_version"
)

// Provenance values stored under MetaSource.
const (
	// SourceRemote tags events that arrived from the peer process.
	SourceRemote = "remote"
	// SourceLocal tags events raised inside this process.
	SourceLocal = "local"
)

// Event is an immutable named record routed by the bus.
// Transforms return modified copies via Clone; listeners must treat events as read-only.
type Event struct {
	Name      string
	Payload   any
	CreatedAt time.Time
	Metadata  map[string]any
	Scope     Scope
}

// NewEvent builds an event stamped with the current time and a fresh event id.
func NewEvent(name string, payload any) *Event {
	return &Event{
		Name:      strings.TrimSpace(name),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		Metadata:  map[string]any{MetaEventID: uuid.NewString()},
		Scope:     ScopeBoth,
	}
}

// Validate ensures the event carries a routable name and a known scope.
func (e *Event) Validate() error {
	if e == nil {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithMessage("event required"))
	}
	if strings.TrimSpace(e.Name) == "" {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithMessage("event name required"))
	}
	if strings.Contains(e.Name, "*") {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithTopic(e.Name), errs.WithMessage("event name must not contain wildcards"))
	}
	if !e.Scope.Valid() {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithTopic(e.Name), errs.WithMessage("unknown scope "+string(e.Scope)))
	}
	return nil
}

// Clone returns a shallow copy with its own metadata map.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	out.Metadata = make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// WithMeta returns a copy of the event with the metadata key set.
func (e *Event) WithMeta(key string, value any) *Event {
	out := e.Clone()
	out.Metadata[key] = value
	return out
}

// WithScope returns a copy of the event with the given scope.
func (e *Event) WithScope(scope Scope) *Event {
	out := e.Clone()
	out.Scope = scope
	return out
}

// Meta returns the metadata value for key, if present.
func (e *Event) Meta(key string) (any, bool) {
	if e == nil || e.Metadata == nil {
		return nil, false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// Source returns the provenance tag or "" when unset.
func (e *Event) Source() string {
	v, ok := e.Meta(MetaSource)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ID returns the event id stamped at creation.
func (e *Event) ID() string {
	v, ok := e.Meta(MetaEventID)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// FromRemote reports whether the event carries the remote provenance tag.
func (e *Event) FromRemote() bool {
	return e.Source() == SourceRemote
}
