package schema

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Result is the value a listener hands back to the dispatching context.
// The concrete variants are NoAction, Reply and Broadcast.
type Result interface {
	isResult()
	fmt.Stringer
}

// NoAction signals the listener has nothing for the dispatcher.
type NoAction struct{}

// Reply carries an informational value surfaced in request/response envelopes.
type Reply struct {
	Value any
}

// Broadcast asks the component owning the broadcast window to emit Event honoring Scope.
type Broadcast struct {
	Event *Event
	Scope Scope
}

func (NoAction) isResult()  {}
func (Reply) isResult()     {}
func (Broadcast) isResult() {}

func (NoAction) String() string { return "" }

// String renders strings as-is and other values as JSON.
func (r Reply) String() string {
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	if raw, err := json.Marshal(r.Value); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", r.Value)
}

func (b Broadcast) String() string {
	if b.Event == nil {
		return "broadcast(<nil>)"
	}
	return fmt.Sprintf("broadcast(%s, scope=%s)", b.Event.Name, b.Scope)
}

// Done is the zero Result returned by listeners that only observe.
var Done Result = NoAction{}

// NewReply wraps value as a Reply result.
func NewReply(value any) Result { return Reply{Value: value} }

// NewBroadcast requests the dispatcher to emit evt with the given scope.
func NewBroadcast(evt *Event, scope Scope) Result {
	return Broadcast{Event: evt, Scope: scope}
}
