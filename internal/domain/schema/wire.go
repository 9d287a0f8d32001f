package schema

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/eventframe/errs"
)

// MessageType discriminates envelopes exchanged over the bridge.
type MessageType string

const (
	// MessageEvent carries a relayed Frame.
	MessageEvent MessageType = "event"
	// MessageEmitRequest carries an EmitRequest expecting a correlated response.
	MessageEmitRequest MessageType = "emit_event"
	// MessageEmitResult carries an EmitResponse.
	MessageEmitResult MessageType = "event_result"
	// MessageEmitError carries an ErrorPayload answering a rejected request.
	MessageEmitError MessageType = "event_error"
)

// Message is the outer envelope of every websocket frame.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Frame is the relay shape of an event on the wire.
type Frame struct {
	Name      string         `json:"name"`
	Data      any            `json:"data"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
	Scope     Scope          `json:"scope,omitempty"`
}

// EmitRequest is the request envelope for one-shot emissions.
type EmitRequest struct {
	Name  string `json:"name" validate:"required,excludes=*"`
	Data  any    `json:"data"`
	Scope string `json:"scope,omitempty" validate:"omitempty,oneof=local broadcast both"`
}

// EmitResponse answers an EmitRequest once the triggering emit settles.
type EmitResponse struct {
	Success           bool     `json:"success"`
	Event             Frame    `json:"event"`
	ListenersExecuted int      `json:"listenersExecuted"`
	Results           []string `json:"results"`
	Scope             Scope    `json:"scope,omitempty"`
}

// ErrorPayload answers a request that could not be dispatched.
type ErrorPayload struct {
	Error     string `json:"error"`
	EventName string `json:"eventName,omitempty"`
}

// FrameFromEvent converts an event into its wire shape.
func FrameFromEvent(evt *Event) Frame {
	if evt == nil {
		return Frame{}
	}
	meta := make(map[string]any, len(evt.Metadata))
	for k, v := range evt.Metadata {
		meta[k] = v
	}
	return Frame{
		Name:      evt.Name,
		Data:      evt.Payload,
		Timestamp: evt.CreatedAt.UTC().Format(time.RFC3339Nano),
		Metadata:  meta,
		Scope:     evt.Scope,
	}
}

// ToEvent converts a decoded frame back into an event.
func (f Frame) ToEvent() (*Event, error) {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return nil, errs.New("schema/frame", errs.CodeMalformed, errs.WithMessage("frame name required"))
	}
	created := time.Now().UTC()
	if ts := strings.TrimSpace(f.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, errs.New("schema/frame", errs.CodeMalformed, errs.WithTopic(name), errs.WithMessage("invalid timestamp"), errs.WithCause(err))
		}
		created = parsed.UTC()
	}
	scope := f.Scope
	if scope == "" {
		scope = ScopeBoth
	}
	if !scope.Valid() {
		return nil, errs.New("schema/frame", errs.CodeMalformed, errs.WithTopic(name), errs.WithMessage("unknown scope "+string(scope)))
	}
	meta := make(map[string]any, len(f.Metadata)+1)
	for k, v := range f.Metadata {
		meta[k] = v
	}
	return &Event{
		Name:      name,
		Payload:   f.Data,
		CreatedAt: created,
		Metadata:  meta,
		Scope:     scope,
	}, nil
}

// EncodeMessage marshals payload into an envelope of the given type.
func EncodeMessage(typ MessageType, id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errs.New("schema/wire", errs.CodeInvalid, errs.WithMessage("encode payload"), errs.WithCause(err))
	}
	data, err := json.Marshal(Message{Type: typ, ID: id, Payload: raw})
	if err != nil {
		return nil, errs.New("schema/wire", errs.CodeInvalid, errs.WithMessage("encode envelope"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeMessage parses an envelope; failures carry errs.CodeMalformed.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, errs.New("schema/wire", errs.CodeMalformed, errs.WithMessage("decode envelope"), errs.WithCause(err))
	}
	switch msg.Type {
	case MessageEvent, MessageEmitRequest, MessageEmitResult, MessageEmitError:
	default:
		return Message{}, errs.New("schema/wire", errs.CodeMalformed, errs.WithMessage("unknown message type "+typeLabel(msg.Type)))
	}
	return msg, nil
}

// DecodePayload unmarshals the envelope payload into out.
func (m Message) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return errs.New("schema/wire", errs.CodeMalformed, errs.WithMessage("empty payload"))
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return errs.New("schema/wire", errs.CodeMalformed, errs.WithMessage("decode "+string(m.Type)+" payload"), errs.WithCause(err))
	}
	return nil
}

func typeLabel(t MessageType) string {
	if t == "" {
		return "<empty>"
	}
	return string(t)
}
