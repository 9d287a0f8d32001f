package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/eventframe/errs"
)

func TestFrameRoundTripPreservesIdentity(t *testing.T) {
	evt := NewEvent("todo.created", map[string]any{"title": "write tests"})
	evt.Metadata[MetaSource] = SourceLocal

	data, err := EncodeMessage(MessageEvent, "", FrameFromEvent(evt))
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, MessageEvent, msg.Type)

	var frame Frame
	require.NoError(t, msg.DecodePayload(&frame))
	decoded, err := frame.ToEvent()
	require.NoError(t, err)

	assert.Equal(t, evt.Name, decoded.Name)
	assert.Equal(t, evt.ID(), decoded.ID())
	assert.Equal(t, SourceLocal, decoded.Source())
	assert.Equal(t, ScopeBoth, decoded.Scope)
	assert.WithinDuration(t, evt.CreatedAt, decoded.CreatedAt, time.Microsecond)
	assert.Equal(t, "write tests", decoded.Payload.(map[string]any)["title"])
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeMalformed))

	_, err = DecodeMessage([]byte(`{"type":"mystery","payload":{}}`))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeMalformed))
}

func TestFrameToEventValidation(t *testing.T) {
	_, err := Frame{Name: "  "}.ToEvent()
	assert.True(t, errs.Is(err, errs.CodeMalformed))

	_, err = Frame{Name: "a.b", Timestamp: "yesterday"}.ToEvent()
	assert.True(t, errs.Is(err, errs.CodeMalformed))

	_, err = Frame{Name: "a.b", Scope: "everywhere"}.ToEvent()
	assert.True(t, errs.Is(err, errs.CodeMalformed))

	evt, err := Frame{Name: "a.b"}.ToEvent()
	require.NoError(t, err)
	assert.False(t, evt.CreatedAt.IsZero())
	assert.NotNil(t, evt.Metadata)
}

func TestEmptyPayloadIsMalformed(t *testing.T) {
	msg := Message{Type: MessageEmitRequest}
	var req EmitRequest
	err := msg.DecodePayload(&req)
	assert.True(t, errs.Is(err, errs.CodeMalformed))
}
