// Package errs provides structured error types and helpers for eventframe components.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the component is closed or temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeNetwork indicates a transport-level failure.
	CodeNetwork Code = "network"
	// CodeMiddleware indicates a transform aborted an emission.
	CodeMiddleware Code = "middleware"
	// CodeListener indicates a subscriber failed while handling an event.
	CodeListener Code = "listener"
	// CodeFiltered indicates an event was rejected by a topic policy.
	CodeFiltered Code = "filtered"
	// CodeMalformed indicates an undecodable wire frame.
	CodeMalformed Code = "malformed"
)

// E captures structured error information produced across the eventframe stack.
type E struct {
	Component string
	Code      Code
	Topic     string
	Message   string
	Fields    map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Topic:     "",
		Message:   "",
		Fields:    nil,
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithTopic records the event topic the failure relates to.
func WithTopic(topic string) Option {
	trimmed := strings.TrimSpace(topic)
	return func(e *E) {
		e.Topic = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single diagnostic key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Topic != "" {
		parts = append(parts, "topic="+e.Topic)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf returns the code of the first *E found in the error chain, or "" when none is present.
func CodeOf(err error) Code {
	var target *E
	if errors.As(err, &target) && target != nil {
		return target.Code
	}
	return ""
}

// Is reports whether the error chain carries an *E with the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
