package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesTopicAndFields(t *testing.T) {
	err := New(
		"bridge",
		CodeFiltered,
		WithTopic("admin.delete"),
		WithMessage("blocked by outbound policy"),
		WithField("pattern", "admin.*"),
		WithField("direction", "outbound"),
		WithCause(errors.New("policy")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=bridge") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=filtered") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "topic=admin.delete") {
		t.Fatalf("expected topic in error string: %s", out)
	}
	expectedFields := "fields=direction=\"outbound\",pattern=\"admin.*\""
	if !strings.Contains(out, expectedFields) {
		t.Fatalf("expected fields %q in error string: %s", expectedFields, out)
	}
	if !strings.Contains(out, "cause=\"policy\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestWithFieldIgnoresBlankKeys(t *testing.T) {
	err := New("eventbus", CodeInvalid, WithField("  ", "value"))
	if len(err.Fields) != 0 {
		t.Fatalf("expected blank key to be ignored, got %v", err.Fields)
	}
}

func TestCodeOfWalksWrappedChain(t *testing.T) {
	inner := New("eventbus/middleware", CodeMiddleware, WithMessage("transform failed"))
	wrapped := fmt.Errorf("emit: %w", inner)

	if got := CodeOf(wrapped); got != CodeMiddleware {
		t.Fatalf("expected middleware code, got %q", got)
	}
	if !Is(wrapped, CodeMiddleware) {
		t.Fatal("expected Is to match middleware code")
	}
	if Is(errors.New("plain"), CodeMiddleware) {
		t.Fatal("plain errors carry no code")
	}
	if Is(nil, CodeMiddleware) {
		t.Fatal("nil error carries no code")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("dial refused")
	err := New("bridge", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
