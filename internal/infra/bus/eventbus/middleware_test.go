package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
)

func TestPipelineAppliesInOrder(t *testing.T) {
	p := NewPipeline()
	p.Use("first", func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		return evt.WithMeta("trail", "a"), nil
	})
	p.Use("second", func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		prev, _ := evt.Meta("trail")
		return evt.WithMeta("trail", prev.(string)+"b"), nil
	})
	out, err := p.Apply(context.Background(), schema.NewEvent("x", nil))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v, _ := out.Meta("trail"); v != "ab" {
		t.Fatalf("trail = %v, want ab", v)
	}
	if names := p.Names(); len(names) != 2 || names[0] != "first" {
		t.Fatalf("names = %v", names)
	}
}

func TestPipelineErrorCarriesMiddlewareCode(t *testing.T) {
	p := NewPipeline()
	p.Use("reject", func(context.Context, *schema.Event) (*schema.Event, error) {
		return nil, errors.New("nope")
	})
	_, err := p.Apply(context.Background(), schema.NewEvent("x", nil))
	if !errs.Is(err, errs.CodeMiddleware) {
		t.Fatalf("expected middleware code, got %v", err)
	}
}

func TestPipelineRecoversPanics(t *testing.T) {
	p := NewPipeline()
	p.Use("", func(context.Context, *schema.Event) (*schema.Event, error) {
		panic("boom")
	})
	_, err := p.Apply(context.Background(), schema.NewEvent("x", nil))
	if !errs.Is(err, errs.CodeMiddleware) {
		t.Fatalf("expected middleware code, got %v", err)
	}
	if p.Names()[0] != "transform-1" {
		t.Fatalf("expected generated transform name, got %v", p.Names())
	}
}

func TestPipelineNilResultIsError(t *testing.T) {
	p := NewPipeline()
	p.Use("drop", func(context.Context, *schema.Event) (*schema.Event, error) { return nil, nil })
	if _, err := p.Apply(context.Background(), schema.NewEvent("x", nil)); err == nil {
		t.Fatalf("expected error for nil event")
	}
}
