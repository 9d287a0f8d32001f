package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
)

// Transform rewrites an event before dispatch. Returning an error aborts the emit.
type Transform func(ctx context.Context, evt *schema.Event) (*schema.Event, error)

type stage struct {
	name string
	fn   Transform
}

// Pipeline folds registered transforms left to right.
type Pipeline struct {
	mu     sync.RWMutex
	stages []stage
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends a transform.
func (p *Pipeline) Use(name string, fn Transform) {
	if fn == nil {
		return
	}
	if name == "" {
		name = fmt.Sprintf("transform-%d", p.Len()+1)
	}
	p.mu.Lock()
	p.stages = append(p.stages, stage{name: name, fn: fn})
	p.mu.Unlock()
}

// Names lists the transforms in application order.
func (p *Pipeline) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.name)
	}
	return out
}

// Len returns the number of transforms.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// Apply runs every transform in order. Errors and panics surface as errs.CodeMiddleware.
func (p *Pipeline) Apply(ctx context.Context, evt *schema.Event) (*schema.Event, error) {
	p.mu.RLock()
	stages := p.stages
	p.mu.RUnlock()

	current := evt
	for _, s := range stages {
		var (
			next *schema.Event
			err  error
			pc   panics.Catcher
		)
		in := current
		pc.Try(func() { next, err = s.fn(ctx, in) })
		if r := pc.Recovered(); r != nil {
			err = r.AsError()
		}
		if err == nil && next == nil {
			err = fmt.Errorf("transform returned no event")
		}
		if err != nil {
			return nil, errs.New("eventbus/middleware", errs.CodeMiddleware, errs.WithTopic(in.Name),
				errs.WithField("transform", s.name), errs.WithCause(err))
		}
		current = next
	}
	return current, nil
}
