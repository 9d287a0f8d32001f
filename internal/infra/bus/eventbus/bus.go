// Package eventbus implements the in-process publish/subscribe bus: topic matching,
// the priority-bucketed listener registry, the transform pipeline and the bounded event log.
package eventbus

import (
	"context"

	"github.com/coachpo/eventframe/internal/domain/schema"
)

// DefaultMaxHistory bounds the event log when no explicit size is configured.
const DefaultMaxHistory = 100

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Listener handles one event. The returned Result is surfaced to the dispatching context;
// a returned error or panic is isolated to this listener.
type Listener func(ctx context.Context, evt *schema.Event) (schema.Result, error)

// Bus routes events to interested listeners.
type Bus interface {
	Emit(ctx context.Context, evt *schema.Event) (Report, error)
	Publish(ctx context.Context, name string, payload any) (Report, error)
	On(topic string, listener Listener, opts ...SubscribeOption) (Handle, error)
	Once(topic string, listener Listener, opts ...SubscribeOption) (Handle, error)
	Off(topic string, id SubscriptionID)
	Use(name string, transform Transform)
	History(limit int) []*schema.Event
	ListenerCounts() map[string]int
	ClearHistory()
	Close()
}

// Config configures the in-memory bus.
type Config struct {
	// MaxHistory bounds the event log.
	MaxHistory int
	// FanoutWorkers caps concurrent listener invocations per emit. 1 runs listeners
	// sequentially in resolved order, which is also the fallback for values below 1.
	FanoutWorkers int
	// DefaultScope is stamped on events emitted without one.
	DefaultScope schema.Scope
}

// DefaultConfig returns the configuration used by Default.
func DefaultConfig() Config {
	return Config{MaxHistory: DefaultMaxHistory, FanoutWorkers: 1, DefaultScope: schema.ScopeBoth}
}

func (c Config) normalize() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 1
	}
	if !c.DefaultScope.Valid() {
		c.DefaultScope = schema.ScopeBoth
	}
	return c
}

// Outcome records what one listener invocation produced.
type Outcome struct {
	SubscriptionID SubscriptionID
	Topic          string
	Result         schema.Result
	Err            error
}

// Report summarises a settled emit. Outcomes follow resolved invocation order.
type Report struct {
	Event    *schema.Event
	Outcomes []Outcome
}

// ListenersExecuted returns the number of listeners invoked.
func (r Report) ListenersExecuted() int {
	return len(r.Outcomes)
}

// Failed returns the number of listener invocations that returned an error or panicked.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Broadcasts returns the Broadcast results in invocation order.
func (r Report) Broadcasts() []schema.Broadcast {
	var out []schema.Broadcast
	for _, o := range r.Outcomes {
		if b, ok := o.Result.(schema.Broadcast); ok && b.Event != nil {
			out = append(out, b)
		}
	}
	return out
}

// Results renders non-empty listener results as strings.
func (r Report) Results() []string {
	out := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Result == nil {
			continue
		}
		if s := o.Result.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
