package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/logging"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// MemoryBus is the in-process Bus implementation.
type MemoryBus struct {
	cfg      Config
	registry *Registry
	pipeline *Pipeline
	history  *EventLog
	logger   zerolog.Logger
	closed   atomic.Bool

	eventsEmittedCounter metric.Int64Counter
	listenerErrorCounter metric.Int64Counter
	middlewareErrCounter metric.Int64Counter
	subscriberGauge      metric.Int64UpDownCounter
	fanoutHistogram      metric.Int64Histogram
	emitDuration         metric.Float64Histogram
}

// Option customises a MemoryBus.
type Option func(*MemoryBus)

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *MemoryBus) { b.logger = logger }
}

// WithRegistry shares an explicitly constructed registry.
func WithRegistry(r *Registry) Option {
	return func(b *MemoryBus) {
		if r != nil {
			b.registry = r
		}
	}
}

// WithPipeline shares an explicitly constructed pipeline.
func WithPipeline(p *Pipeline) Option {
	return func(b *MemoryBus) {
		if p != nil {
			b.pipeline = p
		}
	}
}

// NewMemoryBus constructs an in-memory bus.
func NewMemoryBus(cfg Config, opts ...Option) *MemoryBus {
	cfg = cfg.normalize()
	bus := &MemoryBus{
		cfg:      cfg,
		registry: NewRegistry(),
		pipeline: NewPipeline(),
		history:  NewEventLog(cfg.MaxHistory),
		logger:   logging.Component("eventbus"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}

	meter := otel.Meter("eventbus")
	bus.eventsEmittedCounter, _ = meter.Int64Counter("eventbus.events.emitted",
		metric.WithDescription("Number of events emitted on the bus"),
		metric.WithUnit("{event}"))
	bus.listenerErrorCounter, _ = meter.Int64Counter("eventbus.listener.errors",
		metric.WithDescription("Number of listener invocations that failed or panicked"),
		metric.WithUnit("{error}"))
	bus.middlewareErrCounter, _ = meter.Int64Counter("eventbus.middleware.errors",
		metric.WithDescription("Number of emits aborted by a transform"),
		metric.WithUnit("{error}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscriptions"),
		metric.WithUnit("{subscriber}"))
	bus.fanoutHistogram, _ = meter.Int64Histogram("eventbus.fanout.size",
		metric.WithDescription("Number of listeners resolved per emit"),
		metric.WithUnit("{listener}"))
	bus.emitDuration, _ = meter.Float64Histogram("eventbus.emit.duration",
		metric.WithDescription("Latency of emit until every listener settled"),
		metric.WithUnit("ms"))

	return bus
}

var (
	defaultOnce sync.Once
	defaultBus  *MemoryBus
)

// Default returns a lazily built process-wide bus using DefaultConfig.
func Default() *MemoryBus {
	defaultOnce.Do(func() {
		defaultBus = NewMemoryBus(DefaultConfig())
	})
	return defaultBus
}

// Registry exposes the subscription registry.
func (b *MemoryBus) Registry() *Registry {
	return b.registry
}

// Config returns the normalized configuration.
func (b *MemoryBus) Config() Config {
	return b.cfg
}

// Publish builds an event from name and payload and emits it.
func (b *MemoryBus) Publish(ctx context.Context, name string, payload any) (Report, error) {
	evt := schema.NewEvent(name, payload)
	evt.Scope = b.cfg.DefaultScope
	return b.Emit(ctx, evt)
}

// Emit runs evt through the pipeline, records it, and invokes every resolved listener.
// It returns once all invocations settled. Listener failures are isolated into the
// report; only validation and transform failures are returned as errors.
func (b *MemoryBus) Emit(ctx context.Context, evt *schema.Event) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return Report{}, errs.New("eventbus/emit", errs.CodeInvalid, errs.WithMessage("event required"))
	}
	if b.closed.Load() {
		return Report{}, errs.New("eventbus/emit", errs.CodeUnavailable, errs.WithTopic(evt.Name), errs.WithMessage("bus closed"))
	}

	evt = b.prepare(evt)
	if err := evt.Validate(); err != nil {
		return Report{}, err
	}

	start := time.Now()
	result := "success"
	defer func() {
		if b.emitDuration != nil {
			attrs := telemetry.OperationResultAttributes(telemetry.Environment(), "eventbus.emit", result)
			b.emitDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(attrs...))
		}
	}()

	processed, err := b.pipeline.Apply(ctx, evt)
	if err != nil {
		result = "middleware_error"
		if b.middlewareErrCounter != nil {
			b.middlewareErrCounter.Add(ctx, 1, metric.WithAttributes(
				telemetry.ErrorAttributes(telemetry.Environment(), evt.Name, string(errs.CodeMiddleware))...))
		}
		b.logger.Error().Err(err).Str("topic", evt.Name).Msg("transform aborted emit")
		return Report{}, err
	}
	if verr := processed.Validate(); verr != nil {
		result = "middleware_error"
		return Report{}, errs.New("eventbus/middleware", errs.CodeMiddleware, errs.WithTopic(evt.Name),
			errs.WithMessage("transform produced invalid event"), errs.WithCause(verr))
	}

	b.history.Append(processed)
	subs := b.registry.Resolve(processed.Name)

	if b.fanoutHistogram != nil {
		b.fanoutHistogram.Record(ctx, int64(len(subs)), metric.WithAttributes(
			telemetry.EventAttributes(telemetry.Environment(), processed.Name)...))
	}
	if b.eventsEmittedCounter != nil {
		attrs := append(telemetry.EventAttributes(telemetry.Environment(), processed.Name),
			telemetry.AttrScope.String(string(processed.Scope)))
		b.eventsEmittedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	report := Report{Event: processed}
	if len(subs) == 0 {
		result = "no_listeners"
		return report, nil
	}
	report.Outcomes = b.dispatch(ctx, processed, subs)
	if report.Failed() > 0 {
		result = "listener_error"
	}
	return report, nil
}

// prepare copies evt and fills defaults so the caller's value is never mutated.
func (b *MemoryBus) prepare(evt *schema.Event) *schema.Event {
	out := evt.Clone()
	if out.Scope == "" {
		out.Scope = b.cfg.DefaultScope
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.ID() == "" {
		out.Metadata[schema.MetaEventID] = uuid.NewString()
	}
	return out
}

// dispatch invokes subs in resolved order. With one worker invocations run sequentially;
// otherwise they are submitted in order to a bounded pool and awaited together.
func (b *MemoryBus) dispatch(ctx context.Context, evt *schema.Event, subs []*Subscription) []Outcome {
	outcomes := make([]Outcome, len(subs))
	invoked := make([]bool, len(subs))

	run := func(i int) {
		sub := subs[i]
		if !sub.claim() {
			return
		}
		invoked[i] = true
		outcomes[i] = b.invoke(ctx, evt, sub)
		if sub.Once {
			b.Off(sub.Topic, sub.ID)
		}
	}

	if b.cfg.FanoutWorkers <= 1 || len(subs) == 1 {
		for i := range subs {
			run(i)
		}
	} else {
		p := concpool.New().WithMaxGoroutines(b.cfg.FanoutWorkers)
		for i := range subs {
			idx := i
			p.Go(func() { run(idx) })
		}
		p.Wait()
	}

	out := outcomes[:0]
	for i := range outcomes {
		if invoked[i] {
			out = append(out, outcomes[i])
		}
	}
	return out
}

func (b *MemoryBus) invoke(ctx context.Context, evt *schema.Event, sub *Subscription) Outcome {
	outcome := Outcome{SubscriptionID: sub.ID, Topic: sub.Topic}
	var (
		res schema.Result
		err error
		pc  panics.Catcher
	)
	pc.Try(func() { res, err = sub.Listener(ctx, evt) })
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if res == nil {
		res = schema.Done
	}
	outcome.Result = res
	if err != nil {
		outcome.Err = errs.New("eventbus/listener", errs.CodeListener, errs.WithTopic(evt.Name),
			errs.WithField("subscription", string(sub.ID)), errs.WithCause(err))
		if b.listenerErrorCounter != nil {
			b.listenerErrorCounter.Add(ctx, 1, metric.WithAttributes(
				telemetry.ErrorAttributes(telemetry.Environment(), evt.Name, string(errs.CodeListener))...))
		}
		b.logger.Warn().Err(err).
			Str("topic", evt.Name).
			Str("subscription", string(sub.ID)).
			Str("listener", sub.Name).
			Msg("listener failed")
	}
	return outcome
}

// On subscribes listener to topic.
func (b *MemoryBus) On(topic string, listener Listener, opts ...SubscribeOption) (Handle, error) {
	sub, err := b.registry.Subscribe(topic, listener, opts...)
	if err != nil {
		return Handle{}, err
	}
	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(context.Background(), 1, metric.WithAttributes(
			telemetry.EventAttributes(telemetry.Environment(), topic)...))
	}
	id := sub.ID
	return Handle{ID: id, Topic: topic, off: func() { b.Off(topic, id) }}, nil
}

// Once subscribes listener for a single invocation.
func (b *MemoryBus) Once(topic string, listener Listener, opts ...SubscribeOption) (Handle, error) {
	return b.On(topic, listener, append(opts, AsOnce())...)
}

// Off removes a subscription. Unknown ids are ignored.
func (b *MemoryBus) Off(topic string, id SubscriptionID) {
	if !b.registry.Unsubscribe(topic, id) {
		return
	}
	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
			telemetry.EventAttributes(telemetry.Environment(), topic)...))
	}
}

// Use appends a transform to the pipeline.
func (b *MemoryBus) Use(name string, transform Transform) {
	b.pipeline.Use(name, transform)
}

// History returns the last limit events oldest first; limit <= 0 returns all retained.
func (b *MemoryBus) History(limit int) []*schema.Event {
	return b.history.Snapshot(limit)
}

// ListenerCounts returns subscriptions per registered topic.
func (b *MemoryBus) ListenerCounts() map[string]int {
	return b.registry.Counts()
}

// ClearHistory empties the event log.
func (b *MemoryBus) ClearHistory() {
	b.history.Clear()
}

// Close rejects further emits. In-flight emits complete.
func (b *MemoryBus) Close() {
	b.closed.Store(true)
}
