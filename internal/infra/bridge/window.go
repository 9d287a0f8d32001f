package bridge

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// window is the capability to use the outbound send path on behalf of listeners.
// Only the dispatching context creates one; it is closed when that dispatch returns
// and is never handed to listeners.
type window struct {
	b      *Bridge
	ctx    context.Context
	closed atomic.Bool
}

func (b *Bridge) openWindow(ctx context.Context) *window {
	return &window{b: b, ctx: ctx}
}

func (w *window) close() {
	w.closed.Store(true)
}

// fulfil honours every Broadcast result of report in invocation order. Events re-emitted
// locally may produce further broadcasts, which are fulfilled up to maxBroadcastDepth.
func (w *window) fulfil(report eventbus.Report, depth int) {
	for _, br := range report.Broadcasts() {
		if err := w.send(br, depth); err != nil {
			w.b.logger.Debug().Err(err).Str("topic", br.Event.Name).Msg("broadcast not fulfilled")
		}
	}
}

func (w *window) send(br schema.Broadcast, depth int) error {
	if w.closed.Load() {
		return errs.New("bridge/window", errs.CodeUnavailable, errs.WithTopic(br.Event.Name), errs.WithMessage("broadcast window closed"))
	}
	scope := br.Scope
	if !scope.Valid() {
		scope = schema.ScopeBoth
	}
	target := br.Event.WithScope(scope)
	if target.CreatedAt.IsZero() {
		target = schema.NewEvent(target.Name, target.Payload).WithScope(scope)
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if target.ID() == "" {
		target = target.WithMeta(schema.MetaEventID, uuid.NewString())
	}
	b := w.b
	if b.broadcastsHandled != nil {
		b.broadcastsHandled.Add(w.ctx, 1, metric.WithAttributes(
			append(telemetry.EventAttributes(telemetry.Environment(), target.Name), telemetry.AttrScope.String(string(scope)))...))
	}

	switch scope {
	case schema.ScopeBroadcast:
		return b.sendEvent(w.ctx, target)
	default:
		report, err := b.bus.Emit(w.ctx, target)
		if err != nil {
			return err
		}
		if scope == schema.ScopeBoth && !b.cfg.SyncLocal {
			_ = b.sendEvent(w.ctx, report.Event)
		}
		if depth+1 >= maxBroadcastDepth {
			if len(report.Broadcasts()) > 0 {
				b.logger.Warn().Str("topic", target.Name).Int("depth", depth+1).Msg("broadcast chain too deep; dropping further broadcasts")
			}
			return nil
		}
		w.fulfil(report, depth+1)
		return nil
	}
}
