package bridge

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRequest checks an emit request envelope.
func ValidateRequest(req schema.EmitRequest) error {
	if err := validate.Struct(req); err != nil {
		return errs.New("bridge/request", errs.CodeInvalid, errs.WithTopic(req.Name), errs.WithCause(err))
	}
	return nil
}

// Dispatch emits a locally originated request on the bus and fulfils the resulting
// broadcast requests before answering.
func (b *Bridge) Dispatch(ctx context.Context, req schema.EmitRequest) (schema.EmitResponse, error) {
	return b.dispatchRequest(ctx, req, schema.SourceLocal)
}

// DispatchEvent emits evt inside a broadcast window.
func (b *Bridge) DispatchEvent(ctx context.Context, evt *schema.Event) (eventbus.Report, error) {
	return b.dispatchEvent(ctx, evt)
}

func (b *Bridge) dispatchRequest(ctx context.Context, req schema.EmitRequest, source string) (schema.EmitResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return schema.EmitResponse{}, err
	}
	scope, err := schema.ParseScope(req.Scope, b.cfg.DefaultScope)
	if err != nil {
		return schema.EmitResponse{}, errs.New("bridge/request", errs.CodeInvalid, errs.WithTopic(req.Name), errs.WithCause(err))
	}
	evt := schema.NewEvent(req.Name, req.Data).WithScope(scope).WithMeta(schema.MetaSource, source)
	report, err := b.dispatchEvent(ctx, evt)
	if err != nil {
		return schema.EmitResponse{}, err
	}
	return schema.EmitResponse{
		Success:           true,
		Event:             schema.FrameFromEvent(report.Event),
		ListenersExecuted: b.listenersExecuted(report),
		Results:           report.Results(),
		Scope:             report.Event.Scope,
	}, nil
}

// listenersExecuted counts application listeners, leaving out the relay.
func (b *Bridge) listenersExecuted(report eventbus.Report) int {
	n := 0
	for _, o := range report.Outcomes {
		if b.relay.ID != "" && o.SubscriptionID == b.relay.ID {
			continue
		}
		n++
	}
	return n
}

func (b *Bridge) dispatchEvent(ctx context.Context, evt *schema.Event) (eventbus.Report, error) {
	w := b.openWindow(ctx)
	defer w.close()
	report, err := b.bus.Emit(ctx, evt)
	if err != nil {
		return report, err
	}
	w.fulfil(report, 0)
	return report, nil
}

// Request sends req to the peer and waits for the correlated response.
func (b *Bridge) Request(ctx context.Context, req schema.EmitRequest) (schema.EmitResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return schema.EmitResponse{}, err
	}
	if err := b.cfg.Policies.Outbound.Check(req.Name); err != nil {
		b.drop(ctx, telemetry.DirectionOutbound, reasonOf(err))
		return schema.EmitResponse{}, err
	}

	id := uuid.NewString()
	ch := make(chan schema.Message, 1)
	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	data, err := schema.EncodeMessage(schema.MessageEmitRequest, id, req)
	if err != nil {
		return schema.EmitResponse{}, err
	}
	start := time.Now()
	result := "success"
	defer func() {
		if b.requestDuration != nil {
			b.requestDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(
				telemetry.OperationResultAttributes(telemetry.Environment(), "bridge.request", result)...))
		}
	}()
	if err := b.write(ctx, schema.MessageEmitRequest, data); err != nil {
		result = "write_failed"
		return schema.EmitResponse{}, err
	}

	timer := time.NewTimer(b.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		result = "canceled"
		return schema.EmitResponse{}, ctx.Err()
	case <-timer.C:
		result = "timeout"
		return schema.EmitResponse{}, errs.New("bridge/request", errs.CodeUnavailable, errs.WithTopic(req.Name), errs.WithMessage("request timed out"))
	case msg, ok := <-ch:
		if !ok {
			result = "connection_lost"
			return schema.EmitResponse{}, errs.New("bridge/request", errs.CodeNetwork, errs.WithTopic(req.Name), errs.WithMessage("connection lost"))
		}
		if msg.Type == schema.MessageEmitError {
			result = "rejected"
			var payload schema.ErrorPayload
			_ = msg.DecodePayload(&payload)
			return schema.EmitResponse{}, errs.New("bridge/request", errs.CodeFiltered, errs.WithTopic(req.Name), errs.WithMessage(payload.Error))
		}
		var resp schema.EmitResponse
		if err := msg.DecodePayload(&resp); err != nil {
			result = "malformed"
			return schema.EmitResponse{}, err
		}
		return resp, nil
	}
}

func (b *Bridge) resolvePending(msg schema.Message) {
	b.pendingMu.Lock()
	ch, ok := b.pending[msg.ID]
	if ok {
		delete(b.pending, msg.ID)
	}
	b.pendingMu.Unlock()
	if !ok {
		b.logger.Debug().Str("id", msg.ID).Str("type", string(msg.Type)).Msg("response for unknown request")
		return
	}
	ch <- msg
}

func (b *Bridge) failPending() {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
}
