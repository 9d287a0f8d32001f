package bridge

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// relayListener observes every local event and forwards eligible ones to the peer.
// It never fails the emit it runs in.
func (b *Bridge) relayListener(ctx context.Context, evt *schema.Event) (schema.Result, error) {
	if evt.FromRemote() {
		b.drop(ctx, telemetry.DirectionOutbound, ReasonLoop)
		return schema.Done, nil
	}
	if !evt.Scope.Relays() {
		b.drop(ctx, telemetry.DirectionOutbound, ReasonLocalScope)
		return schema.Done, nil
	}
	_ = b.sendEvent(ctx, evt)
	return schema.Done, nil
}

// sendEvent applies the outbound policy and writes evt as an event frame.
func (b *Bridge) sendEvent(ctx context.Context, evt *schema.Event) error {
	if evt.FromRemote() {
		b.drop(ctx, telemetry.DirectionOutbound, ReasonLoop)
		return errs.New("bridge/relay", errs.CodeFiltered, errs.WithTopic(evt.Name), errs.WithField("reason", ReasonLoop))
	}
	if err := b.cfg.Policies.Outbound.Check(evt.Name); err != nil {
		reason := reasonOf(err)
		b.drop(ctx, telemetry.DirectionOutbound, reason)
		b.logger.Debug().Str("topic", evt.Name).Str("reason", reason).Msg("outbound event filtered")
		return err
	}
	if b.currentSession() == nil {
		b.drop(ctx, telemetry.DirectionOutbound, ReasonDisconnected)
		b.logger.Debug().Str("topic", evt.Name).Msg("peer not connected; event not relayed")
		return errs.New("bridge/relay", errs.CodeUnavailable, errs.WithTopic(evt.Name), errs.WithMessage("not connected"))
	}
	data, err := schema.EncodeMessage(schema.MessageEvent, "", schema.FrameFromEvent(evt))
	if err != nil {
		b.logger.Warn().Err(err).Str("topic", evt.Name).Msg("encode outbound event")
		return err
	}
	if err := b.write(ctx, schema.MessageEvent, data); err != nil {
		b.logger.Error().Err(err).Str("topic", evt.Name).Msg("relay write failed")
		return err
	}
	return nil
}

// handleFrame processes one inbound frame. Malformed, filtered and rate-limited frames
// are logged and discarded without tearing down the connection.
func (b *Bridge) handleFrame(ctx context.Context, data []byte) {
	if !b.limiter.Allow() {
		b.drop(ctx, telemetry.DirectionInbound, ReasonRateLimited)
		b.logger.Warn().Msg("inbound frame rate limited")
		return
	}
	msg, err := schema.DecodeMessage(data)
	if err != nil {
		b.drop(ctx, telemetry.DirectionInbound, ReasonMalformed)
		b.logger.Warn().Err(err).Int("bytes", len(data)).Msg("discarding malformed frame")
		return
	}
	if b.framesReceived != nil {
		b.framesReceived.Add(ctx, 1, metric.WithAttributes(
			telemetry.FrameAttributes(telemetry.Environment(), telemetry.DirectionInbound, string(msg.Type))...))
	}

	switch msg.Type {
	case schema.MessageEvent:
		b.handleInboundEvent(ctx, msg)
	case schema.MessageEmitRequest:
		b.handleInboundRequest(ctx, msg)
	case schema.MessageEmitResult, schema.MessageEmitError:
		b.resolvePending(msg)
	}
}

func (b *Bridge) handleInboundEvent(ctx context.Context, msg schema.Message) {
	if !b.cfg.SyncRemote {
		b.drop(ctx, telemetry.DirectionInbound, ReasonSyncDisabled)
		return
	}
	var frame schema.Frame
	if err := msg.DecodePayload(&frame); err != nil {
		b.drop(ctx, telemetry.DirectionInbound, ReasonMalformed)
		b.logger.Warn().Err(err).Msg("discarding malformed event frame")
		return
	}
	evt, err := frame.ToEvent()
	if err != nil {
		b.drop(ctx, telemetry.DirectionInbound, ReasonMalformed)
		b.logger.Warn().Err(err).Msg("discarding malformed event frame")
		return
	}
	if err := b.cfg.Policies.Inbound.Check(evt.Name); err != nil {
		reason := reasonOf(err)
		b.drop(ctx, telemetry.DirectionInbound, reason)
		b.logger.Debug().Str("topic", evt.Name).Str("reason", reason).Msg("inbound event filtered")
		return
	}
	evt = evt.WithMeta(schema.MetaSource, schema.SourceRemote)
	if _, err := b.dispatchEvent(ctx, evt); err != nil {
		b.logger.Warn().Err(err).Str("topic", evt.Name).Msg("inbound event dispatch failed")
	}
}

func (b *Bridge) handleInboundRequest(ctx context.Context, msg schema.Message) {
	var req schema.EmitRequest
	if err := msg.DecodePayload(&req); err != nil {
		b.drop(ctx, telemetry.DirectionInbound, ReasonMalformed)
		b.logger.Warn().Err(err).Msg("discarding malformed emit request")
		b.reply(ctx, schema.MessageEmitError, msg.ID, schema.ErrorPayload{Error: "malformed request"})
		return
	}
	if !b.cfg.SyncRemote {
		b.drop(ctx, telemetry.DirectionInbound, ReasonSyncDisabled)
		b.logger.Info().Str("topic", req.Name).Msg("rejected peer emit request; remote sync disabled")
		b.reply(ctx, schema.MessageEmitError, msg.ID, schema.ErrorPayload{
			Error:     "remote events are not accepted",
			EventName: req.Name,
		})
		return
	}
	if err := b.cfg.Policies.Inbound.Check(req.Name); err != nil {
		reason := reasonOf(err)
		b.drop(ctx, telemetry.DirectionInbound, reason)
		b.logger.Info().Str("topic", req.Name).Str("reason", reason).Msg("rejected peer emit request")
		b.reply(ctx, schema.MessageEmitError, msg.ID, schema.ErrorPayload{
			Error:     "event \"" + req.Name + "\" may not be sent from the peer",
			EventName: req.Name,
		})
		return
	}
	resp, err := b.dispatchRequest(ctx, req, schema.SourceRemote)
	if err != nil {
		b.reply(ctx, schema.MessageEmitError, msg.ID, schema.ErrorPayload{Error: err.Error(), EventName: req.Name})
		return
	}
	b.reply(ctx, schema.MessageEmitResult, msg.ID, resp)
}

func (b *Bridge) reply(ctx context.Context, typ schema.MessageType, id string, payload any) {
	data, err := schema.EncodeMessage(typ, id, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("type", string(typ)).Msg("encode reply")
		return
	}
	if err := b.write(ctx, typ, data); err != nil {
		b.logger.Warn().Err(err).Str("type", string(typ)).Msg("reply write failed")
	}
}
