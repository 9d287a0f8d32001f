// Package bridge relays events between the local bus and a remote peer under per-direction
// topic policies, prevents echo loops through provenance tagging, and fulfils listener
// broadcast requests from inside the dispatching context.
package bridge

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/logging"
	"github.com/coachpo/eventframe/internal/infra/telemetry"
)

// Roles a bridge can play.
const (
	RoleService = "service"
	RoleUI      = "ui"
)

const (
	defaultWriteTimeout     = 5 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultInitialReconnect = 500 * time.Millisecond
	defaultMaxReconnect     = 20 * time.Second
	maxBroadcastDepth       = 8

	// RelayPriority places the outbound relay last within the match-all bucket. Buckets
	// resolve match-all first, so the relay still runs before pattern and exact-topic listeners.
	RelayPriority = math.MinInt
)

// Config configures a Bridge.
type Config struct {
	Role string
	// SyncLocal relays local events to the peer.
	SyncLocal bool
	// SyncRemote emits peer events on the local bus.
	SyncRemote bool
	Policies   Policies
	// InboundRateLimit caps inbound frames per second; zero disables limiting.
	InboundRateLimit float64
	InboundBurst     int
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	// DefaultScope applies to requests that carry no scope.
	DefaultScope schema.Scope
}

func (c Config) normalize() Config {
	if c.Role == "" {
		c.Role = RoleService
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = defaultInitialReconnect
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultMaxReconnect
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = int(math.Max(1, math.Ceil(c.InboundRateLimit)))
	}
	if !c.DefaultScope.Valid() {
		c.DefaultScope = schema.ScopeBoth
	}
	return c
}

type session struct {
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge synchronises the local bus with one remote peer.
type Bridge struct {
	cfg       Config
	bus       eventbus.Bus
	transport Transport
	logger    zerolog.Logger
	status    *statusRegistry
	limiter   *rate.Limiter

	connectMu sync.Mutex
	sessMu    sync.RWMutex
	sess      *session

	relay eventbus.Handle

	pendingMu sync.Mutex
	pending   map[string]chan schema.Message

	framesSent        metric.Int64Counter
	framesReceived    metric.Int64Counter
	framesDropped     metric.Int64Counter
	stateTransitions  metric.Int64Counter
	requestDuration   metric.Float64Histogram
	broadcastsHandled metric.Int64Counter
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New wires a bridge to bus. When SyncLocal is set the outbound relay is subscribed
// immediately on the match-all topic at the lowest priority.
func New(bus eventbus.Bus, transport Transport, cfg Config, opts ...Option) (*Bridge, error) {
	if bus == nil {
		return nil, errs.New("bridge", errs.CodeInvalid, errs.WithMessage("bus required"))
	}
	cfg = cfg.normalize()
	if err := cfg.Policies.Outbound.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Policies.Inbound.Validate(); err != nil {
		return nil, err
	}
	b := &Bridge{
		cfg:       cfg,
		bus:       bus,
		transport: transport,
		logger:    logging.Component("bridge"),
		status:    newStatusRegistry(),
		limiter:   rate.NewLimiter(rate.Inf, 0),
		pending:   make(map[string]chan schema.Message),
	}
	if cfg.InboundRateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.InboundRateLimit), cfg.InboundBurst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	meter := otel.Meter("bridge")
	b.framesSent, _ = meter.Int64Counter("bridge.frames.sent",
		metric.WithDescription("Frames written to the peer"),
		metric.WithUnit("{frame}"))
	b.framesReceived, _ = meter.Int64Counter("bridge.frames.received",
		metric.WithDescription("Frames read from the peer"),
		metric.WithUnit("{frame}"))
	b.framesDropped, _ = meter.Int64Counter("bridge.frames.dropped",
		metric.WithDescription("Frames or events not relayed, by reason"),
		metric.WithUnit("{frame}"))
	b.stateTransitions, _ = meter.Int64Counter("bridge.state.transitions",
		metric.WithDescription("Connection state transitions"),
		metric.WithUnit("{transition}"))
	b.requestDuration, _ = meter.Float64Histogram("bridge.request.duration",
		metric.WithDescription("Round trip of emit requests sent to the peer"),
		metric.WithUnit("ms"))
	b.broadcastsHandled, _ = meter.Int64Counter("bridge.broadcasts.fulfilled",
		metric.WithDescription("Broadcast results fulfilled by the dispatching context"),
		metric.WithUnit("{broadcast}"))

	if cfg.SyncLocal {
		h, err := bus.On(eventbus.MatchAll, b.relayListener,
			eventbus.WithPriority(RelayPriority), eventbus.WithName("bridge.relay"))
		if err != nil {
			return nil, err
		}
		b.relay = h
	}
	return b, nil
}

// State returns the current connection state.
func (b *Bridge) State() State {
	return b.status.get().State
}

// Status returns the latest status including the last transport error.
func (b *Bridge) Status() Status {
	return b.status.get()
}

// OnStatusChange registers an observer and returns its idempotent unsubscribe.
func (b *Bridge) OnStatusChange(fn StatusObserver) func() {
	return b.status.subscribe(fn)
}

// Config returns the normalized configuration.
func (b *Bridge) Config() Config {
	return b.cfg
}

func (b *Bridge) setState(next State, err error) {
	st, changed := b.status.transition(next, err)
	if !changed {
		return
	}
	if b.stateTransitions != nil {
		b.stateTransitions.Add(context.Background(), 1, metric.WithAttributes(
			telemetry.ConnectionAttributes(telemetry.Environment(), b.cfg.Role, string(st.State))...))
	}
	ev := b.logger.Info()
	if err != nil {
		ev = b.logger.Error().Err(err)
	}
	ev.Str("state", string(st.State)).Msg("bridge state changed")
}

// Connect performs one connection attempt. On success the bridge starts relaying
// and reading from the peer until the connection fails or Disconnect is called.
func (b *Bridge) Connect(ctx context.Context) error {
	_, err := b.connect(ctx)
	return err
}

func (b *Bridge) connect(ctx context.Context) (*session, error) {
	if b.transport == nil {
		return nil, errs.New("bridge/connect", errs.CodeUnavailable, errs.WithMessage("no transport configured"))
	}
	b.connectMu.Lock()
	defer b.connectMu.Unlock()
	b.sessMu.RLock()
	existing := b.sess
	b.sessMu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	b.setState(StateConnecting, nil)
	conn, err := b.transport.Dial(ctx)
	if err != nil {
		wrapped := errs.New("bridge/connect", errs.CodeNetwork, errs.WithCause(err))
		b.setState(StateDisconnected, wrapped)
		return nil, wrapped
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{conn: conn, cancel: cancel, done: make(chan struct{})}
	b.sessMu.Lock()
	b.sess = sess
	b.sessMu.Unlock()
	b.setState(StateConnected, nil)

	go b.readLoop(sessCtx, sess)
	return sess, nil
}

// Disconnect closes the current connection, if any, and moves to disconnected.
func (b *Bridge) Disconnect() {
	b.sessMu.RLock()
	sess := b.sess
	b.sessMu.RUnlock()
	if sess != nil {
		b.endSession(sess, nil)
		<-sess.done
	}
	b.setState(StateDisconnected, nil)
}

// Run keeps the bridge connected until ctx is done, reconnecting with exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ReconnectInitial
	bo.MaxInterval = b.cfg.ReconnectMax

	defer b.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sess, err := b.connect(ctx)
		if err == nil {
			bo.Reset()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sess.done:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = b.cfg.ReconnectMax
		}
		b.logger.Debug().Dur("retry_in", sleep).Msg("bridge reconnect scheduled")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Close unsubscribes the relay and drops the connection.
func (b *Bridge) Close() {
	b.relay.Unsubscribe()
	b.Disconnect()
}

func (b *Bridge) endSession(sess *session, cause error) {
	b.sessMu.Lock()
	current := b.sess == sess
	if current {
		b.sess = nil
	}
	b.sessMu.Unlock()
	if !current {
		return
	}
	sess.cancel()
	_ = sess.conn.Close("bridge closed")
	b.failPending()
	close(sess.done)
	if cause != nil {
		b.setState(StateDisconnected, errs.New("bridge/transport", errs.CodeNetwork, errs.WithCause(cause)))
		return
	}
	b.setState(StateDisconnected, nil)
}

func (b *Bridge) currentSession() *session {
	b.sessMu.RLock()
	defer b.sessMu.RUnlock()
	return b.sess
}

func (b *Bridge) readLoop(ctx context.Context, sess *session) {
	for {
		data, err := sess.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				b.endSession(sess, nil)
				return
			}
			b.endSession(sess, err)
			return
		}
		b.handleFrame(ctx, data)
	}
}

// write sends an encoded envelope on the current session.
func (b *Bridge) write(ctx context.Context, typ schema.MessageType, data []byte) error {
	sess := b.currentSession()
	if sess == nil {
		return errs.New("bridge/send", errs.CodeUnavailable, errs.WithMessage("not connected"))
	}
	writeCtx, cancel := context.WithTimeout(ctx, b.cfg.WriteTimeout)
	defer cancel()
	if err := sess.conn.Write(writeCtx, data); err != nil {
		b.drop(ctx, telemetry.DirectionOutbound, ReasonWriteFailed)
		b.endSession(sess, err)
		return errs.New("bridge/send", errs.CodeNetwork, errs.WithCause(err))
	}
	if b.framesSent != nil {
		b.framesSent.Add(ctx, 1, metric.WithAttributes(
			telemetry.FrameAttributes(telemetry.Environment(), telemetry.DirectionOutbound, string(typ))...))
	}
	return nil
}

func (b *Bridge) drop(ctx context.Context, direction, reason string) {
	if b.framesDropped != nil {
		b.framesDropped.Add(ctx, 1, metric.WithAttributes(
			telemetry.DropAttributes(telemetry.Environment(), direction, reason)...))
	}
}
