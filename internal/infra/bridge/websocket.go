package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/internal/infra/logging"
)

// DefaultReadLimit caps a single inbound frame.
const DefaultReadLimit = 1 << 20

type wsConn struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newWSConn(conn *websocket.Conn, readLimit int64, onClose func()) *wsConn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn, done: make(chan struct{}), onClose: onClose}
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read websocket: %w", err)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}

func (c *wsConn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, reason)
		close(c.done)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

// DialTransport connects to a peer serving the bridge websocket endpoint.
type DialTransport struct {
	URL       string
	ReadLimit int64
	Header    http.Header
}

// Dial opens a websocket to the configured URL.
func (t DialTransport) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{HTTPHeader: t.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	return newWSConn(conn, t.ReadLimit, nil), nil
}

// AcceptTransport serves the bridge websocket endpoint and hands accepted peers to Dial.
// One peer is served at a time; further clients are closed with StatusTryAgainLater.
type AcceptTransport struct {
	readLimit      int64
	originPatterns []string
	conns          chan *wsConn
	busy           atomic.Bool
	logger         zerolog.Logger
}

// AcceptOption customises an AcceptTransport.
type AcceptOption func(*AcceptTransport)

// WithOriginPatterns sets the origins allowed to open the websocket.
func WithOriginPatterns(patterns ...string) AcceptOption {
	return func(t *AcceptTransport) { t.originPatterns = patterns }
}

// WithAcceptLogger overrides the component logger.
func WithAcceptLogger(logger zerolog.Logger) AcceptOption {
	return func(t *AcceptTransport) { t.logger = logger }
}

// NewAcceptTransport creates the server-side transport.
func NewAcceptTransport(readLimit int64, opts ...AcceptOption) *AcceptTransport {
	t := &AcceptTransport{
		readLimit: readLimit,
		conns:     make(chan *wsConn, 1),
		logger:    logging.Component("bridge/ws"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// ServeHTTP upgrades the request and holds it until the bridge closes the connection.
func (t *AcceptTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: t.originPatterns})
	if err != nil {
		t.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Warn().Str("remote", r.RemoteAddr).Msg("peer already connected; refusing client")
		_ = conn.Close(websocket.StatusTryAgainLater, "peer already connected")
		return
	}
	wc := newWSConn(conn, t.readLimit, func() { t.busy.Store(false) })
	select {
	case t.conns <- wc:
	default:
		_ = wc.Close("transport saturated")
		return
	}
	t.logger.Info().Str("remote", r.RemoteAddr).Msg("peer connected")
	<-wc.done
}

// Dial waits for the next accepted peer.
func (t *AcceptTransport) Dial(ctx context.Context) (Conn, error) {
	select {
	case c := <-t.conns:
		return c, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await peer: %w", ctx.Err())
	}
}

// Busy reports whether a peer currently holds the connection slot.
func (t *AcceptTransport) Busy() bool {
	return t.busy.Load()
}
