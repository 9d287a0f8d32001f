package bridge

import (
	"context"
	"errors"
	"sync"
)

var errPipeClosed = errors.New("pipe closed")

// pipeConn is one end of an in-memory duplex connection.
type pipeConn struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
}

func newPipe() (*pipeConn, *pipeConn) {
	a2b := make(chan []byte, 64)
	b2a := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: b2a, out: a2b, done: done, once: once},
		&pipeConn{in: a2b, out: b2a, done: done, once: once}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.in:
		return data, nil
	case <-p.done:
		return nil, errPipeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.done:
		return errPipeClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.done:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close(string) error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// pipeTransport hands out queued connections and fails when none are queued.
type pipeTransport struct {
	mu    sync.Mutex
	conns []Conn
	dials int
}

func (t *pipeTransport) push(c Conn) {
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
}

func (t *pipeTransport) Dial(context.Context) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if len(t.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

func (t *pipeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}
