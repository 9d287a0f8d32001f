package bridge

import "context"

// Conn is one established link to the peer. Implementations must allow Write to be
// called concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Transport produces connections to the peer. Dial blocks until a connection is
// available or ctx is done; connection timeouts belong to the transport.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}
