package client

import "context"

// Dialer opens realtime connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn carries envelope frames. ReadFrame is called from a single goroutine,
// WriteFrame may be called concurrently.
type Conn interface {
	WriteFrame(frame []byte) error
	ReadFrame() ([]byte, error)
	Close() error
}
