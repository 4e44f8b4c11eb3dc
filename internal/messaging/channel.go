// Package messaging carries submission payloads from the ingress handler to
// the relay consumer. Every transport here is connectionless as far as the
// callers can tell: delivery is at most once, unordered, and a send never
// waits for the receiving side.
package messaging

import (
	"context"
	"errors"
)

var (
	// ErrTruncated is returned with the first MaxPacketSize bytes of a
	// payload that did not fit in a single receive.
	ErrTruncated = errors.New("datagram truncated")
	ErrClosed    = errors.New("datagram channel closed")
)

// Sender hands one payload to the channel as a single unit.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Receiver blocks until one payload arrives or ctx is done.
type Receiver interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
