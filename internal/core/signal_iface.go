package core

import "context"

// Frame is one raw gateway message.
type Frame []byte

// SignalConnection abstracts the gateway messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Frames yields inbound frames in arrival order and is closed when the transport is lost.
	Frames() <-chan Frame
	Close()
}

// SignalDialer opens a fresh transport to the gateway.
type SignalDialer interface {
	Dial(ctx context.Context) (SignalConnection, error)
}
