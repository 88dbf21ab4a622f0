package net

import (
	"time"
)

// Dialer opens outgoing streams.
type Dialer interface {
	// Dial is used to create a new outgoing connection
	Dial(address string, timeout time.Duration) (Stream, error)
}

// StreamLayer is used by a server session to accept incoming streams. Every
// layer can also dial, which lets tests connect a client to an in-memory
// server without a network.
type StreamLayer interface {
	Dialer

	// Accept waits for and returns the next incoming stream. It returns
	// ErrLayerClosed once Close was called.
	Accept() (Stream, error)

	// Close stops accepting. Streams already returned by Accept stay open.
	Close() error

	// Addr returns the address the layer accepts on.
	Addr() string
}
