package broadcast

import "errors"

var (
	// ErrDisconnected means the transport closed or failed, or the peer
	// violated the protocol. It is terminal for the connection. Session
	// send operations also return it when there is nobody to send to.
	ErrDisconnected = errors.New("broadcast: disconnected")

	// ErrClientNotVerified is returned when an application command is sent on
	// a connection that has not completed the handshake yet.
	ErrClientNotVerified = errors.New("broadcast: client not verified")

	// ErrUnknownPacket is returned when a handshake command is sent from the
	// wrong role.
	ErrUnknownPacket = errors.New("broadcast: unknown packet")

	// ErrNotStarted is returned by operations that need a started session.
	ErrNotStarted = errors.New("broadcast: session not started")

	// ErrAlreadyStarted is returned by Listen and Connect on a session that
	// is already running.
	ErrAlreadyStarted = errors.New("broadcast: session already started")
)
