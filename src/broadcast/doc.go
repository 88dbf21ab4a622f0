// Package broadcast implements a server/client messaging layer on top of
// non-blocking byte streams.
//
// A Session started with Listen is a server. It accepts streams from a
// StreamLayer, opens a handshake on every one of them and, once a client
// presented a key and a protocol version it accepts, marks the connection
// verified. From then on every packet the client sends is raised as a
// NewDataPacket event, and SendToAll reaches every verified client. A Session
// started with Connect is a client with a single connection, whose id is
// always SelfID.
//
// Handshake
//
//	server                          client
//	  | ---- ServerHandshake -------> |
//	  | <--- ClientHandshake -------- |  version, key
//	  | ---- HandshakeAccept -------> |
//	ConnectionEstablished           ConnectionEstablished
//
// A connection that sends anything else before it is verified, or whose
// handshake does not check out, is closed without any reply.
//
// Receiving
//
// The first bytes of an unverified connection have to be a packet header.
// After verification the receiver tolerates noise: bytes that do not start
// with the packet signature are skipped up to the next signature. Packets
// longer than the session's MaxPacketLength are dropped together with
// whatever else is buffered.
//
// Concurrency
//
// Each started session runs one reactor goroutine which handles the readiness
// events of all its connections, and calls listeners. Listeners may call any
// Session method, including DisconnectConnection and Disconnect. Send
// operations never block: bytes the transport does not take immediately are
// kept and flushed on the next Writable event.
package broadcast
