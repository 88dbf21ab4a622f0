package broadcast

import (
	"crypto/subtle"
	"sync"
	"sync/atomic"

	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/carbonforge/broadcast/src/packet"
	"github.com/sirupsen/logrus"
)

// SelfID is the connection id of a client session's connection to its server.
const SelfID uint32 = 0xFFFFFFFF

// host is the part of a Session a Connection reports to.
type host interface {
	maxPacketLength() int
	credentials() Credentials
	newDataPacket(DataEvent)
	connectionEstablished(ConnectionEvent)
}

// Connection is the state of one peer on top of one Stream: the receive buffer
// and its packet assembly state, the send buffer, and the handshake status.
//
// The read side is only touched by the session reactor. The write side is
// guarded by writeMu so that application sends and reactor flushes can run
// concurrently.
type Connection struct {
	id     uint32
	server bool
	stream bnet.Stream
	host   host
	logger *logrus.Entry

	verified atomic.Bool
	closed   atomic.Bool

	readBuf  buffer
	expected int

	writeMu  sync.Mutex
	writeBuf buffer
}

func newConnection(id uint32, server bool, stream bnet.Stream, h host, logger *logrus.Entry) *Connection {
	return &Connection{
		id:       id,
		server:   server,
		stream:   stream,
		host:     h,
		logger:   logger.WithField("connection", id),
		readBuf:  newBuffer(readGrowIncrement),
		expected: -1,
		writeBuf: newBuffer(writeGrowIncrement),
	}
}

// ID returns the session scoped identifier of the connection.
func (c *Connection) ID() uint32 {
	return c.id
}

// IsVerified reports whether the handshake completed.
func (c *Connection) IsVerified() bool {
	return c.verified.Load()
}

// RemoteAddr returns the address of the peer.
func (c *Connection) RemoteAddr() string {
	return c.stream.RemoteAddr()
}

// Send frames the packet, queues it and tries to flush. Application commands
// are refused with ErrClientNotVerified until the handshake completed; system
// commands always go through.
func (c *Connection) Send(cmd packet.Command, payload []byte) error {
	if !cmd.IsSystem() && !c.verified.Load() {
		return ErrClientNotVerified
	}
	if c.closed.Load() {
		return ErrDisconnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.writeBuf.reserve(packet.HeaderSize + len(payload))
	c.writeBuf.data = packet.AppendEncode(c.writeBuf.data, cmd, payload)

	return c.flushLocked()
}

// Flush pushes buffered bytes to the stream. It does nothing when the buffer
// is empty and may be called any number of times.
func (c *Connection) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.flushLocked()
}

func (c *Connection) flushLocked() error {
	for c.writeBuf.Len() > 0 {
		n, err := c.stream.Write(c.writeBuf.Bytes())
		if n > 0 {
			c.writeBuf.consume(n)
		}

		switch {
		case err == bnet.ErrWouldBlock:
			// the rest goes out on the next Writable event
			return nil
		case err != nil:
			c.logger.WithError(err).Debug("Write failed")
			c.writeBuf.reset()
			return ErrDisconnected
		case n == 0:
			c.writeBuf.reset()
			return ErrDisconnected
		}
	}
	return nil
}

// Pending returns the number of queued bytes not yet accepted by the stream.
func (c *Connection) Pending() int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.writeBuf.Len()
}

// SendServerHandshake opens the handshake from the server side.
func (c *Connection) SendServerHandshake() error {
	if !c.server {
		return ErrUnknownPacket
	}
	return c.Send(packet.ServerHandshake, nil)
}

// SendClientHandshake answers a ServerHandshake with the client credentials.
func (c *Connection) SendClientHandshake() error {
	if c.server {
		return ErrUnknownPacket
	}

	creds := c.host.credentials()
	hello := packet.ClientHello{
		Version: creds.MaxVersion,
		Key:     creds.Key,
	}
	return c.Send(packet.ClientHandshake, hello.Marshal())
}

// readData drains the stream and dispatches every complete packet. It returns
// ErrDisconnected when the connection has to be dropped.
func (c *Connection) readData() error {
	for {
		n, err := c.readBuf.readFrom(c.stream.Read, readChunkSize)

		switch {
		case err == bnet.ErrWouldBlock:
		case err != nil:
			c.logger.WithError(err).Debug("Read failed")
			return ErrDisconnected
		case n == 0:
			return ErrDisconnected
		}

		if err := c.parseBuffered(); err != nil {
			return err
		}

		// Closed by a listener during dispatch.
		if c.closed.Load() {
			return nil
		}

		if n < readChunkSize {
			return nil
		}
	}
}

// parseBuffered extracts and dispatches every complete packet at the front of
// the read buffer.
func (c *Connection) parseBuffered() error {
	for c.readBuf.Len() > 0 {
		limit := c.host.maxPacketLength()

		if limit > 0 && c.readBuf.Len() > limit {
			c.logger.WithField("buffered", c.readBuf.Len()).Debug("Dropping oversized input")
			c.dropInput()
			return nil
		}

		if c.expected < 0 {
			res := packet.TryReadHeader(c.readBuf.Bytes())

			switch res.Status {
			case packet.Incomplete:
				return nil

			case packet.NotFound:
				if !c.verified.Load() {
					c.logger.Debug("Unverified peer did not open with a packet header")
					return ErrDisconnected
				}

				off := packet.FindSignature(c.readBuf.Bytes())
				if off < 0 {
					c.logger.WithField("discarded", c.readBuf.Len()).Debug("No signature in input")
					c.dropInput()
					return nil
				}

				c.logger.WithField("discarded", off).Debug("Resynchronised on signature")
				c.readBuf.consume(off)
				continue

			case packet.TooLarge:
				c.logger.WithFields(logrus.Fields{
					"command": res.Command,
					"length":  res.DataLength,
				}).Debug("Dropping unrepresentable packet")
				c.dropInput()
				return nil

			case packet.Found:
				if limit > 0 && res.TotalLength > limit {
					c.logger.WithFields(logrus.Fields{
						"command": res.Command,
						"length":  res.TotalLength,
					}).Debug("Dropping oversized packet")
					c.dropInput()
					return nil
				}
				c.expected = res.TotalLength
			}
		}

		if c.readBuf.Len() < c.expected {
			return nil
		}

		p, n, err := packet.Decode(c.readBuf.Bytes())
		if err != nil {
			// TryReadHeader already vouched for this header
			return ErrDisconnected
		}
		c.readBuf.consume(n)
		c.expected = -1

		if err := c.dispatch(p); err != nil {
			return err
		}

		if c.closed.Load() {
			return nil
		}
	}
	return nil
}

func (c *Connection) dropInput() {
	c.readBuf.reset()
	c.expected = -1
}

// dispatch runs the handshake state machine, or forwards the packet once the
// connection is verified.
func (c *Connection) dispatch(p packet.Packet) error {
	if c.verified.Load() {
		c.host.newDataPacket(DataEvent{
			ConnectionID: c.id,
			Command:      p.Command,
			Payload:      p.Payload,
		})
		return nil
	}

	switch {
	case !c.server && p.Command == packet.ServerHandshake:
		if err := c.SendClientHandshake(); err != nil {
			return ErrDisconnected
		}
		return nil

	case c.server && p.Command == packet.ClientHandshake:
		if !c.checkClientHello(p.Payload) {
			return ErrDisconnected
		}
		c.verified.Store(true)
		if err := c.Send(packet.HandshakeAccept, nil); err != nil {
			return ErrDisconnected
		}
		c.logger.WithField("remote", c.stream.RemoteAddr()).Debug("Client verified")
		c.host.connectionEstablished(ConnectionEvent{ConnectionID: c.id})
		return nil

	case !c.server && p.Command == packet.HandshakeAccept:
		c.verified.Store(true)
		c.logger.Debug("Server accepted handshake")
		c.host.connectionEstablished(ConnectionEvent{ConnectionID: c.id})
		return nil
	}

	c.logger.WithField("command", p.Command).Debug("Unexpected packet before handshake")
	return ErrDisconnected
}

// checkClientHello validates, in order, the payload length, the version range
// and the key. Failures are only logged locally.
func (c *Connection) checkClientHello(payload []byte) bool {
	hello, err := packet.UnmarshalClientHello(payload)
	if err != nil {
		c.logger.WithError(err).Debug("Malformed client handshake")
		return false
	}

	creds := c.host.credentials()

	if hello.Version < creds.MinVersion || hello.Version > creds.MaxVersion {
		c.logger.WithFields(logrus.Fields{
			"version": hello.Version,
			"min":     creds.MinVersion,
			"max":     creds.MaxVersion,
		}).Debug("Client version out of range")
		return false
	}

	if len(hello.Key) != len(creds.Key) ||
		subtle.ConstantTimeCompare([]byte(hello.Key), []byte(creds.Key)) != 1 {
		c.logger.Debug("Client key mismatch")
		return false
	}

	return true
}

// close flushes what is still queued and closes the stream. It reports
// whether the connection had been verified, in which case the session raises
// ConnectionClosed. Only the first call has any effect.
func (c *Connection) close() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}

	c.Flush()
	c.stream.Watch(nil)
	if err := c.stream.Close(); err != nil {
		c.logger.WithError(err).Debug("Closing stream")
	}

	return c.verified.Load()
}
