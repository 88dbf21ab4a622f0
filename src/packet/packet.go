// Package packet implements the Command Packet, the framing unit exchanged
// between broadcast peers.
//
// A packet is a fixed 8 byte header followed by a variable length payload.
// All integers are little-endian:
//
//	offset 0  u16  signature  ('C','G')
//	offset 2  u16  command
//	offset 4  u32  data_length
//	offset 8  ..   payload[data_length]
//
// The signature lets a receiver find the start of a packet inside a byte
// stream that contains garbage or several concatenated packets. The package
// only frames bytes; payloads are opaque.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Signature is the magic value that starts every packet.
	Signature uint16 = uint16('C') | uint16('G')<<8

	// HeaderSize is the size of the fixed header in bytes.
	HeaderSize = 8

	// DefaultMaxPacketLength is the default ceiling, in bytes, above which a
	// packet is discarded rather than buffered.
	DefaultMaxPacketLength = 3145728
)

var (
	// ErrIncomplete is returned by Decode when the buffer does not yet hold a
	// whole packet.
	ErrIncomplete = errors.New("packet: incomplete")

	// ErrBadSignature is returned by Decode when the buffer does not start
	// with the packet signature.
	ErrBadSignature = errors.New("packet: bad signature")

	// ErrTooLarge is returned by Decode when the declared length cannot be
	// represented on this platform.
	ErrTooLarge = errors.New("packet: declared length too large")
)

// Command identifies the meaning of a packet. Commands below User are
// reserved for the system (handshake) family.
type Command uint16

// System commands.
const (
	// ServerHandshake is sent by the server as soon as it accepts a
	// connection.
	ServerHandshake Command = 0x0001
	// ClientHandshake carries the client credentials to the server.
	ClientHandshake Command = 0x0002
	// HandshakeAccept is sent by the server once the credentials check out.
	HandshakeAccept Command = 0x0003

	// User is the first application command. Applications define their own
	// commands as offsets from it, e.g. User + 10.
	User Command = 0x0100
)

// IsSystem reports whether c belongs to the reserved system range.
func (c Command) IsSystem() bool {
	return c < User
}

func (c Command) String() string {
	switch c {
	case ServerHandshake:
		return "ServerHandshake"
	case ClientHandshake:
		return "ClientHandshake"
	case HandshakeAccept:
		return "HandshakeAccept"
	}
	if c.IsSystem() {
		return fmt.Sprintf("System(0x%04x)", uint16(c))
	}
	return fmt.Sprintf("User+%d", uint16(c-User))
}

// Packet is a decoded Command Packet.
type Packet struct {
	Command Command
	Payload []byte
}

// Len returns the total wire length of the packet.
func (p Packet) Len() int {
	return HeaderSize + len(p.Payload)
}

// Encode frames a command and its payload.
func Encode(cmd Command, payload []byte) []byte {
	return AppendEncode(make([]byte, 0, HeaderSize+len(payload)), cmd, payload)
}

// AppendEncode appends the framed packet to dst and returns the extended
// slice.
func AppendEncode(dst []byte, cmd Command, payload []byte) []byte {
	var hdr [HeaderSize]byte
	putHeader(hdr[:], cmd, uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// Decode reads one packet from the start of buf and returns it together with
// the number of bytes it occupied. The payload is copied out of buf.
func Decode(buf []byte) (Packet, int, error) {
	res := TryReadHeader(buf)
	switch res.Status {
	case Incomplete:
		return Packet{}, 0, ErrIncomplete
	case NotFound:
		return Packet{}, 0, ErrBadSignature
	case TooLarge:
		return Packet{}, 0, ErrTooLarge
	}

	if len(buf) < res.TotalLength {
		return Packet{}, 0, ErrIncomplete
	}

	payload := make([]byte, res.TotalLength-HeaderSize)
	copy(payload, buf[HeaderSize:res.TotalLength])

	return Packet{Command: res.Command, Payload: payload}, res.TotalLength, nil
}

func putHeader(b []byte, cmd Command, dataLength uint32) {
	binary.LittleEndian.PutUint16(b[0:2], Signature)
	binary.LittleEndian.PutUint16(b[2:4], uint16(cmd))
	binary.LittleEndian.PutUint32(b[4:8], dataLength)
}
