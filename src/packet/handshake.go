package packet

import (
	"encoding/binary"
	"errors"
)

// MaxKeyLength is the longest connection key a ClientHello can carry. Longer
// keys are truncated on the client side.
const MaxKeyLength = 255

// ErrShortHandshake is returned when a ClientHandshake payload is shorter than
// the lengths it declares.
var ErrShortHandshake = errors.New("packet: short client handshake")

// ClientHello is the payload of a ClientHandshake packet:
//
//	u16 version | u8 key_length | key_bytes[key_length]
type ClientHello struct {
	Version uint16
	Key     string
}

// Marshal encodes the hello.
func (h ClientHello) Marshal() []byte {
	key := h.Key
	if len(key) > MaxKeyLength {
		key = key[:MaxKeyLength]
	}

	b := make([]byte, 3+len(key))
	binary.LittleEndian.PutUint16(b[0:2], h.Version)
	b[2] = byte(len(key))
	copy(b[3:], key)
	return b
}

// UnmarshalClientHello decodes a ClientHandshake payload. Every length is
// checked before it is used to index into b.
func UnmarshalClientHello(b []byte) (ClientHello, error) {
	if len(b) < 3 {
		return ClientHello{}, ErrShortHandshake
	}

	keyLength := int(b[2])
	if len(b) < 3+keyLength {
		return ClientHello{}, ErrShortHandshake
	}

	return ClientHello{
		Version: binary.LittleEndian.Uint16(b[0:2]),
		Key:     string(b[3 : 3+keyLength]),
	}, nil
}
