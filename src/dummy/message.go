package dummy

import (
	"bytes"
	"time"

	"github.com/carbonforge/broadcast/src/packet"
	"github.com/ugorji/go/codec"
)

// CommandChat is the packet command carrying a Message.
const CommandChat = packet.User

// Message is a chat line. It travels JSON encoded in CommandChat packets.
type Message struct {
	Moniker   string
	Text      string
	Timestamp int64
}

// NewMessage ...
func NewMessage(moniker, text string) Message {
	return Message{
		Moniker:   moniker,
		Text:      text,
		Timestamp: time.Now().UnixNano(),
	}
}

// Marshal returns the JSON encoding of the message.
func (m *Message) Marshal() ([]byte, error) {
	var b bytes.Buffer

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(&b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (m *Message) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)

	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(m)
}

func (m Message) String() string {
	if m.Moniker == "" {
		return m.Text
	}
	return m.Moniker + ": " + m.Text
}
