package journal

import (
	"bytes"
	"time"

	"github.com/carbonforge/broadcast/src/packet"
	"github.com/ugorji/go/codec"
)

// Record is one relayed packet.
type Record struct {
	Index        int64
	Timestamp    int64 // unix nanoseconds
	ConnectionID uint32
	Command      packet.Command
	Payload      []byte
}

// NewRecord stamps a packet received on connection id with the current time.
// The index is assigned by the journal.
func NewRecord(id uint32, cmd packet.Command, payload []byte) Record {
	return Record{
		Index:        -1,
		Timestamp:    time.Now().UnixNano(),
		ConnectionID: id,
		Command:      cmd,
		Payload:      payload,
	}
}

// Time returns the timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

func msgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.WriteExt = true
	return mh
}

// Marshal returns the msgpack encoding of the record.
func (r *Record) Marshal() ([]byte, error) {
	var b bytes.Buffer

	enc := codec.NewEncoder(&b, msgpackHandle())

	if err := enc.Encode(r); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes a record produced by Marshal.
func (r *Record) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)

	dec := codec.NewDecoder(b, msgpackHandle())

	return dec.Decode(r)
}
