package packet

import "encoding/binary"

// HeaderStatus is the outcome of TryReadHeader.
type HeaderStatus uint8

const (
	// Incomplete means fewer than HeaderSize bytes are available.
	Incomplete HeaderStatus = iota
	// NotFound means the buffer does not start with the signature. The
	// caller has to scan forward with FindSignature.
	NotFound
	// Found means a header was parsed.
	Found
	// TooLarge means the header is valid but its declared length does not
	// fit in an int on this platform. Such a packet can never be buffered.
	TooLarge
)

// maxInt is the largest value of int on this platform.
const maxInt = int(^uint(0) >> 1)

func (s HeaderStatus) String() string {
	switch s {
	case Incomplete:
		return "Incomplete"
	case NotFound:
		return "NotFound"
	case Found:
		return "Found"
	case TooLarge:
		return "TooLarge"
	}
	return "Unknown"
}

// HeaderResult carries the parsed header fields when Status is Found.
// TooLarge results carry Command and DataLength but no TotalLength.
type HeaderResult struct {
	Status      HeaderStatus
	Command     Command
	DataLength  uint32
	TotalLength int
}

// TryReadHeader inspects the first HeaderSize bytes of buf.
func TryReadHeader(buf []byte) HeaderResult {
	if len(buf) < HeaderSize {
		return HeaderResult{Status: Incomplete}
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != Signature {
		return HeaderResult{Status: NotFound}
	}

	cmd := Command(binary.LittleEndian.Uint16(buf[2:4]))
	dataLength := binary.LittleEndian.Uint32(buf[4:8])

	// on 32-bit platforms int(dataLength) can overflow
	if uint64(dataLength) > uint64(maxInt-HeaderSize) {
		return HeaderResult{Status: TooLarge, Command: cmd, DataLength: dataLength}
	}

	return HeaderResult{
		Status:      Found,
		Command:     cmd,
		DataLength:  dataLength,
		TotalLength: HeaderSize + int(dataLength),
	}
}

// FindSignature returns the offset of the first signature in buf, or -1.
func FindSignature(buf []byte) int {
	lo, hi := byte(Signature&0xFF), byte(Signature>>8)
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == lo && buf[i+1] == hi {
			return i
		}
	}
	return -1
}
