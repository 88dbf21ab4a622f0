package broadcast

const (
	readChunkSize      = 2048
	readGrowIncrement  = 8192
	writeGrowIncrement = 1024
)

// buffer is a byte buffer whose capacity grows in fixed increments. len(data)
// is the used length.
type buffer struct {
	data      []byte
	increment int
}

func newBuffer(increment int) buffer {
	return buffer{increment: increment}
}

func (b *buffer) Len() int {
	return len(b.data)
}

func (b *buffer) Bytes() []byte {
	return b.data
}

// reserve makes room for at least n more bytes.
func (b *buffer) reserve(n int) {
	free := cap(b.data) - len(b.data)
	if free >= n {
		return
	}

	newCap := cap(b.data)
	for newCap-len(b.data) < n {
		newCap += b.increment
	}

	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// readFrom calls read with exactly n bytes of free space and keeps what it
// filled.
func (b *buffer) readFrom(read func([]byte) (int, error), n int) (int, error) {
	b.reserve(n)
	used := len(b.data)
	m, err := read(b.data[used : used+n])
	if m > 0 {
		b.data = b.data[:used+m]
	}
	return m, err
}

// consume drops the first n bytes and moves the rest to the front.
func (b *buffer) consume(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
}

func (b *buffer) reset() {
	b.data = b.data[:0]
}
