package broadcast

import (
	"bytes"
	"errors"
	"sync"

	bnet "github.com/carbonforge/broadcast/src/net"
)

var errBroken = errors.New("broken pipe")

// mockStream is a scripted Stream. Bytes queued with feed are returned by
// Read, one queued slice per call at most, and Read returns ErrWouldBlock when
// the queue is empty. Written bytes are collected in out, limited to accept
// bytes in total when accept >= 0.
type mockStream struct {
	mu       sync.Mutex
	in       [][]byte
	out      bytes.Buffer
	accept   int
	readErr  error
	writeErr error
	zeroRead bool
	closed   bool
	watch    func(bnet.Event)
}

func newMockStream() *mockStream {
	return &mockStream{accept: -1}
}

func (m *mockStream) feed(chunks ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range chunks {
		m.in = append(m.in, append([]byte(nil), c...))
	}
}

func (m *mockStream) written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]byte(nil), m.out.Bytes()...)
}

func (m *mockStream) resetWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.out.Reset()
}

func (m *mockStream) setAccept(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accept = n
}

func (m *mockStream) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *mockStream) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.zeroRead {
		return 0, nil
	}
	if len(m.in) == 0 {
		if m.readErr != nil {
			return 0, m.readErr
		}
		return 0, bnet.ErrWouldBlock
	}

	n := copy(p, m.in[0])
	if n == len(m.in[0]) {
		m.in = m.in[1:]
	} else {
		m.in[0] = m.in[0][n:]
	}
	return n, nil
}

func (m *mockStream) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return 0, m.writeErr
	}

	n := len(p)
	if m.accept >= 0 && n > m.accept {
		n = m.accept
	}
	m.out.Write(p[:n])
	if m.accept >= 0 {
		m.accept -= n
	}

	if n < len(p) {
		return n, bnet.ErrWouldBlock
	}
	return n, nil
}

func (m *mockStream) Watch(fn func(bnet.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watch = fn
}

func (m *mockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func (m *mockStream) LocalAddr() string  { return "mock-local" }
func (m *mockStream) RemoteAddr() string { return "mock-remote" }

// fakeHost records what a Connection reports.
type fakeHost struct {
	mu          sync.Mutex
	max         int
	creds       Credentials
	data        []DataEvent
	established []ConnectionEvent
}

func newFakeHost(creds Credentials) *fakeHost {
	return &fakeHost{max: 3145728, creds: creds}
}

func (h *fakeHost) maxPacketLength() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

func (h *fakeHost) credentials() Credentials {
	return h.creds
}

func (h *fakeHost) newDataPacket(e DataEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, e)
}

func (h *fakeHost) connectionEstablished(e ConnectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.established = append(h.established, e)
}
