package net

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultSendWindow is the number of bytes a stream buffers for sending
	// before Write starts refusing with ErrWouldBlock.
	DefaultSendWindow = 65536

	readChunk     = 4096
	lingerTimeout = time.Second
)

// connStream turns a blocking net.Conn into a Stream. A reader goroutine pulls
// bytes into the inbound buffer and a writer goroutine drains the outbound
// buffer, so neither Read nor Write ever blocks the caller.
type connStream struct {
	conn   net.Conn
	window int
	logger *logrus.Entry

	mu       sync.Mutex
	cond     *sync.Cond
	inbound  []byte
	outbound []byte
	readErr  error
	writeErr error
	blocked  bool
	closed   bool
	watch    func(Event)

	// lingerAt is when a closed stream gives up sending. The writer applies
	// it as the write deadline; lingerTimer closes the connection if the
	// writer is stuck in a write that started before Close.
	lingerAt    time.Time
	lingerTimer *time.Timer
}

// NewStream wraps conn into a non-blocking Stream. window bounds both the
// unread inbound bytes and the unsent outbound bytes; a value <= 0 selects
// DefaultSendWindow.
func NewStream(conn net.Conn, window int, logger *logrus.Entry) Stream {
	if window <= 0 {
		window = DefaultSendWindow
	}
	if logger == nil {
		logger = newDefaultEntry()
	}

	s := &connStream{
		conn:   conn,
		window: window,
		logger: logger.WithField("remote", conn.RemoteAddr().String()),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.readLoop()
	go s.writeLoop()

	return s
}

func (s *connStream) notify(ev Event) {
	s.mu.Lock()
	fn := s.watch
	s.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (s *connStream) readLoop() {
	buf := make([]byte, readChunk)

	for {
		n, err := s.conn.Read(buf)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.inbound = append(s.inbound, buf[:n]...)
		}
		if err != nil {
			s.readErr = err
		}
		s.mu.Unlock()

		if err != nil {
			if err != io.EOF {
				s.logger.WithError(err).Debug("Stream read failed")
			}
			s.notify(Readable | Hangup)
			return
		}
		if n > 0 {
			s.notify(Readable)
		}

		// Stop pulling from the connection while the consumer lags behind.
		s.mu.Lock()
		for len(s.inbound) >= s.window && !s.closed {
			s.cond.Wait()
		}
		s.mu.Unlock()
	}
}

func (s *connStream) writeLoop() {
	var chunk []byte
	lingering := false

	defer s.stopLinger()

	for {
		s.mu.Lock()
		for len(s.outbound) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.outbound) == 0 {
			// closed and drained
			s.mu.Unlock()
			s.conn.Close()
			return
		}
		chunk, s.outbound = s.outbound, chunk[:0]
		deadline := s.lingerAt
		s.mu.Unlock()

		// Deadlines are only ever set from this goroutine; some net.Conn
		// implementations do not allow it concurrently with Write.
		if !lingering && !deadline.IsZero() {
			lingering = true
			s.conn.SetWriteDeadline(deadline)
		}

		_, err := s.conn.Write(chunk)

		s.mu.Lock()
		if err != nil {
			s.writeErr = err
			s.outbound = nil
			closed := s.closed
			s.mu.Unlock()

			s.conn.Close()
			if !closed {
				s.logger.WithError(err).Debug("Stream write failed")
				s.notify(Readable | Hangup)
			}
			return
		}
		wasBlocked := s.blocked
		s.blocked = false
		s.cond.Broadcast()
		s.mu.Unlock()

		if wasBlocked {
			s.notify(Writable)
		}
	}
}

// Read implements the Stream interface.
func (s *connStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.inbound) == 0 {
		if s.readErr != nil {
			return 0, s.readErr
		}
		if s.writeErr != nil {
			return 0, s.writeErr
		}
		return 0, ErrWouldBlock
	}

	n := copy(p, s.inbound)
	s.inbound = append(s.inbound[:0], s.inbound[n:]...)
	s.cond.Broadcast()

	return n, nil
}

// Write implements the Stream interface.
func (s *connStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.writeErr != nil {
		return 0, s.writeErr
	}

	free := s.window - len(s.outbound)
	if free <= 0 {
		s.blocked = true
		return 0, ErrWouldBlock
	}

	n := len(p)
	if n > free {
		n = free
	}
	s.outbound = append(s.outbound, p[:n]...)
	s.cond.Broadcast()

	if n < len(p) {
		s.blocked = true
		return n, ErrWouldBlock
	}
	return n, nil
}

// Watch implements the Stream interface.
func (s *connStream) Watch(fn func(Event)) {
	s.mu.Lock()
	s.watch = fn
	var pending Event
	if len(s.inbound) > 0 {
		pending |= Readable
	}
	if s.readErr != nil || s.writeErr != nil {
		pending |= Readable | Hangup
	}
	s.mu.Unlock()

	if fn != nil && pending != 0 {
		fn(pending)
	}
}

// Close implements the Stream interface. Bytes already accepted by Write are
// still sent, for at most lingerTimeout, before the connection is closed.
func (s *connStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watch = nil
	s.inbound = nil
	s.lingerAt = time.Now().Add(lingerTimeout)
	s.lingerTimer = time.AfterFunc(lingerTimeout, func() {
		// harmless when the writer already closed the connection
		s.conn.Close()
	})
	s.cond.Broadcast()
	s.mu.Unlock()

	return nil
}

func (s *connStream) stopLinger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lingerTimer != nil {
		s.lingerTimer.Stop()
	}
}

// LocalAddr implements the Stream interface.
func (s *connStream) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// RemoteAddr implements the Stream interface.
func (s *connStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
