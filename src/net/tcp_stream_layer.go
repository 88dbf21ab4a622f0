package net

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TCPStreamLayer implements StreamLayer interface for plain TCP.
type TCPStreamLayer struct {
	listener *net.TCPListener
	window   int
	logger   *logrus.Entry
}

// NewTCPStreamLayer binds bindAddr and returns a layer accepting TCP streams
// with the given send window.
func NewTCPStreamLayer(bindAddr string, window int, logger *logrus.Entry) (*TCPStreamLayer, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", bindAddr)
	}

	if logger == nil {
		logger = newDefaultEntry()
	}

	return &TCPStreamLayer{
		listener: list.(*net.TCPListener),
		window:   window,
		logger:   logger,
	}, nil
}

// Dial implements the Dialer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (Stream, error) {
	return TCPDialer{Window: t.window, Logger: t.logger}.Dial(address, timeout)
}

// Accept implements the StreamLayer interface.
func (t *TCPStreamLayer) Accept() (Stream, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		if isClosedErr(err) {
			return nil, ErrLayerClosed
		}
		return nil, err
	}

	setNoDelay(conn)

	return NewStream(conn, t.window, t.logger), nil
}

// Close implements the StreamLayer interface.
func (t *TCPStreamLayer) Close() (err error) {
	return t.listener.Close()
}

// Addr implements the StreamLayer interface.
func (t *TCPStreamLayer) Addr() string {
	return t.listener.Addr().String()
}

// TCPDialer dials plain TCP streams. It is what a client session uses when it
// has no StreamLayer of its own.
type TCPDialer struct {
	Window int
	Logger *logrus.Entry
}

// Dial implements the Dialer interface.
func (d TCPDialer) Dial(address string, timeout time.Duration) (Stream, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", address)
	}

	setNoDelay(conn)

	logger := d.Logger
	if logger == nil {
		logger = newDefaultEntry()
	}

	return NewStream(conn, d.Window, logger), nil
}

// Packets are small and latency matters more than throughput.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func newDefaultEntry() *logrus.Entry {
	log := logrus.New()
	log.Level = logrus.DebugLevel
	return logrus.NewEntry(log)
}
