package net

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

type inmemAddr string

func (a inmemAddr) Network() string { return "inmem" }
func (a inmemAddr) String() string  { return string(a) }

// pipeConn gives each end of a net.Pipe a meaningful address.
type pipeConn struct {
	net.Conn
	local, remote inmemAddr
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

// InmemStreamLayer implements the StreamLayer interface over net.Pipe, to
// allow sessions to be tested in-memory without going over a network.
type InmemStreamLayer struct {
	addr   string
	window int
	logger *logrus.Entry

	acceptCh chan net.Conn
	closeCh  chan struct{}
	once     sync.Once
	dials    uint64
}

// NewInmemStreamLayer returns a layer accepting on addr, generating a random
// address if none is specified.
func NewInmemStreamLayer(addr string, window int, logger *logrus.Entry) *InmemStreamLayer {
	if addr == "" {
		addr = NewInmemAddr()
	}
	if logger == nil {
		logger = newDefaultEntry()
	}
	return &InmemStreamLayer{
		addr:     addr,
		window:   window,
		logger:   logger,
		acceptCh: make(chan net.Conn),
		closeCh:  make(chan struct{}),
	}
}

// Dial implements the Dialer interface. Only the layer's own address can be
// dialed.
func (i *InmemStreamLayer) Dial(address string, timeout time.Duration) (Stream, error) {
	if address != i.addr {
		return nil, errors.Errorf("no in-memory listener at %s", address)
	}

	id := atomic.AddUint64(&i.dials, 1)
	clientAddr := inmemAddr(fmt.Sprintf("%s#%d", i.addr, id))

	client, server := net.Pipe()
	clientEnd := &pipeConn{Conn: client, local: clientAddr, remote: inmemAddr(i.addr)}
	serverEnd := &pipeConn{Conn: server, local: inmemAddr(i.addr), remote: clientAddr}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case i.acceptCh <- serverEnd:
	case <-i.closeCh:
		client.Close()
		server.Close()
		return nil, ErrLayerClosed
	case <-timeoutCh:
		client.Close()
		server.Close()
		return nil, errors.Errorf("dialing %s: timed out after %v", address, timeout)
	}

	return NewStream(clientEnd, i.window, i.logger), nil
}

// Accept implements the StreamLayer interface.
func (i *InmemStreamLayer) Accept() (Stream, error) {
	select {
	case conn := <-i.acceptCh:
		return NewStream(conn, i.window, i.logger), nil
	case <-i.closeCh:
		return nil, ErrLayerClosed
	}
}

// Close implements the StreamLayer interface.
func (i *InmemStreamLayer) Close() error {
	i.once.Do(func() { close(i.closeCh) })
	return nil
}

// Addr implements the StreamLayer interface.
func (i *InmemStreamLayer) Addr() string {
	return i.addr
}
