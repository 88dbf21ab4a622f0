package broadcast

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/carbonforge/broadcast/src/packet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds Connect when no WithDialTimeout option is given.
const DefaultDialTimeout = time.Second

// Credentials are what a client presents and a server checks during the
// handshake. A client announces MaxVersion; a server accepts any version in
// [MinVersion, MaxVersion].
type Credentials struct {
	Key        string
	MinVersion uint16
	MaxVersion uint16
}

// ClientCredentials returns the credentials of a client speaking version.
func ClientCredentials(key string, version uint16) Credentials {
	return Credentials{Key: key, MinVersion: version, MaxVersion: version}
}

// Option configures a Session.
type Option func(*Session)

// WithMaxPacketLength sets the initial maximum packet length. 0 means
// unlimited.
func WithMaxPacketLength(n int) Option {
	return func(s *Session) {
		s.maxPacket.Store(int64(n))
	}
}

// WithDialTimeout sets the timeout Connect passes to the Dialer.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.dialTimeout = d
	}
}

// QuietDial logs failed dials at debug level instead of error level, for
// callers that retry in a loop.
func QuietDial() Option {
	return func(s *Session) {
		s.quietDial = true
	}
}

// Session is the root of a broadcast node. Started with Listen it is a server
// that accepts many connections and broadcasts to them; started with Connect
// it is a client with a single connection to its server.
//
// A Session is an ordinary value: any number of them can run in one process.
// Disconnect returns it to the unstarted state, after which it can be started
// again in either role.
type Session struct {
	logger      *logrus.Entry
	dialTimeout time.Duration
	quietDial   bool
	maxPacket   atomic.Int64
	listeners   router

	// mu guards everything below. It is never held while listeners run.
	mu          sync.Mutex
	started     bool
	server      bool
	creds       Credentials
	hostAddress string
	layer       bnet.StreamLayer
	reactor     *reactor
	conns       map[uint32]*Connection
	nextID      uint32
	self        *Connection
}

// NewSession returns an unstarted session. A nil logger selects a default
// debug logger.
func NewSession(logger *logrus.Entry, opts ...Option) *Session {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	s := &Session{
		logger:      logger,
		dialTimeout: DefaultDialTimeout,
	}
	s.maxPacket.Store(packet.DefaultMaxPacketLength)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen starts the session in server mode, accepting streams from layer. The
// session owns the layer from now on and closes it on Disconnect.
func (s *Session) Listen(layer bnet.StreamLayer, creds Credentials) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	r := newReactor()

	s.started = true
	s.server = true
	s.creds = creds
	s.hostAddress = layer.Addr()
	s.layer = layer
	s.reactor = r
	s.conns = make(map[uint32]*Connection)
	s.nextID = 0
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address":     layer.Addr(),
		"min_version": creds.MinVersion,
		"max_version": creds.MaxVersion,
	}).Info("Listening")

	go r.run(s.handle)
	go s.acceptLoop(layer, r)

	return nil
}

// ListenTCP is Listen on a TCP layer bound to bindAddr.
func (s *Session) ListenTCP(bindAddr string, window int, creds Credentials) error {
	layer, err := bnet.NewTCPStreamLayer(bindAddr, window, s.logger)
	if err != nil {
		return err
	}
	if err := s.Listen(layer, creds); err != nil {
		layer.Close()
		return err
	}
	return nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func (s *Session) acceptLoop(layer bnet.StreamLayer, r *reactor) {
	var delay time.Duration

	for {
		stream, err := layer.Accept()
		if err != nil {
			if err == bnet.ErrLayerClosed || r.stopped() {
				return
			}

			// Back off so that a persistent failure, like running out of
			// file descriptors, does not spin.
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			s.logger.WithError(err).WithField("retry_in", delay).Error("Failed to accept connection")

			select {
			case <-time.After(delay):
			case <-r.done:
				return
			}
			continue
		}
		delay = 0

		s.mu.Lock()
		if s.reactor != r {
			// Disconnected while we were accepting.
			s.mu.Unlock()
			stream.Close()
			return
		}
		id := s.nextID
		s.nextID++
		c := newConnection(id, true, stream, s, s.logger)
		s.conns[id] = c
		s.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"connection": id,
			"remote":     stream.RemoteAddr(),
		}).Debug("Accepted connection")

		stream.Watch(r.watcher(c))

		if err := c.SendServerHandshake(); err != nil {
			s.DisconnectConnection(id)
		}
	}
}

// Connect starts the session in client mode by dialing address. The handshake
// runs in the background; ConnectionEstablished is raised once the server
// accepted the credentials.
func (s *Session) Connect(dialer bnet.Dialer, address string, creds Credentials) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	stream, err := dialer.Dial(address, s.dialTimeout)
	if err != nil {
		entry := s.logger.WithError(err).WithField("address", address)
		if s.quietDial {
			entry.Debug("Failed to connect")
		} else {
			entry.Error("Failed to connect")
		}
		return errors.Wrapf(err, "connecting to %s", address)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		stream.Close()
		return ErrAlreadyStarted
	}

	r := newReactor()
	c := newConnection(SelfID, false, stream, s, s.logger)

	s.started = true
	s.server = false
	s.creds = creds
	s.hostAddress = address
	s.layer = nil
	s.reactor = r
	s.conns = make(map[uint32]*Connection)
	s.self = c
	s.mu.Unlock()

	s.logger.WithField("address", address).Info("Connected")

	go r.run(s.handle)
	stream.Watch(r.watcher(c))

	return nil
}

// DialTCP is Connect over plain TCP.
func (s *Session) DialTCP(address string, window int, creds Credentials) error {
	return s.Connect(bnet.TCPDialer{Window: window, Logger: s.logger}, address, creds)
}

// handle runs on the reactor goroutine.
func (s *Session) handle(c *Connection, ev bnet.Event) {
	if c.closed.Load() {
		return
	}

	if ev.Has(bnet.Writable) {
		if err := c.Flush(); err != nil {
			s.drop(c)
			return
		}
	}

	if ev.Has(bnet.Readable) {
		err := c.readData()
		// After a hangup the stream holds an error that has to surface even
		// if the last read was short.
		for err == nil && ev.Has(bnet.Hangup) && !c.closed.Load() {
			err = c.readData()
		}
		if err != nil {
			s.drop(c)
		}
	}
}

// drop closes a connection that failed on the reactor.
func (s *Session) drop(c *Connection) {
	if c.id == SelfID && !c.server {
		s.mu.Lock()
		if s.self == c {
			s.self = nil
		}
		s.mu.Unlock()

		s.closeConnection(c)
		return
	}

	s.DisconnectConnection(c.id)
}

func (s *Session) closeConnection(c *Connection) {
	if c.close() {
		s.logger.WithField("connection", c.id).Debug("Connection closed")
		s.listeners.connectionClosed(ConnectionEvent{ConnectionID: c.id})
	}
}

// DisconnectConnection removes the connection from the registry, then closes
// it. In client mode SelfID closes the connection to the server. It reports
// whether the connection existed.
func (s *Session) DisconnectConnection(id uint32) bool {
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	} else if id == SelfID && s.self != nil {
		c, ok = s.self, true
		s.self = nil
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.closeConnection(c)
	return true
}

// Disconnect closes every connection, stops accepting and returns the session
// to the unstarted state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}

	conns := s.conns
	self := s.self
	layer := s.layer
	r := s.reactor

	s.started = false
	s.server = false
	s.hostAddress = ""
	s.layer = nil
	s.reactor = nil
	s.conns = nil
	s.self = nil
	s.mu.Unlock()

	r.stop()
	if layer != nil {
		if err := layer.Close(); err != nil {
			s.logger.WithError(err).Debug("Closing stream layer")
		}
	}

	for _, id := range sortedIDs(conns) {
		s.closeConnection(conns[id])
	}
	if self != nil {
		s.closeConnection(self)
	}

	s.logger.Info("Disconnected")
}

// Send sends a packet to one connection.
func (s *Session) Send(id uint32, cmd packet.Command, payload []byte) error {
	c := s.connection(id)
	if c == nil {
		return ErrDisconnected
	}
	return c.Send(cmd, payload)
}

// SendToAll sends a packet to every connection of a server session. Failures
// of single connections do not stop the others; a connection that failed is
// dropped when its stream reports the hangup. In client mode it returns
// ErrDisconnected.
func (s *Session) SendToAll(cmd packet.Command, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || !s.server {
		return ErrDisconnected
	}

	for _, c := range s.conns {
		if err := c.Send(cmd, payload); err != nil && err != ErrClientNotVerified {
			s.logger.WithError(err).WithField("connection", c.id).Debug("Broadcast send failed")
		}
	}
	return nil
}

// SendToServer sends a packet to the server of a client session. It returns
// ErrDisconnected in server mode or before the handshake completed.
func (s *Session) SendToServer(cmd packet.Command, payload []byte) error {
	s.mu.Lock()
	self := s.self
	s.mu.Unlock()

	if self == nil || !self.IsVerified() {
		return ErrDisconnected
	}
	return self.Send(cmd, payload)
}

// SendServerHandshake sends a ServerHandshake to connection id. Sessions do
// this on their own when they accept a connection; it returns
// ErrUnknownPacket in client mode.
func (s *Session) SendServerHandshake(id uint32) error {
	if !s.IsStarted() {
		return ErrNotStarted
	}
	if !s.IsServer() {
		return ErrUnknownPacket
	}
	c := s.connection(id)
	if c == nil {
		return ErrDisconnected
	}
	return c.SendServerHandshake()
}

// SendClientHandshake sends the client credentials to the server. Sessions
// do this on their own when the server opens the handshake; it returns
// ErrUnknownPacket in server mode.
func (s *Session) SendClientHandshake() error {
	if !s.IsStarted() {
		return ErrNotStarted
	}
	if s.IsServer() {
		return ErrUnknownPacket
	}
	c := s.connection(SelfID)
	if c == nil {
		return ErrDisconnected
	}
	return c.SendClientHandshake()
}

func (s *Session) connection(id uint32) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[id]; ok {
		return c
	}
	if id == SelfID && s.self != nil {
		return s.self
	}
	return nil
}

// Connection returns the connection with the given id, or nil.
func (s *Session) Connection(id uint32) *Connection {
	return s.connection(id)
}

// Connections returns the ids of the current connections in ascending order.
func (s *Session) Connections() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := sortedIDs(s.conns)
	if s.self != nil {
		ids = append(ids, SelfID)
	}
	return ids
}

// ConnectionCount returns the number of open connections.
func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.conns)
	if s.self != nil {
		n++
	}
	return n
}

// HostAddress returns the address a server listens on, or the address a
// client connected to.
func (s *Session) HostAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hostAddress
}

// IsServer reports whether the session was started with Listen.
func (s *Session) IsServer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started && s.server
}

// IsStarted reports whether Listen or Connect succeeded and Disconnect was not
// called since.
func (s *Session) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

// MaxPacketLength returns the largest packet, header included, a connection
// buffers. 0 means unlimited.
func (s *Session) MaxPacketLength() int {
	return int(s.maxPacket.Load())
}

// SetMaxPacketLength changes the limit for all connections, including those
// already open.
func (s *Session) SetMaxPacketLength(n int) {
	s.maxPacket.Store(int64(n))
}

// AddListener registers l. Adding the same listener twice has no effect.
func (s *Session) AddListener(l Listener) {
	s.listeners.add(l)
}

// RemoveListener unregisters l and reports whether it was registered.
func (s *Session) RemoveListener(l Listener) bool {
	return s.listeners.remove(l)
}

// host interface

func (s *Session) maxPacketLength() int {
	return s.MaxPacketLength()
}

func (s *Session) credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.creds
}

func (s *Session) newDataPacket(e DataEvent) {
	s.listeners.newDataPacket(e)
}

func (s *Session) connectionEstablished(e ConnectionEvent) {
	s.listeners.connectionEstablished(e)
}

func sortedIDs(conns map[uint32]*Connection) []uint32 {
	ids := make([]uint32, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
