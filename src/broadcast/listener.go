package broadcast

import (
	"sync"

	"github.com/carbonforge/broadcast/src/packet"
)

// DataEvent is raised for every packet received on a verified connection.
type DataEvent struct {
	ConnectionID uint32
	Command      packet.Command
	Payload      []byte
}

// ConnectionEvent is raised when a connection completes or loses its
// handshake.
type ConnectionEvent struct {
	ConnectionID uint32
}

// Listener receives session events. Callbacks run on the session reactor
// goroutine: they may call back into the session but must not block for long,
// since no other connection is served meanwhile.
type Listener interface {
	OnNewDataPacket(e DataEvent)
	OnConnectionEstablished(e ConnectionEvent)
	OnConnectionClosed(e ConnectionEvent)
}

// ListenerFuncs adapts plain functions to the Listener interface. Nil fields
// are skipped.
type ListenerFuncs struct {
	NewDataPacket         func(DataEvent)
	ConnectionEstablished func(ConnectionEvent)
	ConnectionClosed      func(ConnectionEvent)
}

// OnNewDataPacket implements the Listener interface.
func (l *ListenerFuncs) OnNewDataPacket(e DataEvent) {
	if l.NewDataPacket != nil {
		l.NewDataPacket(e)
	}
}

// OnConnectionEstablished implements the Listener interface.
func (l *ListenerFuncs) OnConnectionEstablished(e ConnectionEvent) {
	if l.ConnectionEstablished != nil {
		l.ConnectionEstablished(e)
	}
}

// OnConnectionClosed implements the Listener interface.
func (l *ListenerFuncs) OnConnectionClosed(e ConnectionEvent) {
	if l.ConnectionClosed != nil {
		l.ConnectionClosed(e)
	}
}

// EventKind tells the events of a ChannelListener apart.
type EventKind uint8

const (
	NewDataPacket EventKind = iota
	ConnectionEstablished
	ConnectionClosed
)

func (k EventKind) String() string {
	switch k {
	case NewDataPacket:
		return "NewDataPacket"
	case ConnectionEstablished:
		return "ConnectionEstablished"
	case ConnectionClosed:
		return "ConnectionClosed"
	}
	return "Unknown"
}

// Event is the value delivered by a ChannelListener. Command and Payload are
// only set for NewDataPacket.
type Event struct {
	Kind         EventKind
	ConnectionID uint32
	Command      packet.Command
	Payload      []byte
}

// ChannelListener turns session events into values on a channel. When the
// channel is full the reactor waits for the consumer, so consumers have to
// keep draining it.
type ChannelListener struct {
	ch chan Event
}

// NewChannelListener returns a listener backed by a channel of the given
// capacity.
func NewChannelListener(capacity int) *ChannelListener {
	return &ChannelListener{ch: make(chan Event, capacity)}
}

// Events returns the channel events are delivered on.
func (l *ChannelListener) Events() <-chan Event {
	return l.ch
}

// OnNewDataPacket implements the Listener interface.
func (l *ChannelListener) OnNewDataPacket(e DataEvent) {
	l.ch <- Event{Kind: NewDataPacket, ConnectionID: e.ConnectionID, Command: e.Command, Payload: e.Payload}
}

// OnConnectionEstablished implements the Listener interface.
func (l *ChannelListener) OnConnectionEstablished(e ConnectionEvent) {
	l.ch <- Event{Kind: ConnectionEstablished, ConnectionID: e.ConnectionID}
}

// OnConnectionClosed implements the Listener interface.
func (l *ChannelListener) OnConnectionClosed(e ConnectionEvent) {
	l.ch <- Event{Kind: ConnectionClosed, ConnectionID: e.ConnectionID}
}

// router fans events out to the registered listeners. Dispatch works on a
// copy of the list so that listeners can register or unregister from inside a
// callback.
type router struct {
	mu        sync.Mutex
	listeners []Listener
}

func (r *router) add(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

func (r *router) remove(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *router) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Listener(nil), r.listeners...)
}

func (r *router) newDataPacket(e DataEvent) {
	for _, l := range r.snapshot() {
		l.OnNewDataPacket(e)
	}
}

func (r *router) connectionEstablished(e ConnectionEvent) {
	for _, l := range r.snapshot() {
		l.OnConnectionEstablished(e)
	}
}

func (r *router) connectionClosed(e ConnectionEvent) {
	for _, l := range r.snapshot() {
		l.OnConnectionClosed(e)
	}
}
