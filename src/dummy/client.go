package dummy

import (
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrRejected is returned by WaitReady when the hub dropped the connection
// without accepting the handshake, typically over a wrong key or version.
var ErrRejected = errors.New("rejected by hub")

const readyPoll = 20 * time.Millisecond

// Client is a chat participant connected to a Hub.
type Client struct {
	session  *broadcast.Session
	moniker  string
	messages chan Message
	ready    chan struct{}
	closed   chan struct{}
	logger   *logrus.Entry
}

// NewClient registers a chat client on session. Received messages are queued
// on a channel of the given capacity; when it is full new messages are
// dropped rather than stalling the session.
func NewClient(session *broadcast.Session, moniker string, capacity int, logger *logrus.Entry) *Client {
	c := &Client{
		session:  session,
		moniker:  moniker,
		messages: make(chan Message, capacity),
		ready:    make(chan struct{}, 1),
		closed:   make(chan struct{}, 1),
		logger:   logger.WithField("prefix", "chat"),
	}

	session.AddListener(c)

	return c
}

// Join connects the session to the hub at address.
func (c *Client) Join(dialer bnet.Dialer, address string, creds broadcast.Credentials) error {
	return c.session.Connect(dialer, address, creds)
}

// Say sends a line of text to the hub.
func (c *Client) Say(text string) error {
	m := NewMessage(c.moniker, text)

	data, err := m.Marshal()
	if err != nil {
		return err
	}

	return c.session.SendToServer(CommandChat, data)
}

// Messages returns the chat lines relayed by the hub.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Ready receives once the hub accepted the handshake.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the hub accepts the handshake. It consumes the Ready
// notification.
func (c *Client) WaitReady(timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	tick := time.NewTicker(readyPoll)
	defer tick.Stop()

	for {
		select {
		case <-c.ready:
			return nil
		case <-tick.C:
			// A rejected client is dropped without any event.
			if c.session.ConnectionCount() == 0 {
				select {
				case <-c.ready:
					return nil
				default:
				}
				return ErrRejected
			}
		case <-deadline.C:
			return errors.Errorf("no handshake from hub within %v", timeout)
		}
	}
}

// Closed receives once the connection to the hub is lost.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Leave disconnects from the hub.
func (c *Client) Leave() {
	c.session.Disconnect()
}

// OnNewDataPacket implements broadcast.Listener.
func (c *Client) OnNewDataPacket(e broadcast.DataEvent) {
	if e.Command != CommandChat {
		c.logger.WithField("command", e.Command).Debug("Ignoring packet")
		return
	}

	var m Message
	if err := m.Unmarshal(e.Payload); err != nil {
		c.logger.WithError(err).Debug("Malformed chat message")
		return
	}

	select {
	case c.messages <- m:
	default:
		c.logger.WithField("message", m.String()).Warn("Message queue full, dropping")
	}
}

// OnConnectionEstablished implements broadcast.Listener.
func (c *Client) OnConnectionEstablished(e broadcast.ConnectionEvent) {
	c.logger.Debug("Joined")
	notify(c.ready)
}

// OnConnectionClosed implements broadcast.Listener.
func (c *Client) OnConnectionClosed(e broadcast.ConnectionEvent) {
	c.logger.Debug("Left")
	notify(c.closed)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
