package dummy

import (
	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/journal"
	bnet "github.com/carbonforge/broadcast/src/net"
	"github.com/carbonforge/broadcast/src/packet"
	"github.com/sirupsen/logrus"
)

// DefaultHistory is the number of relayed packets replayed to a new client.
const DefaultHistory = 32

// Hub is a relay server. Every user packet a verified client sends is appended
// to the journal and re-broadcast to all verified clients, the sender
// included. A client that completes its handshake is first sent the last
// history packets of the journal.
//
// All callbacks run on the session's reactor, so the journal order is the
// order in which clients receive the packets.
type Hub struct {
	session *broadcast.Session
	journal journal.Journal
	history int
	logger  *logrus.Entry
}

// NewHub registers a hub on session. A nil journal selects an InmemJournal
// sized for history.
func NewHub(session *broadcast.Session, j journal.Journal, history int, logger *logrus.Entry) *Hub {
	if history < 0 {
		history = 0
	}
	if j == nil {
		j = journal.NewInmemJournal(history)
	}

	h := &Hub{
		session: session,
		journal: j,
		history: history,
		logger:  logger.WithField("prefix", "hub"),
	}

	session.AddListener(h)

	return h
}

// Serve starts the session in server mode on layer.
func (h *Hub) Serve(layer bnet.StreamLayer, creds broadcast.Credentials) error {
	return h.session.Listen(layer, creds)
}

// Journal ...
func (h *Hub) Journal() journal.Journal {
	return h.journal
}

// Close stops the session and closes the journal.
func (h *Hub) Close() error {
	h.session.RemoveListener(h)
	h.session.Disconnect()
	return h.journal.Close()
}

// OnNewDataPacket implements broadcast.Listener.
func (h *Hub) OnNewDataPacket(e broadcast.DataEvent) {
	if e.Command < packet.User {
		h.logger.WithField("command", e.Command).Debug("Ignoring non-user packet")
		return
	}

	fields := logrus.Fields{
		"connection": e.ConnectionID,
		"command":    e.Command,
		"length":     len(e.Payload),
	}

	// The packet is relayed even when it cannot be journaled; it is only
	// missing from the history replayed to later clients.
	r, err := h.journal.Append(journal.NewRecord(e.ConnectionID, e.Command, e.Payload))
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Error("Appending to journal")
	} else {
		fields["index"] = r.Index
	}

	h.logger.WithFields(fields).Debug("Relay")

	if err := h.session.SendToAll(e.Command, e.Payload); err != nil {
		h.logger.WithError(err).Error("Relaying packet")
	}
}

// OnConnectionEstablished implements broadcast.Listener.
func (h *Hub) OnConnectionEstablished(e broadcast.ConnectionEvent) {
	if h.history == 0 {
		return
	}

	records, err := h.journal.Last(h.history)
	if err != nil {
		h.logger.WithError(err).Error("Reading journal")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"connection": e.ConnectionID,
		"records":    len(records),
	}).Debug("Replaying history")

	for _, r := range records {
		if err := h.session.Send(e.ConnectionID, r.Command, r.Payload); err != nil {
			h.logger.WithError(err).WithField("connection", e.ConnectionID).Debug("Replay stopped")
			return
		}
	}
}

// OnConnectionClosed implements broadcast.Listener.
func (h *Hub) OnConnectionClosed(e broadcast.ConnectionEvent) {
	h.logger.WithField("connection", e.ConnectionID).Debug("Client left")
}
