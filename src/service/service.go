package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/carbonforge/broadcast/src/broadcast"
	"github.com/carbonforge/broadcast/src/journal"
	"github.com/carbonforge/broadcast/src/version"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryLimit caps the number of records returned by /history.
const DefaultHistoryLimit = 100

// Service exposes the state of a session, and the journal of a relay hub if
// there is one, as a read-only JSON API.
type Service struct {
	sync.Mutex

	bindAddress string
	session     *broadcast.Session
	journal     journal.Journal
	mux         *http.ServeMux
	server      *http.Server
	shutdown    bool
	logger      *logrus.Entry
}

// NewService ... The journal may be nil.
func NewService(bindAddress string, s *broadcast.Session, j journal.Journal, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		session:     s,
		journal:     j,
		mux:         http.NewServeMux(),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the service's own mux, so
// that several services can run in one process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/connections", s.makeHandler(s.GetConnections))
	s.mux.HandleFunc("/record/", s.makeHandler(s.GetRecord))
	s.mux.HandleFunc("/history", s.makeHandler(s.GetHistory))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the API handler, for use with another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve binds the address and serves the API until Shutdown. This is a
// blocking call.
func (s *Service) Serve() error {
	listener, err := net.Listen("tcp", s.bindAddress)
	if err != nil {
		return errors.Wrapf(err, "binding %s", s.bindAddress)
	}

	s.Lock()
	if s.shutdown {
		s.Unlock()
		listener.Close()
		return nil
	}
	s.server = &http.Server{Handler: s.mux}
	server := s.server
	s.Unlock()

	s.logger.WithField("bind_address", listener.Addr().String()).Debug("Serving API")

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops a running Serve.
func (s *Service) Shutdown() error {
	s.Lock()
	s.shutdown = true
	server := s.server
	s.Unlock()

	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return server.Shutdown(ctx)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]string{
		"version":     version.Version,
		"started":     strconv.FormatBool(s.session.IsStarted()),
		"server":      strconv.FormatBool(s.session.IsServer()),
		"address":     s.session.HostAddress(),
		"connections": strconv.Itoa(s.session.ConnectionCount()),
		"max_packet":  strconv.Itoa(s.session.MaxPacketLength()),
	}

	if s.journal != nil {
		stats["last_index"] = strconv.FormatInt(s.journal.LastIndex(), 10)
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// GetConnections lists the registered connection IDs.
func (s *Service) GetConnections(w http.ResponseWriter, r *http.Request) {
	type connection struct {
		ID       uint32
		Remote   string
		Verified bool
	}

	res := []connection{}
	for _, id := range s.session.Connections() {
		c := s.session.Connection(id)
		if c == nil {
			continue
		}
		res = append(res, connection{
			ID:       id,
			Remote:   c.RemoteAddr(),
			Verified: c.IsVerified(),
		})
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetRecord ...
func (s *Service) GetRecord(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "no journal", http.StatusNotFound)
		return
	}

	param := r.URL.Path[len("/record/"):]

	index, err := strconv.ParseInt(param, 10, 64)

	if err != nil {
		s.logger.WithError(err).Errorf("Parsing index parameter %s", param)

		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	record, err := s.journal.Get(index)

	if err != nil {
		s.logger.WithError(err).Debugf("Retrieving record %d", index)

		status := http.StatusInternalServerError
		if journal.Is(err, journal.KeyNotFound) || journal.Is(err, journal.TooLate) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(record)
}

// GetHistory returns the last n records, n given by the query parameter of the
// same name.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "no journal", http.StatusNotFound)
		return
	}

	n := DefaultHistoryLimit
	if param := r.URL.Query().Get("n"); param != "" {
		v, err := strconv.Atoi(param)
		if err != nil || v < 0 {
			http.Error(w, "invalid n", http.StatusBadRequest)
			return
		}
		if v < n {
			n = v
		}
	}

	records, err := s.journal.Last(n)
	if err != nil {
		s.logger.WithError(err).Error("Retrieving history")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(records)
}
