package net

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultWebsocketPath is the URL path streams are upgraded on.
const DefaultWebsocketPath = "/broadcast"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readChunk,
	WriteBufferSize: readChunk,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketStreamLayer implements the StreamLayer interface on top of an HTTP
// server that upgrades requests on a single path. Every binary message is a
// slice of the byte stream; message boundaries carry no meaning.
type WebsocketStreamLayer struct {
	path     string
	window   int
	logger   *logrus.Entry
	listener net.Listener
	server   *http.Server

	acceptCh chan net.Conn
	closeCh  chan struct{}
	once     sync.Once
}

// NewWebsocketStreamLayer binds bindAddr and starts serving upgrades on path.
func NewWebsocketStreamLayer(bindAddr, path string, window int, logger *logrus.Entry) (*WebsocketStreamLayer, error) {
	if path == "" {
		path = DefaultWebsocketPath
	}
	if logger == nil {
		logger = newDefaultEntry()
	}

	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding %s", bindAddr)
	}

	w := &WebsocketStreamLayer{
		path:     path,
		window:   window,
		logger:   logger,
		listener: listener,
		acceptCh: make(chan net.Conn),
		closeCh:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, w.handleUpgrade)
	w.server = &http.Server{Handler: mux}

	go func() {
		if err := w.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			w.logger.WithError(err).Error("Websocket server stopped")
		}
	}()

	return w, nil
}

func (w *WebsocketStreamLayer) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	select {
	case w.acceptCh <- newWebsocketConn(ws):
	case <-w.closeCh:
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		ws.Close()
	}
}

// Accept implements the StreamLayer interface.
func (w *WebsocketStreamLayer) Accept() (Stream, error) {
	select {
	case conn := <-w.acceptCh:
		return NewStream(conn, w.window, w.logger), nil
	case <-w.closeCh:
		return nil, ErrLayerClosed
	}
}

// Dial implements the Dialer interface.
func (w *WebsocketStreamLayer) Dial(address string, timeout time.Duration) (Stream, error) {
	return WebsocketDialer{Path: w.path, Window: w.window, Logger: w.logger}.Dial(address, timeout)
}

// Close implements the StreamLayer interface. Hijacked connections are not
// tracked by the http server and stay open.
func (w *WebsocketStreamLayer) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.server.Close()
	})
	return err
}

// Addr implements the StreamLayer interface.
func (w *WebsocketStreamLayer) Addr() string {
	return w.listener.Addr().String()
}

// WebsocketDialer dials ws://address/path.
type WebsocketDialer struct {
	Path   string
	Window int
	Logger *logrus.Entry
}

// Dial implements the Dialer interface.
func (d WebsocketDialer) Dial(address string, timeout time.Duration) (Stream, error) {
	path := d.Path
	if path == "" {
		path = DefaultWebsocketPath
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		ReadBufferSize:   readChunk,
		WriteBufferSize:  readChunk,
	}

	url := "ws://" + address + path
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}

	logger := d.Logger
	if logger == nil {
		logger = newDefaultEntry()
	}

	return NewStream(newWebsocketConn(ws), d.Window, logger), nil
}

// websocketConn adapts a websocket connection to net.Conn.
type websocketConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{ws: ws}
}

// Read is only called from the stream reader goroutine.
func (c *websocketConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write is only called from the stream writer goroutine.
func (c *websocketConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close may be called from any goroutine; the websocket connection allows
// WriteControl and Close concurrently with a writer.
func (c *websocketConn) Close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(lingerTimeout))
	return c.ws.Close()
}

func (c *websocketConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *websocketConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

// The deadline setters share state with Write and are only called from the
// stream writer goroutine.
func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *websocketConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *websocketConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
