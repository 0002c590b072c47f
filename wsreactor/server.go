// Package wsreactor is an example collaborator for the looper reactor:
// a WebSocket server built the way looper_websocket/src/lib.rs builds
// one over the Rust original, but delegating the wire framing to
// gorilla/websocket instead of hand-rolling it.
package wsreactor

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	looper "github.com/spersson/looper"
)

// Handler is the set of hooks a WebSocket server can customize,
// mirroring looper_websocket::WebSocketHandler's default-bodied trait
// methods. Embed BaseHandler to get the defaults (accept everything,
// no welcome message) without implementing every method.
type Handler interface {
	Acceptable(r *http.Request) bool
	WelcomeMessage() ([]byte, bool)
	HandleMessage(conn *Connection, messageType int, data []byte)
}

// BaseHandler supplies WebSocketHandler's default trait-method bodies
// in Go: accept every handshake, send no welcome message, and ignore
// incoming messages unless embedded and overridden.
type BaseHandler struct{}

func (BaseHandler) Acceptable(*http.Request) bool          { return true }
func (BaseHandler) WelcomeMessage() ([]byte, bool)         { return nil, false }
func (BaseHandler) HandleMessage(*Connection, int, []byte) {}

// Server owns a listening socket registered with the reactor and the
// set of live connections it has accepted, the Go restatement of
// looper_websocket::WebSocketServer.
type Server struct {
	core     *looper.Core
	listener net.Listener
	upgrader websocket.Upgrader
	handler  Handler

	selfID      looper.ObjectId
	connections map[looper.ObjectId]*Connection
}

// NewServer registers listener as a reader on core: each readable
// edge runs an accept loop until the listener reports no more
// pending connections, handshakes each one via gorilla/websocket, and
// registers the result as its own reader+writer object.
func NewServer(core *looper.Core, listener net.Listener, handler Handler) (*Server, error) {
	src, err := looper.NewListenerSource(listener)
	if err != nil {
		return nil, errors.Wrap(err, "wsreactor: listener source")
	}

	s := &Server{
		core:        core,
		listener:    listener,
		handler:     handler,
		connections: make(map[looper.ObjectId]*Connection),
	}

	id := looper.NextID(core)
	s.selfID = id
	looper.RegisterReader[Server](core, src, id, func(self *Server, c *looper.Core) {
		self.acceptAll()
	})
	looper.AddAt[Server](core, id, s)

	return s, nil
}

// acceptAll drains every pending connection on one readable edge,
// matching looper_websocket::WebSocketServer::read_all's loop-until-
// WouldBlock shape.
func (s *Server) acceptAll() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			return
		}
		s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn net.Conn) {
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		_ = conn.Close()
		return
	}
	if !s.handler.Acceptable(req) {
		_ = conn.Close()
		return
	}

	wsConn, err := upgradeServerConn(s.upgrader, conn)
	if err != nil {
		_ = conn.Close()
		return
	}

	id := looper.NextID(s.core)
	c := newConnection(s.core, s, wsConn, id)
	s.connections[id] = c
	c.register()

	if msg, ok := s.handler.WelcomeMessage(); ok {
		c.Send(websocket.TextMessage, msg)
	}
}

// Broadcast enqueues msg for delivery to every currently connected
// client; each connection's own write callback flushes it on the next
// writable edge, mirroring WebSocketServer::broadcast.
func (s *Server) Broadcast(messageType int, msg []byte) {
	for _, c := range s.connections {
		c.Send(messageType, msg)
	}
}

func (s *Server) removeConnection(id looper.ObjectId) {
	delete(s.connections, id)
}
