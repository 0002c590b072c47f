package wsreactor

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	looper "github.com/spersson/looper"
)

// hijackWriter adapts a raw, already-accepted net.Conn into the
// http.ResponseWriter+http.Hijacker pair gorilla/websocket's Upgrader
// needs, so the handshake can run directly on a socket this package
// accepted itself rather than one owned by net/http's own server
// loop.
type hijackWriter struct {
	conn net.Conn
	buf  *bufio.ReadWriter
	hdr  http.Header
}

func newHijackWriter(conn net.Conn, buf *bufio.ReadWriter) *hijackWriter {
	return &hijackWriter{conn: conn, buf: buf, hdr: make(http.Header)}
}

func (h *hijackWriter) Header() http.Header         { return h.hdr }
func (h *hijackWriter) Write(b []byte) (int, error) { return h.buf.Write(b) }
func (h *hijackWriter) WriteHeader(int)             {}
func (h *hijackWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, h.buf, nil
}

// upgradeServerConn performs the WebSocket handshake directly on a
// raw accepted connection, the Go equivalent of
// tungstenite::server::accept in looper_websocket::WebSocketServer.
func upgradeServerConn(upgrader websocket.Upgrader, conn net.Conn) (*websocket.Conn, error) {
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, errors.Wrap(err, "wsreactor: read handshake request")
	}
	buf := bufio.NewReadWriter(br, bufio.NewWriter(conn))
	hw := newHijackWriter(conn, buf)
	wsConn, err := upgrader.Upgrade(hw, req, nil)
	if err != nil {
		return nil, errors.Wrap(err, "wsreactor: upgrade")
	}
	return wsConn, nil
}

// Connection is one accepted, handshaked WebSocket peer, registered
// as a reader+writer object bound to its own id, the Go restatement
// of looper_websocket::WebSocket<W>.
type Connection struct {
	core   *looper.Core
	server *Server
	conn   *websocket.Conn
	id     looper.ObjectId

	pending [][]byte
}

func newConnection(core *looper.Core, s *Server, wsConn *websocket.Conn, id looper.ObjectId) *Connection {
	return &Connection{core: core, server: s, conn: wsConn, id: id}
}

func (c *Connection) register() {
	src, err := looper.NewConnSource(c.conn.UnderlyingConn())
	if err != nil {
		c.closeWithError(err)
		return
	}
	looper.RegisterReaderWriter[Connection](c.core, src, c.id,
		func(self *Connection, core *looper.Core) { self.readAll() },
		func(self *Connection, core *looper.Core) { self.writePending() },
	)
	looper.AddAt[Connection](c.core, c.id, c)
}

// readAll drains every buffered message until the socket would block
// or errors, the same loop shape as WebSocket::read_all.
func (c *Connection) readAll() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) || isWouldBlock(err) {
				if isWouldBlock(err) {
					return
				}
			}
			c.closeWithError(err)
			return
		}
		c.server.handler.HandleMessage(c, messageType, data)
	}
}

// Send enqueues a message for this connection; it is flushed by
// writePending on the next writable edge rather than written
// synchronously, so a slow peer never blocks the reactor loop.
func (c *Connection) Send(messageType int, data []byte) {
	c.pending = append(c.pending, framed(messageType, data))
}

func framed(messageType int, data []byte) []byte {
	// messageType is folded into the first byte of the queued frame so
	// writePending can recover it without a parallel queue; 0 = text,
	// 1 = binary, matching websocket.TextMessage/BinaryMessage - 1.
	tag := byte(0)
	if messageType == websocket.BinaryMessage {
		tag = 1
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, tag)
	return append(out, data...)
}

func (c *Connection) writePending() {
	for len(c.pending) > 0 {
		frame := c.pending[0]
		messageType := websocket.TextMessage
		if frame[0] == 1 {
			messageType = websocket.BinaryMessage
		}
		if err := c.conn.WriteMessage(messageType, frame[1:]); err != nil {
			if isWouldBlock(err) {
				return
			}
			c.closeWithError(err)
			return
		}
		c.pending = c.pending[1:]
	}
}

func (c *Connection) closeWithError(err error) {
	_ = c.conn.Close()
	looper.Remove(c.core, c.id)
	c.server.removeConnection(c.id)
}

func isWouldBlock(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
