package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true }, // local test rig
}

// wsSink adapts a websocket connection to sim.Sink.
type wsSink struct {
	id   string
	conn *websocket.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{id: uuid.NewString(), conn: conn, done: make(chan struct{})}
}

func (c *wsSink) ID() string { return c.id }

func (c *wsSink) Send(msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *wsSink) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (s *HTTPServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	c := newWSSink(conn)
	s.sim.Attach(c)
	go s.pingLoop(c)
	go s.readPump(c)
}

// readPump keeps the connection alive and detaches the subscriber when the
// peer goes away or sends "close".
func (s *HTTPServer) readPump(c *wsSink) {
	defer func() {
		if s.sim.Detach(c) {
			s.log.Info("subscriber left", slog.String("id", c.id))
		}
		_ = c.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt == websocket.TextMessage && string(msg) == "close" {
			return
		}
	}
}

func (s *HTTPServer) pingLoop(c *wsSink) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wmu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
