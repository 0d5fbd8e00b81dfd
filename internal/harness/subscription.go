package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"obsim/internal/depth"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription is a live /ws stream of increments.
type Subscription struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	updates chan depth.Increment
	done    chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Subscribe opens the simulator's subscriber stream. The simulator keeps a
// single subscriber, so this evicts any other one.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	u, err := wsURL(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("ws url: %w", err)
	}
	d := websocket.Dialer{HandshakeTimeout: DefaultTimeout}
	conn, _, err := d.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	s := &Subscription{
		conn:    conn,
		logger:  c.logger,
		updates: make(chan depth.Increment, 256),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Updates is closed when the stream ends; Err then reports why.
func (s *Subscription) Updates() <-chan depth.Increment { return s.updates }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next waits for the next increment.
func (s *Subscription) Next(ctx context.Context) (depth.Increment, error) {
	select {
	case inc, ok := <-s.updates:
		if !ok {
			if err := s.Err(); err != nil {
				return depth.Increment{}, err
			}
			return depth.Increment{}, ErrSubscriptionClosed
		}
		return inc, nil
	case <-ctx.Done():
		return depth.Increment{}, ctx.Err()
	}
}

// Close asks the simulator to drop the subscriber and closes the socket.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) readLoop() {
	defer close(s.updates)
	s.conn.SetReadLimit(1 << 22)
	s.conn.SetPingHandler(func(data string) error {
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("ws read: %w", err))
			return
		}
		var m depth.IncrementMessage
		if err := json.Unmarshal(data, &m); err != nil || m.Topic == "" {
			s.logger.Debug("ignoring ws message", slog.Int("bytes", len(data)))
			continue
		}
		select {
		case s.updates <- m.Increment():
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		s.err = ErrSubscriptionClosed
	default:
		s.err = err
	}
}
