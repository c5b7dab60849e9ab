package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/water-monitor/internal/hub"
)

const (
	sendBuffer     = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxInboundSize = 512
)

var (
	errSessionClosed = errors.New("session closed")
	errSlowConsumer  = errors.New("session send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin may subscribe, matching the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// session is one WebSocket viewer registered with the hub.
type session struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Deliver implements hub.Subscriber. It never blocks.
func (s *session) Deliver(e hub.Event) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	msg, err := json.Marshal(e.Envelope())
	if err != nil {
		return err
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		// The viewer has missed an event; end the session so the client reconnects.
		s.close()
		return errSlowConsumer
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump writes queued events and keep-alive pings until the session closes.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and returns when the client goes away.
func (s *session) readPump() {
	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *API) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		a.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(conn)
	handle := a.subs.Subscribe(s)
	defer a.subs.Unsubscribe(handle)
	defer s.close()

	go s.writePump()
	s.readPump()
}
