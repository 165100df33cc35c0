package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Inbound frames carry short JSON envelopes; anything bigger is abuse.
	maxMessageSize = 16 * 1024
)

// Session is the middleman between one WebSocket connection and the core.
// Its write side implements contract.EventSink: events are framed and pushed
// through a bounded channel, and a full channel drops the event rather than
// blocking the core (best-effort, at-most-once).
type Session struct {
	conn      *websocket.Conn
	identity  domain.Identity
	send      chan []byte
	log       *slog.Logger
	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(conn *websocket.Conn, identity domain.Identity, bufferSize int, log *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, bufferSize),
		log:      log.With("user_id", identity.ID),
		closed:   make(chan struct{}),
	}
}

// Consume frames the event and enqueues it for the write pump.
func (s *Session) Consume(ctx context.Context, e event.DomainEvent) error {
	frame, err := EncodeEvent(e)
	if err != nil {
		return err
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.closed:
		return fmt.Errorf("session closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("send buffer full, dropping %s", e.EventName())
	}
}

// Close tears the transport down with a reason the client can log. Safe to
// call more than once; later calls are no-ops.
func (s *Session) Close(reason string) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		_ = s.conn.Close()
	})
	return nil
}

// readPump reads frames from the connection and hands them to dispatch.
// There is at most one reader per connection; all reads happen here. When it
// returns the connection is gone and the handler runs its disconnect path.
func (s *Session) readPump(h *Handler) {
	defer func() {
		h.disconnect(s)
		_ = s.Close("")
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("Read failed", "err", err)
			}
			return
		}

		envelope, err := DecodeEnvelope(raw)
		if err != nil {
			s.log.Warn("Malformed frame dropped", "err", err)
			continue
		}
		h.dispatch(s, envelope)
	}
}

// writePump drains the send channel onto the connection and keeps the
// transport alive with periodic pings. One writer per connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Close("")
	}()

	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
