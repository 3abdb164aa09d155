package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsenet/pulsescan/internal/metrics"
	"github.com/pulsenet/pulsescan/internal/scan"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Ping interval; must stay below pongWait.
	pingPeriod = 54 * time.Second
	// Clients only send control frames.
	maxMessageSize = 512
	// Per-connection event buffer; slow readers miss events rather
	// than stalling the run.
	eventBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// handleEvents upgrades the connection and streams run events as JSON
// messages until the client disconnects or the run finishes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	s.logger.Info("Event stream connected", "remote_addr", r.RemoteAddr)
	metrics.Counter("websocket_connections_total", nil)

	events, unsubscribe := s.provider.Events().Subscribe(eventBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go s.readUntilClose(conn, closed)
	s.writeEvents(conn, events, closed)

	if err := conn.Close(); err != nil {
		s.logger.Debug("Event stream close", "error", err)
	}
	s.logger.Info("Event stream disconnected", "remote_addr", r.RemoteAddr)
}

// readUntilClose consumes control frames so pongs are processed and a
// client disconnect is noticed.
func (s *Server) readUntilClose(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
	}
}

// writeEvents pumps bus events to the peer, pinging on an interval.
// It returns when the subscription closes, the peer goes away, or a
// write fails.
func (s *Server) writeEvents(conn *websocket.Conn, events <-chan scan.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Event write failed", "error", err)
				return
			}
			metrics.Counter("websocket_messages_sent_total", metrics.Labels{"type": string(ev.Type)})

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}
