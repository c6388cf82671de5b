package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ozanyurt/airgrid/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS upgrades the connection, replays the last day of anomalies and
// then answers ping frames until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	id, count, err := s.hub.Attach(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.logger.Info("websocket subscriber attached", "subscriber_id", id, "subscribers", count)

	if err := s.hub.Send(id, ws.ConnectedFrame()); err != nil {
		s.hub.Detach(id)
		return
	}
	s.replayRecent(r, id)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "subscriber_id", id, "err", err)
			}
			break
		}
		if mt == websocket.TextMessage && string(msg) == "ping" {
			if err := s.hub.Send(id, ws.PongFrame()); err != nil {
				break
			}
		}
	}

	s.hub.Detach(id)
	s.logger.Info("websocket subscriber detached", "subscriber_id", id)
}

// replayRecent pushes the last 24 h of anomalies oldest first so a fresh
// client paints history in arrival order.
func (s *Server) replayRecent(r *http.Request, id uint64) {
	anomalies, err := s.store.QueryAnomalies(r.Context(), nil, nil)
	if err != nil {
		s.logger.Warn("anomaly replay failed", "err", err)
		return
	}
	// The store returns newest first.
	for i := len(anomalies) - 1; i >= 0; i-- {
		if err := s.hub.Send(id, ws.RecentAnomalyFrame(anomalies[i])); err != nil {
			return
		}
	}
}
