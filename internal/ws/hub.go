// Package ws fans anomaly frames out to the websocket subscribers of one
// API replica. Cross-replica delivery happens upstream, on the broker's
// fanout exchange; the hub only owns local connections.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	obs "github.com/ozanyurt/airgrid/internal/core/observability"
	"github.com/ozanyurt/airgrid/internal/model"
)

const writeTimeout = 10 * time.Second

var ErrHubClosed = errors.New("ws: hub closed")

// Conn is the subset of *websocket.Conn the hub needs; tests substitute it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// subscriber serializes writes on one connection. Gorilla conns allow a
// single concurrent writer, and welcome/pong frames race broadcasts.
type subscriber struct {
	conn Conn
	mu   sync.Mutex
}

func (s *subscriber) write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[uint64]*subscriber)}
}

// Attach registers a connection and returns its id and the subscriber count
// after the attach.
func (h *Hub) Attach(conn Conn) (uint64, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, 0, ErrHubClosed
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{conn: conn}
	obs.IncWSSubscribers()
	return id, len(h.subs), nil
}

// Detach removes a subscriber and closes its connection. Detaching an
// unknown id is a no-op.
func (h *Hub) Detach(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	if ok {
		obs.DecWSSubscribers()
		_ = sub.conn.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Send writes one frame to one subscriber, serialized with any concurrent
// broadcast on the same connection.
func (h *Hub) Send(id uint64, f Frame) error {
	h.mu.Lock()
	sub := h.subs[id]
	h.mu.Unlock()
	if sub == nil {
		return fmt.Errorf("ws: subscriber %d not attached", id)
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ws: marshal %s frame: %w", f.Type, err)
	}
	return sub.write(payload)
}

// Broadcast fans one anomaly to every subscriber. The frame is marshaled
// once, the registry is snapshotted under the lock, and writes run
// concurrently; subscribers whose write fails are dropped after the wave.
// Returns the number of successful deliveries.
func (h *Hub) Broadcast(a model.Anomaly) int {
	payload, err := json.Marshal(NewAnomalyFrame(a))
	if err != nil {
		h.logger.Error("marshal broadcast frame", "error", err, "anomaly_id", a.ID)
		return 0
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	snapshot := make(map[uint64]*subscriber, len(h.subs))
	for id, s := range h.subs {
		snapshot[id] = s
	}
	h.mu.Unlock()

	if len(snapshot) == 0 {
		return 0
	}

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []uint64
	)
	for id, s := range snapshot {
		wg.Add(1)
		go func(id uint64, s *subscriber) {
			defer wg.Done()
			if err := s.write(payload); err != nil {
				failedMu.Lock()
				failed = append(failed, id)
				failedMu.Unlock()
			}
		}(id, s)
	}
	wg.Wait()

	for _, id := range failed {
		h.logger.Warn("dropping unresponsive subscriber", "subscriber", id)
		h.Detach(id)
	}
	obs.IncWSBroadcast("new_anomaly")
	return len(snapshot) - len(failed)
}

// Shutdown closes every connection and refuses further attaches.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = map[uint64]*subscriber{}
	h.mu.Unlock()

	closing := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range subs {
		s.mu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, closing)
		_ = s.conn.Close()
		s.mu.Unlock()
		obs.DecWSSubscribers()
	}
}
