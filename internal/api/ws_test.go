package api

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/internal/store/influx"
	"github.com/ozanyurt/airgrid/internal/ws"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/anomalies"
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readFrame(t *testing.T, client *websocket.Conn) ws.Frame {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f ws.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestWS_WelcomeReplayPongAndLiveBroadcast(t *testing.T) {
	now := time.Now().UTC()
	// Newest first, the way the store returns them.
	store := &fakeStore{anomalies: []model.Anomaly{
		{ID: "anomaly_2", Parameter: "pm25", Value: 320, Timestamp: now},
		{ID: "anomaly_1", Parameter: "no2", Value: 250, Timestamp: now.Add(-time.Hour)},
	}}
	hub := ws.NewHub(discard())
	s := New(Deps{Logger: discard(), Store: store, Publisher: &fakePublisher{}, Hub: hub})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := dialWS(t, srv)

	if f := readFrame(t, client); f.Type != "connection_status" || f.Status != "connected" {
		t.Fatalf("welcome=%+v", f)
	}
	if f := readFrame(t, client); f.Type != "recent_anomaly" || f.Payload == nil || f.Payload.ID != "anomaly_1" {
		t.Fatalf("first replay=%+v, want the oldest anomaly", f)
	}
	if f := readFrame(t, client); f.Type != "recent_anomaly" || f.Payload == nil || f.Payload.ID != "anomaly_2" {
		t.Fatalf("second replay=%+v", f)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, client); f.Type != "pong" || f.Message != "pong" {
		t.Fatalf("pong=%+v", f)
	}

	if delivered := hub.Broadcast(model.Anomaly{ID: "anomaly_live", Parameter: "pm10", Value: 500}); delivered != 1 {
		t.Fatalf("delivered=%d want 1", delivered)
	}
	if f := readFrame(t, client); f.Type != "new_anomaly" || f.Payload == nil || f.Payload.ID != "anomaly_live" {
		t.Fatalf("live frame=%+v", f)
	}
}

func TestWS_NonPingMessagesIgnored(t *testing.T) {
	hub := ws.NewHub(discard())
	s := New(Deps{Logger: discard(), Store: &fakeStore{}, Publisher: &fakePublisher{}, Hub: hub})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := dialWS(t, srv)
	if f := readFrame(t, client); f.Type != "connection_status" {
		t.Fatalf("welcome=%+v", f)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello?")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Only the ping gets an answer.
	if f := readFrame(t, client); f.Type != "pong" {
		t.Fatalf("frame=%+v want pong", f)
	}
}

func TestWS_ReplayFailureKeepsConnectionAlive(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("%w: flux timeout", influx.ErrUnavailable)}
	hub := ws.NewHub(discard())
	s := New(Deps{Logger: discard(), Store: store, Publisher: &fakePublisher{}, Hub: hub})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := dialWS(t, srv)
	if f := readFrame(t, client); f.Type != "connection_status" {
		t.Fatalf("welcome=%+v", f)
	}
	if err := client.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, client); f.Type != "pong" {
		t.Fatalf("frame=%+v, replay failure must not kill the socket", f)
	}
}

func TestWS_DisconnectDetaches(t *testing.T) {
	hub := ws.NewHub(discard())
	s := New(Deps{Logger: discard(), Store: &fakeStore{}, Publisher: &fakePublisher{}, Hub: hub})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := dialWS(t, srv)
	if f := readFrame(t, client); f.Type != "connection_status" {
		t.Fatalf("welcome=%+v", f)
	}
	if hub.Count() != 1 {
		t.Fatalf("count=%d want 1", hub.Count())
	}

	_ = client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("count=%d, subscriber not reaped after disconnect", hub.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
