package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ozanyurt/airgrid/internal/broker"
	"github.com/ozanyurt/airgrid/internal/model"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.pub.PublishRaw(r.Context(), req); err != nil {
		s.logger.Error("raw publish failed", "err", err)
		if errors.Is(err, broker.ErrPublishFailed) || errors.Is(err, broker.ErrPoolClosed) {
			s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Reading accepted for processing",
	})
}

// handleTestBroadcast publishes a synthetic anomaly through the fanout
// exchange, exercising the same path real anomalies travel. Useful for
// verifying websocket delivery across replicas.
func (s *Server) handleTestBroadcast(w http.ResponseWriter, r *http.Request) {
	a := model.Anomaly{
		ID:          "anomaly_" + uuid.NewString(),
		Latitude:    41.01,
		Longitude:   28.98,
		Timestamp:   time.Now().UTC(),
		Parameter:   "pm25",
		Value:       300.5,
		Description: "Test anomaly broadcast",
	}

	if err := s.pub.PublishBroadcast(r.Context(), a); err != nil {
		s.logger.Error("test broadcast failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Test anomaly broadcast requested",
		"anomaly_id": a.ID,
	})
}
