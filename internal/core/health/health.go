// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const probeTimeout = 2 * time.Second

// Check probes one dependency. Probe returns nil when the dependency is
// reachable.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// Readiness runs every check concurrently and reports per-dependency detail.
// Any failing dependency turns the whole response into a 503.
func Readiness(checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies,omitempty"`
		}

		deps := make(map[string]string, len(checks))
		ready := true

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, c := range checks {
			wg.Add(1)
			go func(c Check) {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
				defer cancel()

				status := "ok"
				if err := c.Probe(ctx); err != nil {
					status = err.Error()
				}
				mu.Lock()
				deps[c.Name] = status
				if status != "ok" {
					ready = false
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		out := resp{Status: "ready", Dependencies: deps}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
