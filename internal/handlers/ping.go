package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// PingResponse is the response for the ping endpoint
type PingResponse struct {
	Status string `json:"status"`
}

// PingHandler handles the /api/ping endpoint
func PingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := PingResponse{
		Status: "ok",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// Pinger is anything whose liveness the health check reports
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports ledger reachability on /api/health
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "ledger": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "ledger": "ok"})
	}
}
