package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenariomarket/internal/logger"
)

// PlaceBetRequest is the request body for placing a bet
type PlaceBetRequest struct {
	Amount uint64 `json:"amount"`
	Choice *bool  `json:"choice"` // true = YES
}

// PlaceBetResponse is the response after placing a bet
type PlaceBetResponse struct {
	ScenarioID uint64 `json:"scenario_id"`
	Amount     uint64 `json:"amount"`
	Choice     bool   `json:"choice"`
	TotalPool  uint64 `json:"total_pool"`
	YesPool    uint64 `json:"yes_pool"`
	NoPool     uint64 `json:"no_pool"`
}

// PlaceBet handles POST /api/scenarios/{id}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	var req PlaceBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "bet_invalid_body", err)
		return
	}
	if req.Choice == nil {
		respondWithError(w, "INVALID_BODY", "choice is required", http.StatusBadRequest)
		return
	}

	bet, err := h.scenarios.PlaceBet(r.Context(), caller(r), id, req.Amount, *req.Choice)
	if err != nil {
		respondWithAppError(w, actor, "bet_failed", err)
		return
	}

	view, err := h.scenarios.GetScenario(r.Context(), id)
	if err != nil {
		respondWithAppError(w, actor, "bet_pool_lookup_failed", err)
		return
	}

	logger.Debug(actor, "bet_success", fmt.Sprintf("scenario_id=%d amount=%d choice=%t", id, bet.Amount, bet.Choice))
	respondJSON(w, http.StatusCreated, PlaceBetResponse{
		ScenarioID: id,
		Amount:     bet.Amount,
		Choice:     bet.Choice,
		TotalPool:  view.TotalPool,
		YesPool:    view.YesPool,
		NoPool:     view.NoPool,
	})
}

// ListScenarioBets handles GET /api/scenarios/{id}/bets
func (h *Handler) ListScenarioBets(w http.ResponseWriter, r *http.Request) {
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}
	// 404 for unknown scenarios rather than an empty list
	if _, err := h.scenarios.GetScenario(r.Context(), id); err != nil {
		respondWithAppError(w, actorOf(r), "scenario_bets_failed", err)
		return
	}

	bets, err := h.scenarios.ListScenarioBets(r.Context(), id)
	if err != nil {
		respondWithAppError(w, actorOf(r), "scenario_bets_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, bets)
}

// GetUserBet handles GET /api/scenarios/{id}/bets/{address}
func (h *Handler) GetUserBet(w http.ResponseWriter, r *http.Request) {
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}
	user, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		respondWithAppError(w, actorOf(r), "user_bet_invalid_address", err)
		return
	}

	bet, err := h.scenarios.GetUserBet(r.Context(), user, id)
	if err != nil {
		respondWithAppError(w, actorOf(r), "user_bet_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, bet)
}
