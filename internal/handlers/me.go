package handlers

import (
	"fmt"
	"net/http"

	"scenariomarket/internal/access"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
)

// MeResponse is the response for the /api/me endpoint
type MeResponse struct {
	Address     string                  `json:"address"`
	IsAdmin     bool                    `json:"is_admin"`
	IsOwner     bool                    `json:"is_owner"`
	Balance     *uint64                 `json:"balance,omitempty"`
	Bets        []service.BetView       `json:"bets"`
	Claimable   uint64                  `json:"claimable"`
	Eligibility service.SpinEligibility `json:"spin_eligibility"`
}

// HandleMe handles the GET /api/me endpoint
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me := caller(r)
	actor := access.Key(me)

	isAdmin, err := h.access.IsAdmin(ctx, me)
	if err != nil {
		respondWithAppError(w, actor, "me_admin_lookup_failed", err)
		return
	}
	owner, err := h.access.Owner(ctx)
	if err != nil {
		respondWithAppError(w, actor, "me_owner_lookup_failed", err)
		return
	}
	bets, err := h.scenarios.ListUserBets(ctx, me)
	if err != nil {
		respondWithAppError(w, actor, "me_bets_failed", err)
		return
	}
	elig, err := h.wheel.CanSpin(ctx, me)
	if err != nil {
		respondWithAppError(w, actor, "me_eligibility_failed", err)
		return
	}

	response := MeResponse{
		Address:     actor,
		IsAdmin:     isAdmin,
		IsOwner:     owner == me,
		Bets:        bets,
		Eligibility: elig,
	}
	for _, b := range bets {
		response.Claimable += b.Claimable
	}
	if h.balances != nil {
		balance := h.balances.Balance(me)
		response.Balance = &balance
	}

	logger.Debug(actor, "me_success", fmt.Sprintf("bets=%d claimable=%d", len(bets), response.Claimable))
	respondJSON(w, http.StatusOK, response)
}
