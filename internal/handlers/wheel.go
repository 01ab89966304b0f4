package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
	"scenariomarket/internal/storage"
)

// WheelResponse is the public wheel state with its prize tiers
type WheelResponse struct {
	State *storage.WheelState `json:"state"`
	Tiers []service.TierView  `json:"tiers"`
	Cost  WheelCostsResponse  `json:"costs"`
}

// WheelCostsResponse lists what a spin costs in and out of the cooldown
type WheelCostsResponse struct {
	SpinCost      uint64 `json:"spin_cost"`
	ExtraSpinCost uint64 `json:"extra_spin_cost"`
	CooldownSecs  int64  `json:"cooldown_seconds"`
}

// AmountRequest carries a token amount
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// AmountResponse reports a token amount moved by an operation
type AmountResponse struct {
	Amount    uint64 `json:"amount"`
	PrizePool uint64 `json:"prize_pool,omitempty"`
}

// TierRequest replaces one prize tier
type TierRequest struct {
	Name        string `json:"name"`
	Amount      uint64 `json:"amount"`
	Probability uint64 `json:"probability"`
}

// SpinCostRequest sets the free-spin price
type SpinCostRequest struct {
	Cost uint64 `json:"cost"`
}

// GetWheel handles GET /api/wheel
func (h *Handler) GetWheel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, tiers, err := h.cache.ReadWheel(ctx)
	if err != nil {
		logger.Warn(actorOf(r), "wheel_cache_read_failed", err.Error())
	}
	if state == nil {
		if state, err = h.wheel.WheelState(ctx); err != nil {
			respondWithAppError(w, actorOf(r), "wheel_state_failed", err)
			return
		}
		if tiers, err = h.wheel.PrizeTiers(ctx); err != nil {
			respondWithAppError(w, actorOf(r), "wheel_tiers_failed", err)
			return
		}
		if err := h.cache.WriteWheel(ctx, state, tiers); err != nil {
			logger.Warn(actorOf(r), "wheel_cache_write_failed", err.Error())
		}
	}
	if state == nil {
		respondWithError(w, "NOT_INITIALIZED", "wheel is not initialized", http.StatusServiceUnavailable)
		return
	}

	params := h.wheel.Params()
	respondJSON(w, http.StatusOK, WheelResponse{
		State: state,
		Tiers: tiers,
		Cost: WheelCostsResponse{
			SpinCost:      state.SpinCost,
			ExtraSpinCost: params.ExtraSpinCost,
			CooldownSecs:  int64(params.Cooldown.Seconds()),
		},
	})
}

// Eligibility handles GET /api/wheel/eligibility/{address}
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		respondWithAppError(w, actorOf(r), "wheel_eligibility_invalid_address", err)
		return
	}
	elig, err := h.wheel.CanSpin(r.Context(), user)
	if err != nil {
		respondWithAppError(w, actorOf(r), "wheel_eligibility_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, elig)
}

// Spin handles POST /api/wheel/spin
func (h *Handler) Spin(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	result, err := h.wheel.Spin(r.Context(), caller(r))
	if err != nil {
		respondWithAppError(w, actor, "wheel_spin_failed", err)
		return
	}
	logger.Debug(actor, "wheel_spin_success", fmt.Sprintf("tier=%d prize=%d bypass=%t", result.TierIndex, result.PrizeAmount, result.Bypass))
	respondJSON(w, http.StatusOK, result)
}

// FundPool handles POST /api/wheel/fund
func (h *Handler) FundPool(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	var req AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "wheel_fund_invalid_body", err)
		return
	}
	pool, err := h.wheel.FundPrizePool(r.Context(), caller(r), req.Amount)
	if err != nil {
		respondWithAppError(w, actor, "wheel_fund_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, AmountResponse{Amount: req.Amount, PrizePool: pool})
}

// WithdrawPool handles POST /api/wheel/withdraw
func (h *Handler) WithdrawPool(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	var req AmountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "wheel_withdraw_invalid_body", err)
		return
	}
	pool, err := h.wheel.WithdrawPrizePool(r.Context(), caller(r), req.Amount)
	if err != nil {
		respondWithAppError(w, actor, "wheel_withdraw_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, AmountResponse{Amount: req.Amount, PrizePool: pool})
}

// UpdateTier handles PUT /api/wheel/tiers/{index}
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondWithError(w, "INVALID_INDEX", "tier index must be an integer", http.StatusBadRequest)
		return
	}
	var req TierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "wheel_tier_invalid_body", err)
		return
	}

	if err := h.wheel.UpdatePrizeTier(r.Context(), caller(r), index, req.Amount, req.Probability, req.Name); err != nil {
		respondWithAppError(w, actor, "wheel_tier_failed", err)
		return
	}
	tiers, err := h.wheel.PrizeTiers(r.Context())
	if err != nil {
		respondWithAppError(w, actor, "wheel_tiers_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, tiers)
}

// Pause handles POST /api/wheel/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Unpause handles POST /api/wheel/unpause
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var err error
	if paused {
		err = h.wheel.Pause(r.Context(), caller(r))
	} else {
		err = h.wheel.Unpause(r.Context(), caller(r))
	}
	if err != nil {
		respondWithAppError(w, actorOf(r), "wheel_pause_failed", err)
		return
	}
	h.respondWheelState(w, r)
}

// SetSpinCost handles POST /api/wheel/spin-cost
func (h *Handler) SetSpinCost(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	var req SpinCostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "wheel_spin_cost_invalid_body", err)
		return
	}
	if err := h.wheel.SetSpinCost(r.Context(), caller(r), req.Cost); err != nil {
		respondWithAppError(w, actor, "wheel_spin_cost_failed", err)
		return
	}
	h.respondWheelState(w, r)
}

// ClaimWheelFees handles POST /api/wheel/claim-fees
func (h *Handler) ClaimWheelFees(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	amount, err := h.wheel.ClaimWheelFees(r.Context(), caller(r))
	if err != nil {
		respondWithAppError(w, actor, "wheel_claim_fees_failed", err)
		return
	}
	logger.Debug(actor, "wheel_claim_fees_success", fmt.Sprintf("amount=%d", amount))
	respondJSON(w, http.StatusOK, AmountResponse{Amount: amount})
}

func (h *Handler) respondWheelState(w http.ResponseWriter, r *http.Request) {
	state, err := h.wheel.WheelState(r.Context())
	if err != nil {
		respondWithAppError(w, actorOf(r), "wheel_state_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}
