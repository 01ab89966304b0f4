package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scenariomarket/internal/access"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/storage"
)

// CreateScenarioRequest is the request body for creating a scenario.
// Deadlines are unix seconds.
type CreateScenarioRequest struct {
	Description        string `json:"description"`
	BettingDeadline    int64  `json:"betting_deadline"`
	ResolutionDeadline int64  `json:"resolution_deadline"`
}

// CreateScenarioResponse is the response for creating a scenario
type CreateScenarioResponse struct {
	ID uint64 `json:"id"`
}

// ResolveRequest is the request body for resolve and emergency-resolve
type ResolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// ClaimResponse reports the amount a claim transferred
type ClaimResponse struct {
	ScenarioID uint64 `json:"scenario_id"`
	Amount     uint64 `json:"amount"`
}

// CountResponse is the response for GET /api/scenarios/count
type CountResponse struct {
	Count uint64 `json:"count"`
}

// CreateScenario handles POST /api/scenarios
func (h *Handler) CreateScenario(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)

	var req CreateScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "scenario_create_invalid_body", err)
		return
	}

	id, err := h.scenarios.CreateScenario(r.Context(), caller(r), req.Description,
		time.Unix(req.BettingDeadline, 0), time.Unix(req.ResolutionDeadline, 0))
	if err != nil {
		respondWithAppError(w, actor, "scenario_create_failed", err)
		return
	}

	logger.Debug(actor, "scenario_create_success", fmt.Sprintf("scenario_id=%d", id))
	respondJSON(w, http.StatusCreated, CreateScenarioResponse{ID: id})
}

// ListScenarios handles GET /api/scenarios?status=&creator=&limit=&offset=
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ScenarioFilter{
		Status: storage.ScenarioStatus(strings.ToUpper(q.Get("status"))),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if creator := q.Get("creator"); creator != "" {
		addr, err := parseAddress(creator)
		if err != nil {
			respondWithAppError(w, actorOf(r), "scenario_list_invalid_creator", err)
			return
		}
		filter.Creator = access.Key(addr)
	}
	switch filter.Status {
	case "", storage.ScenarioStatusOpen, storage.ScenarioStatusClosed,
		storage.ScenarioStatusResolved, storage.ScenarioStatusFeeClaimed:
	default:
		respondWithError(w, "INVALID_STATUS", "status must be one of OPEN, CLOSED, RESOLVED, FEE_CLAIMED", http.StatusBadRequest)
		return
	}

	views, err := h.scenarios.ListScenarios(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, actorOf(r), "scenario_list_failed", err)
		return
	}

	logger.Debug(actorOf(r), "scenario_list_success", fmt.Sprintf("count=%d", len(views)))
	respondJSON(w, http.StatusOK, views)
}

// ScenarioCount handles GET /api/scenarios/count
func (h *Handler) ScenarioCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.scenarios.GetScenarioCount(r.Context())
	if err != nil {
		respondWithAppError(w, actorOf(r), "scenario_count_failed", err)
		return
	}
	respondJSON(w, http.StatusOK, CountResponse{Count: count})
}

// GetScenario handles GET /api/scenarios/{id}, serving from the read cache
// when it has the scenario
func (h *Handler) GetScenario(w http.ResponseWriter, r *http.Request) {
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	cached, err := h.cache.ReadScenario(ctx, id)
	if err != nil {
		logger.Warn(actorOf(r), "scenario_cache_read_failed", err.Error())
	}
	if cached != nil {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	view, err := h.scenarios.GetScenario(ctx, id)
	if err != nil {
		respondWithAppError(w, actorOf(r), "scenario_get_failed", err)
		return
	}
	if err := h.cache.WriteScenario(ctx, view); err != nil {
		logger.Warn(actorOf(r), "scenario_cache_write_failed", err.Error())
	}
	respondJSON(w, http.StatusOK, view)
}

// CloseBetting handles POST /api/scenarios/{id}/close
func (h *Handler) CloseBetting(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.scenarios.CloseBetting(r.Context(), caller(r), id); err != nil {
		respondWithAppError(w, actor, "scenario_close_failed", err)
		return
	}
	h.respondScenario(w, r, id, "scenario_close_success")
}

// ResolveScenario handles POST /api/scenarios/{id}/resolve
func (h *Handler) ResolveScenario(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, false)
}

// EmergencyResolve handles POST /api/scenarios/{id}/emergency-resolve
func (h *Handler) EmergencyResolve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, true)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, emergency bool) {
	actor := actorOf(r)
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	var req ResolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "scenario_resolve_invalid_body", err)
		return
	}
	if req.Outcome == nil {
		respondWithError(w, "INVALID_BODY", "outcome is required", http.StatusBadRequest)
		return
	}

	if emergency {
		err = h.scenarios.EmergencyResolve(r.Context(), caller(r), id, *req.Outcome)
	} else {
		err = h.scenarios.ResolveScenario(r.Context(), caller(r), id, *req.Outcome)
	}
	if err != nil {
		respondWithAppError(w, actor, "scenario_resolve_failed", err)
		return
	}
	h.respondScenario(w, r, id, "scenario_resolve_success")
}

// ClaimWinnings handles POST /api/scenarios/{id}/claim
func (h *Handler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	amount, err := h.scenarios.ClaimWinnings(r.Context(), caller(r), id)
	if err != nil {
		respondWithAppError(w, actor, "claim_winnings_failed", err)
		return
	}

	logger.Debug(actor, "claim_winnings_success", fmt.Sprintf("scenario_id=%d amount=%d", id, amount))
	respondJSON(w, http.StatusOK, ClaimResponse{ScenarioID: id, Amount: amount})
}

// ClaimAdminFee handles POST /api/scenarios/{id}/claim-fee
func (h *Handler) ClaimAdminFee(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	id, err := scenarioIDParam(r)
	if err != nil {
		respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
		return
	}

	amount, err := h.scenarios.ClaimAdminFee(r.Context(), caller(r), id)
	if err != nil {
		respondWithAppError(w, actor, "claim_fee_failed", err)
		return
	}

	logger.Debug(actor, "claim_fee_success", fmt.Sprintf("scenario_id=%d amount=%d", id, amount))
	respondJSON(w, http.StatusOK, ClaimResponse{ScenarioID: id, Amount: amount})
}

// History handles GET /api/scenarios/{id}/history and GET /api/history
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	var id uint64
	if chi.URLParam(r, "id") != "" {
		parsed, err := scenarioIDParam(r)
		if err != nil {
			respondWithError(w, "INVALID_ID", err.Error(), http.StatusBadRequest)
			return
		}
		id = parsed
	}

	entries, err := h.scenarios.History(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		respondWithAppError(w, actorOf(r), "history_failed", err)
		return
	}

	logger.Debug(actorOf(r), "history_success", fmt.Sprintf("scenario_id=%d count=%d", id, len(entries)))
	respondJSON(w, http.StatusOK, entries)
}

// respondScenario writes the post-operation view of a scenario
func (h *Handler) respondScenario(w http.ResponseWriter, r *http.Request, id uint64, action string) {
	view, err := h.scenarios.GetScenario(r.Context(), id)
	if err != nil {
		respondWithAppError(w, actorOf(r), action, err)
		return
	}
	logger.Debug(actorOf(r), action, fmt.Sprintf("scenario_id=%d status=%s", id, view.Status))
	respondJSON(w, http.StatusOK, view)
}
