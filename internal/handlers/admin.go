package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenariomarket/internal/access"
	"scenariomarket/internal/logger"
)

// AdminRequest names the address an admin operation targets
type AdminRequest struct {
	Address string `json:"address"`
}

// AdminsResponse lists the owner and every admin
type AdminsResponse struct {
	Owner  string   `json:"owner"`
	Admins []string `json:"admins"`
}

// ListAdmins handles GET /api/admins
func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, err := h.access.Owner(ctx)
	if err != nil {
		respondWithAppError(w, actorOf(r), "admins_owner_failed", err)
		return
	}
	admins, err := h.access.AllAdmins(ctx)
	if err != nil {
		respondWithAppError(w, actorOf(r), "admins_list_failed", err)
		return
	}

	resp := AdminsResponse{Owner: access.Key(owner), Admins: make([]string, 0, len(admins))}
	for _, a := range admins {
		resp.Admins = append(resp.Admins, access.Key(a))
	}
	respondJSON(w, http.StatusOK, resp)
}

// AddAdmin handles POST /api/admins
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	var req AdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "admin_add_invalid_body", err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondWithAppError(w, actor, "admin_add_invalid_address", err)
		return
	}

	if err := h.access.AddAdmin(r.Context(), caller(r), addr); err != nil {
		respondWithAppError(w, actor, "admin_add_failed", err)
		return
	}
	logger.Debug(actor, "admin_add_success", "address="+access.Key(addr))
	h.ListAdmins(w, r)
}

// RemoveAdmin handles DELETE /api/admins/{address}
func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		respondWithAppError(w, actor, "admin_remove_invalid_address", err)
		return
	}

	if err := h.access.RemoveAdmin(r.Context(), caller(r), addr); err != nil {
		respondWithAppError(w, actor, "admin_remove_failed", err)
		return
	}
	logger.Debug(actor, "admin_remove_success", "address="+access.Key(addr))
	h.ListAdmins(w, r)
}

// TransferOwnership handles POST /api/admins/transfer-ownership
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	var req AdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, actor, "owner_transfer_invalid_body", err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondWithAppError(w, actor, "owner_transfer_invalid_address", err)
		return
	}

	if err := h.access.TransferOwnership(r.Context(), caller(r), addr); err != nil {
		respondWithAppError(w, actor, "owner_transfer_failed", err)
		return
	}
	logger.Info(actor, "owner_transfer_success", "new_owner="+access.Key(addr))
	h.ListAdmins(w, r)
}
