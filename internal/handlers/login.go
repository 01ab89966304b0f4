package handlers

import (
	"errors"
	"net/http"
	"time"

	"scenariomarket/internal/auth"
	"scenariomarket/internal/logger"
)

// LoginRequest carries a wallet signature over auth.LoginMessage
type LoginRequest struct {
	Address   string `json:"address"`
	IssuedAt  int64  `json:"issued_at"`
	Signature string `json:"signature"`
}

// LoginResponse is the session token issued on login
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondBadBody(w, "", "login_invalid_body", err)
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		respondWithAppError(w, "", "login_invalid_address", err)
		return
	}

	token, expires, err := h.issuer.Login(addr, req.IssuedAt, req.Signature)
	if err != nil {
		logger.Debug(req.Address, "login_failed", "error="+err.Error())
		switch {
		case errors.Is(err, auth.ErrStaleLogin):
			respondWithError(w, "STALE_LOGIN", err.Error(), http.StatusUnauthorized)
		case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrAddressMismatch):
			respondWithError(w, "INVALID_SIGNATURE", err.Error(), http.StatusUnauthorized)
		default:
			respondWithError(w, "INTERNAL", "failed to issue token", http.StatusInternalServerError)
		}
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expires.Unix()})
}

// LoginMessage handles GET /api/auth/message?address=, returning the text to sign
func (h *Handler) LoginMessage(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.URL.Query().Get("address"))
	if err != nil {
		respondWithAppError(w, "", "login_message_invalid_address", err)
		return
	}
	issuedAt := time.Now().Unix()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   auth.LoginMessage(addr, issuedAt),
		"issued_at": issuedAt,
	})
}
