// Package handlers exposes the scenario market and prize wheel over HTTP/JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"scenariomarket/internal/access"
	"scenariomarket/internal/apperr"
	"scenariomarket/internal/auth"
	"scenariomarket/internal/cache"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
)

const maxBodyBytes = 1 << 20

// BalanceReader reports token balances. Only the development vault has one.
type BalanceReader interface {
	Balance(addr common.Address) uint64
}

// Handler holds the collaborators every endpoint needs
type Handler struct {
	scenarios *service.ScenarioEngine
	wheel     *service.PrizeWheelEngine
	access    *access.Controller
	issuer    *auth.Issuer
	cache     *cache.RedisWriter
	balances  BalanceReader
}

// New creates a handler set. cache and balances may be nil.
func New(scenarios *service.ScenarioEngine, wheel *service.PrizeWheelEngine, acl *access.Controller, issuer *auth.Issuer, c *cache.RedisWriter, balances BalanceReader) *Handler {
	return &Handler{
		scenarios: scenarios,
		wheel:     wheel,
		access:    acl,
		issuer:    issuer,
		cache:     c,
		balances:  balances,
	}
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, code, message string, status int) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// statusFor maps an engine error kind to an HTTP status
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState:
		return http.StatusConflict
	case apperr.KindResource:
		return http.StatusUnprocessableEntity
	case apperr.KindExternalTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondWithAppError writes err with its code. Internal errors are logged
// and their text is not sent to the client.
func respondWithAppError(w http.ResponseWriter, actor, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(actor, action, err)
		respondWithError(w, "INTERNAL", "internal error", status)
		return
	}
	logger.Debug(actor, action, fmt.Sprintf("code=%s error=%s", apperr.CodeOf(err), err.Error()))
	respondWithError(w, string(apperr.CodeOf(err)), err.Error(), status)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

func respondBadBody(w http.ResponseWriter, actor, action string, err error) {
	logger.Debug(actor, action, "error="+err.Error())
	respondWithError(w, "INVALID_BODY", "Invalid request body", http.StatusBadRequest)
}

// caller returns the authenticated address. Routes using it sit behind
// auth.RequireAuth.
func caller(r *http.Request) common.Address {
	addr, _ := auth.GetAddressFromContext(r.Context())
	return addr
}

func actorOf(r *http.Request) string {
	addr, ok := auth.GetAddressFromContext(r.Context())
	if !ok {
		return ""
	}
	return access.Key(addr)
}

func scenarioIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid scenario id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, apperr.ErrInvalidAddress
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, apperr.ErrInvalidAddress
	}
	return addr, nil
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
