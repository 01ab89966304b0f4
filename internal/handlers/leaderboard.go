package handlers

import (
	"fmt"
	"net/http"

	"scenariomarket/internal/logger"
)

const defaultLeaderboardSize = 20

// HandleLeaderboard handles GET /api/leaderboard. The default-sized board
// comes from the read cache when present.
func (h *Handler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", defaultLeaderboardSize)
	if limit == 0 || limit > 100 {
		limit = defaultLeaderboardSize
	}

	if limit == defaultLeaderboardSize {
		cached, err := h.cache.ReadLeaderboard(ctx)
		if err != nil {
			logger.Warn(actorOf(r), "leaderboard_cache_read_failed", err.Error())
		}
		if cached != nil {
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	leaderboard, err := h.scenarios.Leaderboard(ctx, limit)
	if err != nil {
		respondWithAppError(w, actorOf(r), "leaderboard_error", err)
		return
	}
	if limit == defaultLeaderboardSize {
		if err := h.cache.WriteLeaderboard(ctx, leaderboard); err != nil {
			logger.Warn(actorOf(r), "leaderboard_cache_write_failed", err.Error())
		}
	}

	logger.Debug(actorOf(r), "leaderboard_success", fmt.Sprintf("count=%d", len(leaderboard)))
	respondJSON(w, http.StatusOK, leaderboard)
}
