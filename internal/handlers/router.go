package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"scenariomarket/internal/auth"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/metrics"
)

// RouterOptions configures the HTTP surface around the handlers
type RouterOptions struct {
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics // nil disables /metrics and instrumentation
	Hub            *Hub             // nil disables /ws
	Health         Pinger
}

// NewRouter wires every endpoint
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	r.Use(auth.Middleware(h.issuer))
	if opts.RateLimitRPS > 0 {
		r.Use(NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).Handler)
	}

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	if opts.Hub != nil {
		r.Get("/ws", opts.Hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))

		r.Get("/api/ping", PingHandler)
		if opts.Health != nil {
			r.Get("/api/health", HealthHandler(opts.Health))
		}

		r.Get("/api/auth/message", h.LoginMessage)
		r.Post("/api/auth/login", h.Login)

		r.Route("/api/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/count", h.ScenarioCount)
			r.Get("/{id}", h.GetScenario)
			r.Get("/{id}/bets", h.ListScenarioBets)
			r.Get("/{id}/bets/{address}", h.GetUserBet)
			r.Get("/{id}/history", h.History)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/", h.CreateScenario)
				r.Post("/{id}/bets", h.PlaceBet)
				r.Post("/{id}/close", h.CloseBetting)
				r.Post("/{id}/resolve", h.ResolveScenario)
				r.Post("/{id}/emergency-resolve", h.EmergencyResolve)
				r.Post("/{id}/claim", h.ClaimWinnings)
				r.Post("/{id}/claim-fee", h.ClaimAdminFee)
			})
		})

		r.Get("/api/history", h.History)
		r.Get("/api/leaderboard", h.HandleLeaderboard)

		r.Route("/api/admins", func(r chi.Router) {
			r.Get("/", h.ListAdmins)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/", h.AddAdmin)
				r.Delete("/{address}", h.RemoveAdmin)
				r.Post("/transfer-ownership", h.TransferOwnership)
			})
		})

		r.Route("/api/wheel", func(r chi.Router) {
			r.Get("/", h.GetWheel)
			r.Get("/eligibility/{address}", h.Eligibility)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/spin", h.Spin)
				r.Post("/fund", h.FundPool)
				r.Post("/withdraw", h.WithdrawPool)
				r.Put("/tiers/{index}", h.UpdateTier)
				r.Post("/pause", h.Pause)
				r.Post("/unpause", h.Unpause)
				r.Post("/spin-cost", h.SetSpinCost)
				r.Post("/claim-fees", h.ClaimWheelFees)
			})
		})

		r.With(auth.RequireAuth).Get("/api/me", h.HandleMe)
	})

	return r
}

// requestLogger logs one debug line per request in the logger's action format
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("", "http_request", fmt.Sprintf("method=%s path=%s status=%d bytes=%d duration=%s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context())))
	})
}
