package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/access"
	"scenariomarket/internal/auth"
	"scenariomarket/internal/bot"
	"scenariomarket/internal/cache"
	"scenariomarket/internal/config"
	"scenariomarket/internal/events"
	"scenariomarket/internal/handlers"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/metrics"
	"scenariomarket/internal/rng"
	"scenariomarket/internal/service"
	"scenariomarket/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !common.IsHexAddress(cfg.Market.Owner) {
		log.Fatalf("market.owner must be a hex address, got %q", cfg.Market.Owner)
	}
	owner := common.HexToAddress(cfg.Market.Owner)

	// Initialize the ledger database
	log.Infof("Initializing %s ledger", cfg.Database.Driver)
	ledger, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer ledger.Close()
	if err := ledger.Seed(ctx, access.Key(owner), cfg.Wheel.SpinCost, service.DefaultPrizeTiers); err != nil {
		log.Fatalf("Failed to seed ledger: %v", err)
	}

	tokens, balances, err := openTokens(ctx, cfg.Token)
	if err != nil {
		log.Fatalf("Failed to set up token transfers: %v", err)
	}

	source, err := rng.NewSeedHashSource()
	if err != nil {
		log.Fatalf("Failed to seed randomness source: %v", err)
	}
	log.Infof("Prize wheel seed commitment: %s", source.Commitment())

	bus := events.NewBus(256)
	acl := access.NewController(ledger, bus)
	scenarios := service.NewScenarioEngine(ledger, tokens, bus, service.MarketParams{
		FeeBps: cfg.Market.FeeBps,
		MinBet: cfg.Market.MinBet,
		MaxBet: cfg.Market.MaxBet,
	})
	wheel := service.NewPrizeWheelEngine(ledger, tokens, source, bus, service.WheelParams{
		ExtraSpinCost: cfg.Wheel.ExtraSpinCost,
		BypassFeeBps:  cfg.Wheel.BypassFeeBps,
		Cooldown:      cfg.Wheel.Cooldown,
	})

	// Start deadline worker for closing expired scenarios and resolution reminders
	worker := service.NewDeadlineWorker(scenarios, bus, cfg.Worker.Schedule, cfg.Worker.WarnBefore)
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start deadline worker: %v", err)
	}
	defer worker.Stop()

	m := metrics.New()
	defer m.Attach(bus)()

	// Telegram is optional
	if cfg.Telegram.BotToken != "" {
		tb, err := bot.NewTelebot(cfg.Telegram.BotToken)
		if err != nil {
			log.Fatalf("Failed to start Telegram bot: %v", err)
		}
		notifier := service.NewNotificationService(tb, cfg.Telegram.ChannelID, cfg.Telegram.AdminChatID, cfg.Wheel.JackpotNotify)
		defer notifier.Attach(bus)()
		go notifier.Run(ctx)
		go bot.New(tb, scenarios, wheel, cfg.Telegram.WebAppURL).Run(ctx)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, bot and channel notifications disabled")
	}

	// Redis read cache is optional
	var writer *cache.RedisWriter
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Warnf("Redis unavailable, serving reads from the ledger: %v", err)
		} else {
			defer client.Close()
			writer = cache.NewRedisWriter(client, cfg.Redis.TTL)
			refresher := cache.NewRefresher(writer, scenarios, wheel)
			defer refresher.Attach(bus)()
			go refresher.Run(ctx)
		}
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("auth.jwt_secret not set, using a random secret; sessions will not survive a restart")
	}
	issuer := auth.NewIssuer(secret, cfg.Auth.TokenTTL, cfg.Auth.LoginMaxAge)

	hub := handlers.NewHub(bus, cfg.Server.CORSOrigins)
	defer hub.Attach(bus)()
	go hub.Run(ctx)

	h := handlers.New(scenarios, wheel, acl, issuer, writer, balances)
	router := handlers.NewRouter(h, handlers.RouterOptions{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Metrics:        m,
		Hub:            hub,
		Health:         ledger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-errChan:
		log.Errorf("Server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown: %v", err)
	}
	stop()
	log.Info("Shutdown complete")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
