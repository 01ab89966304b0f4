// Package cache keeps eventually consistent read snapshots of the ledger in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scenariomarket/internal/events"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
	"scenariomarket/internal/storage"
)

// TTL defaults
const (
	DefaultTTL     = 10 * time.Minute
	LeaderboardTTL = 5 * time.Minute
	leaderboardTop = 20
)

const (
	keyWheel       = "wheel:state"
	keyLeaderboard = "leaderboard:top"
)

func scenarioKey(id uint64) string {
	return fmt.Sprintf("scenario:%d:summary", id)
}

// RedisWriter reads and writes ledger snapshots
type RedisWriter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisWriter creates a writer. A nil client yields a disabled writer
// whose reads always miss and whose writes are no-ops.
func NewRedisWriter(client *redis.Client, ttl time.Duration) *RedisWriter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisWriter{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Enabled reports whether a client is configured
func (w *RedisWriter) Enabled() bool {
	return w != nil && w.client != nil
}

// WriteScenario stores a scenario view. Settled scenarios never change
// again apart from the fee flag, so they get twice the TTL.
func (w *RedisWriter) WriteScenario(ctx context.Context, view service.ScenarioView) error {
	if !w.Enabled() {
		return nil
	}
	ttl := w.ttl
	if view.IsResolved {
		ttl *= 2
	}
	return w.setJSON(ctx, scenarioKey(view.ID), view, ttl)
}

// WriteLeaderboard stores the current top entries
func (w *RedisWriter) WriteLeaderboard(ctx context.Context, entries []storage.LeaderboardEntry) error {
	if !w.Enabled() {
		return nil
	}
	return w.setJSON(ctx, keyLeaderboard, entries, LeaderboardTTL)
}

// WriteWheel stores the wheel balance sheet and tiers in one pipeline
func (w *RedisWriter) WriteWheel(ctx context.Context, state *storage.WheelState, tiers []service.TierView) error {
	if !w.Enabled() {
		return nil
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling wheel state: %w", err)
	}
	tierData, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("marshaling prize tiers: %w", err)
	}

	pipe := w.client.Pipeline()
	pipe.HSet(ctx, keyWheel, "state", stateData, "tiers", tierData)
	pipe.Expire(ctx, keyWheel, w.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateScenario drops a cached scenario
func (w *RedisWriter) InvalidateScenario(ctx context.Context, id uint64) error {
	if !w.Enabled() {
		return nil
	}
	return w.client.Del(ctx, scenarioKey(id)).Err()
}

// ReadScenario returns the cached view, or nil on a miss
func (w *RedisWriter) ReadScenario(ctx context.Context, id uint64) (*service.ScenarioView, error) {
	var view service.ScenarioView
	ok, err := w.getJSON(ctx, scenarioKey(id), &view)
	if err != nil || !ok {
		return nil, err
	}
	return &view, nil
}

// ReadLeaderboard returns the cached leaderboard, or nil on a miss
func (w *RedisWriter) ReadLeaderboard(ctx context.Context) ([]storage.LeaderboardEntry, error) {
	var entries []storage.LeaderboardEntry
	ok, err := w.getJSON(ctx, keyLeaderboard, &entries)
	if err != nil || !ok {
		return nil, err
	}
	return entries, nil
}

// ReadWheel returns the cached wheel state and tiers, or nil on a miss
func (w *RedisWriter) ReadWheel(ctx context.Context) (*storage.WheelState, []service.TierView, error) {
	if !w.Enabled() {
		return nil, nil, nil
	}
	fields, err := w.client.HGetAll(ctx, keyWheel).Result()
	if err != nil {
		return nil, nil, err
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}
	var state storage.WheelState
	if err := json.Unmarshal([]byte(fields["state"]), &state); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling wheel state: %w", err)
	}
	var tiers []service.TierView
	if err := json.Unmarshal([]byte(fields["tiers"]), &tiers); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling prize tiers: %w", err)
	}
	return &state, tiers, nil
}

func (w *RedisWriter) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return w.client.Set(ctx, key, data, ttl).Err()
}

func (w *RedisWriter) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !w.Enabled() {
		return false, nil
	}
	data, err := w.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return true, nil
}

// Refresher rewrites snapshots after ledger events
type Refresher struct {
	writer    *RedisWriter
	scenarios *service.ScenarioEngine
	wheel     *service.PrizeWheelEngine
	queue     chan events.Event
}

// NewRefresher creates a refresher feeding writer from the engines
func NewRefresher(writer *RedisWriter, scenarios *service.ScenarioEngine, wheel *service.PrizeWheelEngine) *Refresher {
	return &Refresher{
		writer:    writer,
		scenarios: scenarios,
		wheel:     wheel,
		queue:     make(chan events.Event, 256),
	}
}

// Attach subscribes to every event. Publishers never block on Redis.
func (r *Refresher) Attach(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.Event) {
		select {
		case r.queue <- e:
		default:
			logger.Warn("", "cache_refresh_dropped", fmt.Sprintf("type=%s", e.Type))
		}
	})
}

// Run applies queued refreshes until ctx is done
func (r *Refresher) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			if err := r.Refresh(ctx, e); err != nil {
				logger.Error("", "cache_refresh_failed", fmt.Errorf("type=%s: %w", e.Type, err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Refresh rewrites the snapshots an event touches
func (r *Refresher) Refresh(ctx context.Context, e events.Event) error {
	if !r.writer.Enabled() {
		return nil
	}

	if e.ScenarioID != 0 {
		view, err := r.scenarios.GetScenario(ctx, e.ScenarioID)
		if err != nil {
			return err
		}
		if err := r.writer.WriteScenario(ctx, view); err != nil {
			return err
		}
	}

	switch e.Type {
	case events.ScenarioResolved, events.WinningsClaimed:
		entries, err := r.scenarios.Leaderboard(ctx, leaderboardTop)
		if err != nil {
			return err
		}
		return r.writer.WriteLeaderboard(ctx, entries)
	case events.WheelSpun, events.WheelFunded, events.WheelWithdrawn, events.WheelTierUpdated,
		events.WheelPaused, events.WheelUnpaused, events.WheelSpinCostSet, events.WheelFeesClaimed:
		state, err := r.wheel.WheelState(ctx)
		if err != nil {
			return err
		}
		tiers, err := r.wheel.PrizeTiers(ctx)
		if err != nil {
			return err
		}
		return r.writer.WriteWheel(ctx, state, tiers)
	}
	return nil
}
