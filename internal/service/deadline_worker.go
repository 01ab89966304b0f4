package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"scenariomarket/internal/events"
	"scenariomarket/internal/logger"
)

// DefaultWorkerSchedule runs the deadline sweep every minute
const DefaultWorkerSchedule = "@every 1m"

type warnStage int

const (
	stageNone warnStage = iota
	stageClosing
	stageEmergency
)

// DeadlineWorker applies deadline-driven transitions in the background: it
// persists the implicit close once betting deadlines pass and warns admins
// about scenarios drifting into the emergency-resolution window.
type DeadlineWorker struct {
	engine     *ScenarioEngine
	bus        *events.Bus
	cron       *cron.Cron
	schedule   string
	warnBefore time.Duration

	mu     sync.Mutex
	warned map[uint64]warnStage
}

// NewDeadlineWorker creates a worker on a cron schedule such as "@every 1m"
func NewDeadlineWorker(engine *ScenarioEngine, bus *events.Bus, schedule string, warnBefore time.Duration) *DeadlineWorker {
	if schedule == "" {
		schedule = DefaultWorkerSchedule
	}
	return &DeadlineWorker{
		engine:     engine,
		bus:        bus,
		cron:       cron.New(),
		schedule:   schedule,
		warnBefore: warnBefore,
		warned:     make(map[uint64]warnStage),
	}
}

// Start runs one sweep immediately and then on schedule
func (w *DeadlineWorker) Start(ctx context.Context) error {
	logger.Info("", "deadline_worker_started", fmt.Sprintf("schedule=%s warn_before=%v", w.schedule, w.warnBefore))

	// Run immediately on start
	w.Tick(ctx)

	if _, err := w.cron.AddFunc(w.schedule, func() { w.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", w.schedule, err)
	}
	w.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (w *DeadlineWorker) Stop() {
	<-w.cron.Stop().Done()
	logger.Info("", "deadline_worker_stopped", "")
}

// trackedWarnings reports how many scenarios currently carry a warning stage
func (w *DeadlineWorker) trackedWarnings() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.warned)
}

// Tick performs one sweep
func (w *DeadlineWorker) Tick(ctx context.Context) {
	closed, err := w.engine.CloseExpired(ctx)
	if err != nil {
		logger.Error("", "deadline_worker_close_failed", err)
	} else if len(closed) > 0 {
		logger.Info("", "deadline_worker_closed_scenarios", fmt.Sprintf("count=%d ids=%v", len(closed), closed))
	}

	w.warnUnresolved(ctx)
}

// warnUnresolved publishes one warning per scenario per stage: when the
// resolution deadline is within warnBefore, and again once it has passed
func (w *DeadlineWorker) warnUnresolved(ctx context.Context) {
	now := w.engine.now()
	pending, err := w.engine.AwaitingResolution(ctx, now.Add(w.warnBefore))
	if err != nil {
		logger.Error("", "deadline_worker_query_failed", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// drop stages of scenarios that are no longer pending
	live := make(map[uint64]bool, len(pending))
	for _, sc := range pending {
		live[sc.ID] = true
	}
	for id := range w.warned {
		if !live[id] {
			delete(w.warned, id)
		}
	}

	for _, sc := range pending {
		stage := stageClosing
		if now.Unix() >= sc.ResolutionDeadline {
			stage = stageEmergency
		}
		if w.warned[sc.ID] >= stage {
			continue
		}
		w.warned[sc.ID] = stage

		msg := fmt.Sprintf("resolution window closes at %s", sc.ResolutionDeadlineTime().UTC().Format(time.RFC3339))
		if stage == stageEmergency {
			msg = "resolution deadline passed; only emergency resolution is possible"
		}
		logger.Warn("", "scenario_awaiting_resolution", fmt.Sprintf("scenario_id=%d stage=%d", sc.ID, stage))
		w.bus.Publish(events.Event{
			Type: events.EmergencyWindow, ScenarioID: sc.ID, Message: msg,
			Metadata: map[string]string{"title": sc.Title, "emergency": fmt.Sprint(stage == stageEmergency)},
		})
	}
}
