package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenariomarket/internal/events"
	"scenariomarket/internal/storage"
)

func TestDeadlineWorkerTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.createScenario(t, "Will it rain?")

	var warnings []events.Event
	h.bus.SubscribeFiltered(events.OfTypes(events.EmergencyWindow), func(e events.Event) { warnings = append(warnings, e) })

	w := NewDeadlineWorker(h.scenarios, h.bus, "", time.Minute)

	w.Tick(ctx)
	view, err := h.scenarios.GetScenario(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.ScenarioStatusOpen, view.Status)
	assert.Empty(t, warnings)

	h.clock.Set(t0.Add(150 * time.Second))
	w.Tick(ctx)
	view, err = h.scenarios.GetScenario(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.ScenarioStatusClosed, view.Status)
	require.Len(t, warnings, 1)
	assert.Equal(t, "false", warnings[0].Metadata["emergency"])
	assert.Equal(t, id, warnings[0].ScenarioID)

	// same stage is not repeated
	w.Tick(ctx)
	assert.Len(t, warnings, 1)

	h.clock.Set(t0.Add(250 * time.Second))
	w.Tick(ctx)
	require.Len(t, warnings, 2)
	assert.Equal(t, "true", warnings[1].Metadata["emergency"])

	assert.Equal(t, 1, w.trackedWarnings())

	require.NoError(t, h.scenarios.EmergencyResolve(ctx, ownerAddr, id, true))
	w.Tick(ctx)
	assert.Len(t, warnings, 2)
	assert.Zero(t, w.trackedWarnings())
}

func TestDeadlineWorkerRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	w := NewDeadlineWorker(h.scenarios, h.bus, "not a schedule", time.Minute)
	assert.Error(t, w.Start(context.Background()))
}

func TestDeadlineWorkerStartStop(t *testing.T) {
	h := newHarness(t)
	h.createScenario(t, "Will it rain?")
	h.clock.Set(t0.Add(150 * time.Second))

	w := NewDeadlineWorker(h.scenarios, h.bus, "@every 1h", time.Minute)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	// the immediate sweep ran before Start returned
	view, err := h.scenarios.GetScenario(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, storage.ScenarioStatusClosed, view.Status)
}
