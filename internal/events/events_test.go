package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNotifiesSubscribers(t *testing.T) {
	bus := NewBus(4)
	var got []Type
	unsubscribe := bus.Subscribe(func(e Event) { got = append(got, e.Type) })

	bus.Publish(Event{Type: ScenarioCreated, ScenarioID: 1})
	unsubscribe()
	bus.Publish(Event{Type: BetPlaced, ScenarioID: 1})

	assert.Equal(t, []Type{ScenarioCreated}, got)
}

func TestSubscribeFiltered(t *testing.T) {
	bus := NewBus(4)
	var got []Event
	bus.SubscribeFiltered(OfTypes(WheelSpun), func(e Event) { got = append(got, e) })

	bus.Publish(Event{Type: ScenarioCreated})
	bus.Publish(Event{Type: WheelSpun, Amount: 500_000})

	require.Len(t, got, 1)
	assert.Equal(t, uint64(500_000), got[0].Amount)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestRecentWrapsAround(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Event{Type: ScenarioCreated, ScenarioID: 1})
	bus.Publish(Event{Type: ScenarioCreated, ScenarioID: 2})
	bus.Publish(Event{Type: ScenarioCreated, ScenarioID: 3})

	recent := bus.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(3), recent[0].ScenarioID)
	assert.Equal(t, uint64(2), recent[1].ScenarioID)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: WheelPaused}) })
}
