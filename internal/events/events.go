// Package events fans committed ledger changes out to notifiers, the
// websocket hub, metrics and the read cache.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type classifies an event
type Type string

const (
	ScenarioCreated  Type = "scenario.created"
	BetPlaced        Type = "scenario.bet_placed"
	BettingClosed    Type = "scenario.closed"
	ScenarioResolved Type = "scenario.resolved"
	WinningsClaimed  Type = "scenario.claimed"
	AdminFeeClaimed  Type = "scenario.fee_claimed"
	EmergencyWindow  Type = "scenario.emergency_window"
	AdminAdded       Type = "access.admin_added"
	AdminRemoved     Type = "access.admin_removed"
	OwnerTransferred Type = "access.owner_transferred"
	WheelSpun        Type = "wheel.spun"
	WheelFunded      Type = "wheel.funded"
	WheelWithdrawn   Type = "wheel.withdrawn"
	WheelTierUpdated Type = "wheel.tier_updated"
	WheelPaused      Type = "wheel.paused"
	WheelUnpaused    Type = "wheel.unpaused"
	WheelSpinCostSet Type = "wheel.spin_cost_set"
	WheelFeesClaimed Type = "wheel.fees_claimed"
)

// Event is a committed state change. Publishers fill only the fields that apply.
type Event struct {
	Type       Type              `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	ScenarioID uint64            `json:"scenario_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Amount     uint64            `json:"amount,omitempty"`
	Outcome    *bool             `json:"outcome,omitempty"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are published. Handlers run on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Filter decides whether a handler sees an event
type Filter func(Event) bool

// Bus is an in-process publish/subscribe hub that also keeps the most recent events
type Bus struct {
	mu       sync.RWMutex
	handlers []handlerEntry
	nextID   int64
	recent   []Event
	size     int
	head     int
	count    int
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewBus creates a bus remembering up to size recent events
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{recent: make([]Event, size), size: size}
}

// Publish records the event and notifies subscribers
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.recent[b.head] = e
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(e) {
			h.handler(e)
		}
	}
}

// Subscribe registers a handler for every event. The returned func unsubscribes.
func (b *Bus) Subscribe(h Handler) func() {
	return b.SubscribeFiltered(nil, h)
}

// SubscribeFiltered registers a handler for events passing filter
func (b *Bus) SubscribeFiltered(filter Filter, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, handlerEntry{id: id, filter: filter, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.handlers {
			if entry.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n of the latest events, newest first
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		out = append(out, b.recent[idx])
	}
	return out
}

// OfTypes builds a filter matching any of the given types
func OfTypes(types ...Type) Filter {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}
