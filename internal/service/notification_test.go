package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"scenariomarket/internal/events"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "string shorter than max",
			input:    "Hello",
			maxLen:   10,
			expected: "Hello",
		},
		{
			name:     "string equal to max",
			input:    "Hello",
			maxLen:   5,
			expected: "Hello",
		},
		{
			name:     "string longer than max",
			input:    "Hello World",
			maxLen:   8,
			expected: "Hello...",
		},
		{
			name:     "empty string",
			input:    "",
			maxLen:   10,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncateString(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{
			name:     "username format",
			input:    "@scenariomarket",
			expected: 0,
		},
		{
			name:     "supergroup format",
			input:    "-1001234567890",
			expected: -1001234567890,
		},
		{
			name:     "plain negative number",
			input:    "-123456789",
			expected: -123456789,
		},
		{
			name:     "plain positive number",
			input:    "123456789",
			expected: 123456789,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChannelID(tt.input)
			if result != tt.expected {
				t.Errorf("parseChannelID(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   uint64
		expected string
	}{
		{name: "zero", amount: 0, expected: "0.000000 USDC"},
		{name: "one unit", amount: 1, expected: "0.000001 USDC"},
		{name: "whole", amount: 50_000_000, expected: "50.000000 USDC"},
		{name: "fraction", amount: 1_234_567, expected: "1.234567 USDC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatAmount(tt.amount)
			if result != tt.expected {
				t.Errorf("FormatAmount(%d) = %q, want %q", tt.amount, result, tt.expected)
			}
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `100k\(yes\)`, EscapeMarkdown("100k(yes)"))
	assert.Equal(t, `1\.5 USDC\!`, EscapeMarkdown("1.5 USDC!"))
	assert.Equal(t, `a\_b\*c`, EscapeMarkdown("a_b*c"))
}

type sentMessage struct {
	to   telebot.Recipient
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentMessage{to: to, text: what.(string)})
	return &telebot.Message{}, nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func TestNotificationDelivery(t *testing.T) {
	yes := true

	t.Run("new scenario goes to the channel", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewNotificationService(sender, "@scenariomarket", 42, 10_000_000)
		n.deliver(events.Event{
			Type: events.ScenarioCreated, ScenarioID: 7, Message: "Will it rain?",
			Metadata: map[string]string{"category": "weather", "betting_deadline": "1767225600"},
		})

		sent := sender.messages()
		require.Len(t, sent, 1)
		assert.Equal(t, "@scenariomarket", sent[0].to.Recipient())
		assert.Contains(t, sent[0].text, `\#7`)
		assert.Contains(t, sent[0].text, `Will it rain?`)
		assert.Contains(t, sent[0].text, "2026\\-01\\-01 00:00 UTC")
	})

	t.Run("resolution announces the outcome", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewNotificationService(sender, "-1001234567890", 0, 0)
		n.deliver(events.Event{
			Type: events.ScenarioResolved, ScenarioID: 3, Outcome: &yes, Amount: 1_000_000,
			Message: "Will it rain?", Metadata: map[string]string{"resolution": "emergency"},
		})

		sent := sender.messages()
		require.Len(t, sent, 1)
		assert.Equal(t, "-1001234567890", sent[0].to.Recipient())
		assert.Contains(t, sent[0].text, "*YES*")
		assert.Contains(t, sent[0].text, "resolution deadline")
	})

	t.Run("only big wheel wins are broadcast", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewNotificationService(sender, "@scenariomarket", 0, 10_000_000)
		n.deliver(events.Event{Type: events.WheelSpun, Actor: "0x00000000000000000000000000000000000000a1", Amount: 500_000, Message: "Small Prize"})
		n.deliver(events.Event{Type: events.WheelSpun, Actor: "0x00000000000000000000000000000000000000a1", Amount: 50_000_000, Message: "Jackpot"})

		sent := sender.messages()
		require.Len(t, sent, 1)
		assert.Contains(t, sent[0].text, "Jackpot")
		assert.Contains(t, sent[0].text, "0x0000\\.\\.\\.00a1")
	})

	t.Run("emergency window alerts the admin chat", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewNotificationService(sender, "@scenariomarket", 42, 0)
		n.deliver(events.Event{Type: events.EmergencyWindow, ScenarioID: 5, Message: "deadline passed",
			Metadata: map[string]string{"title": "Will it rain?"}})

		sent := sender.messages()
		require.Len(t, sent, 1)
		assert.Equal(t, "42", sent[0].to.Recipient())
	})

	t.Run("unconfigured destinations are skipped", func(t *testing.T) {
		sender := &fakeSender{}
		n := NewNotificationService(sender, "", 0, 1)
		n.deliver(events.Event{Type: events.ScenarioCreated, ScenarioID: 1})
		n.deliver(events.Event{Type: events.EmergencyWindow, ScenarioID: 1})
		assert.Empty(t, sender.messages())
	})

	t.Run("send errors are swallowed", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("telegram down")}
		n := NewNotificationService(sender, "@scenariomarket", 42, 0)
		assert.NotPanics(t, func() {
			n.deliver(events.Event{Type: events.ScenarioCreated, ScenarioID: 1})
		})
	})
}

func TestNotificationServiceRunsFromBus(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotificationService(sender, "@scenariomarket", 0, 0)
	bus := events.NewBus(16)
	unsubscribe := n.Attach(bus)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx)
		close(done)
	}()

	bus.Publish(events.Event{Type: events.BetPlaced, ScenarioID: 1})
	bus.Publish(events.Event{Type: events.ScenarioCreated, ScenarioID: 1, Message: "Will it rain?"})

	assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
