package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v3"

	"scenariomarket/internal/events"
	"scenariomarket/internal/logger"
)

// TokenDecimals is the precision of the stake token
const TokenDecimals = 6

// Sender is the part of *telebot.Bot the notifier uses
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// NotificationService broadcasts ledger events to a Telegram channel and
// warns the admin chat about scenarios that need attention
type NotificationService struct {
	bot           Sender
	channelID     string
	adminChatID   int64
	jackpotNotify uint64
	queue         chan events.Event
}

// NewNotificationService creates a notifier. Empty channelID or zero
// adminChatID disables that destination.
func NewNotificationService(bot Sender, channelID string, adminChatID int64, jackpotNotify uint64) *NotificationService {
	return &NotificationService{
		bot:           bot,
		channelID:     channelID,
		adminChatID:   adminChatID,
		jackpotNotify: jackpotNotify,
		queue:         make(chan events.Event, 128),
	}
}

// Attach subscribes the notifier to the event types it reports on
func (s *NotificationService) Attach(bus *events.Bus) func() {
	return bus.SubscribeFiltered(
		events.OfTypes(events.ScenarioCreated, events.ScenarioResolved, events.EmergencyWindow, events.WheelSpun),
		s.enqueue,
	)
}

// enqueue never blocks the publisher; a full queue drops the message
func (s *NotificationService) enqueue(e events.Event) {
	select {
	case s.queue <- e:
	default:
		logger.Warn("", "notification_dropped", fmt.Sprintf("type=%s scenario_id=%d", e.Type, e.ScenarioID))
	}
}

// Run delivers queued notifications until ctx is done
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case e := <-s.queue:
			s.deliver(e)
		case <-ctx.Done():
			return
		}
	}
}

func (s *NotificationService) deliver(e events.Event) {
	switch e.Type {
	case events.ScenarioCreated:
		s.broadcast(e, formatNewScenario(e))
	case events.ScenarioResolved:
		s.broadcast(e, formatResolution(e))
	case events.WheelSpun:
		if s.jackpotNotify > 0 && e.Amount >= s.jackpotNotify {
			s.broadcast(e, formatBigWin(e))
		}
	case events.EmergencyWindow:
		s.alertAdmin(e, formatResolutionReminder(e))
	}
}

// broadcast sends a message to the public channel
func (s *NotificationService) broadcast(e events.Event, message string) {
	if s.channelID == "" {
		logger.Debug("", "broadcast_skipped", "channel_id not configured")
		return
	}

	_, err := s.bot.Send(s.getChannelRecipient(), message, &telebot.SendOptions{ParseMode: telebot.ModeMarkdownV2})
	if err != nil {
		logger.Error("", "broadcast_error", fmt.Errorf("channel=%s type=%s: %w", s.channelID, e.Type, err))
		return
	}
	logger.Debug("", "broadcast_sent", fmt.Sprintf("channel=%s type=%s scenario_id=%d", s.channelID, e.Type, e.ScenarioID))
}

// alertAdmin sends a direct message to the admin chat
func (s *NotificationService) alertAdmin(e events.Event, message string) {
	if s.adminChatID == 0 {
		logger.Debug("", "admin_alert_skipped", "admin_chat_id not configured")
		return
	}

	_, err := s.bot.Send(&telebot.Chat{ID: s.adminChatID}, message, &telebot.SendOptions{ParseMode: telebot.ModeMarkdownV2})
	if err != nil {
		logger.Error("", "admin_alert_error", fmt.Errorf("scenario_id=%d: %w", e.ScenarioID, err))
		return
	}
	logger.Debug("", "admin_alert_sent", fmt.Sprintf("scenario_id=%d", e.ScenarioID))
}

func formatNewScenario(e events.Event) string {
	closes := "unknown"
	if ts, err := strconv.ParseInt(e.Metadata["betting_deadline"], 10, 64); err == nil {
		closes = time.Unix(ts, 0).UTC().Format("2006-01-02 15:04 UTC")
	}
	return fmt.Sprintf("🆕 *New Scenario*\n\n*\\#%d* %s\n\n🏷 %s\n⏰ Betting closes: %s\n\n🎯 Place your bets\\!",
		e.ScenarioID,
		EscapeMarkdown(truncateString(e.Message, 200)),
		EscapeMarkdown(e.Metadata["category"]),
		EscapeMarkdown(closes))
}

func formatResolution(e events.Event) string {
	outcome, outcomeEmoji := "NO", "❌"
	if e.Outcome != nil && *e.Outcome {
		outcome, outcomeEmoji = "YES", "✅"
	}
	note := ""
	if e.Metadata["resolution"] == "emergency" {
		note = "\n⚠️ Resolved after the resolution deadline"
	}
	return fmt.Sprintf("🏁 *Scenario Resolved*\n\n*\\#%d* %s\n\n%s Outcome: *%s*\n💰 Total Pool: %s%s\n\nWinners can claim now\\.",
		e.ScenarioID,
		EscapeMarkdown(truncateString(e.Message, 80)),
		outcomeEmoji,
		outcome,
		EscapeMarkdown(FormatAmount(e.Amount)),
		EscapeMarkdown(note))
}

func formatBigWin(e events.Event) string {
	return fmt.Sprintf("🎰 *Big Win\\!*\n\n%s hit *%s* on the prize wheel and won %s\\!",
		EscapeMarkdown(shortAddress(e.Actor)),
		EscapeMarkdown(e.Message),
		EscapeMarkdown(FormatAmount(e.Amount)))
}

func formatResolutionReminder(e events.Event) string {
	return fmt.Sprintf("⏰ *Scenario needs resolution*\n\n*\\#%d* %s\n\n%s",
		e.ScenarioID,
		EscapeMarkdown(truncateString(e.Metadata["title"], 80)),
		EscapeMarkdown(e.Message))
}

// FormatAmount renders a smallest-unit token amount with its decimals
func FormatAmount(amount uint64) string {
	unit := uint64(1)
	for i := 0; i < TokenDecimals; i++ {
		unit *= 10
	}
	return fmt.Sprintf("%d.%0*d USDC", amount/unit, TokenDecimals, amount%unit)
}

// shortAddress abbreviates 0x1234...abcd
func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// truncateString truncates a string to maxLen and adds ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}

// channelUsername addresses a public channel by its @name
type channelUsername string

func (c channelUsername) Recipient() string { return string(c) }

// getChannelRecipient returns the appropriate recipient for the configured channel
func (s *NotificationService) getChannelRecipient() telebot.Recipient {
	if strings.HasPrefix(s.channelID, "@") {
		return channelUsername(s.channelID)
	}
	return &telebot.Chat{ID: parseChannelID(s.channelID)}
}

// parseChannelID parses a channel ID string (supports numeric IDs)
func parseChannelID(channelID string) int64 {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// EscapeMarkdown escapes special characters for Telegram MarkdownV2
func EscapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
		"(", `\(`, ")", `\)`, "~", `\~`, ">", `\>`, "#", `\#`, "+", `\+`,
		"-", `\-`, "=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
	)
	return replacer.Replace(s)
}
