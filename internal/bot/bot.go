package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v3"

	"scenariomarket/internal/apperr"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/service"
	"scenariomarket/internal/storage"
)

const (
	listLimit        = 10
	leaderboardLimit = 10
	timeLayout       = "2006-01-02 15:04 UTC"
)

// Bot answers read-only commands about scenarios and the prize wheel.
// Everything that moves tokens happens in the web app.
type Bot struct {
	tb        *telebot.Bot
	scenarios *service.ScenarioEngine
	wheel     *service.PrizeWheelEngine
	webAppURL string
}

// NewTelebot connects to the Bot API with long polling
func NewTelebot(token string) (*telebot.Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token: token,
		Poller: &telebot.LongPoller{
			Timeout: 10 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return b, nil
}

// New creates a bot and registers its command handlers on tb
func New(tb *telebot.Bot, scenarios *service.ScenarioEngine, wheel *service.PrizeWheelEngine, webAppURL string) *Bot {
	b := &Bot{tb: tb, scenarios: scenarios, wheel: wheel, webAppURL: webAppURL}
	if tb != nil {
		b.register()
	}
	return b
}

// Run polls for updates until ctx is done
func (b *Bot) Run(ctx context.Context) {
	go b.tb.Start()
	logger.Info("", "bot_started", "username="+b.tb.Me.Username)
	<-ctx.Done()
	b.tb.Stop()
}

func (b *Bot) register() {
	b.tb.Handle("/start", func(c telebot.Context) error {
		logger.Debug(senderOf(c), "command_start", "username="+c.Sender().Username)
		opts := &telebot.SendOptions{ParseMode: telebot.ModeMarkdownV2}
		if b.webAppURL != "" {
			opts.ReplyMarkup = &telebot.ReplyMarkup{
				InlineKeyboard: [][]telebot.InlineButton{{
					{Text: "🎯 Open Scenario Market", WebApp: &telebot.WebApp{URL: b.webAppURL}},
				}},
			}
		}
		return c.Send(startText(c.Sender().FirstName), opts)
	})

	b.tb.Handle("/help", b.reply("command_help", func(ctx context.Context, _ []string) (string, error) {
		return helpText(), nil
	}))
	b.tb.Handle("/list", b.reply("command_list", func(ctx context.Context, _ []string) (string, error) {
		return b.listText(ctx)
	}))
	b.tb.Handle("/scenario", b.reply("command_scenario", b.scenarioText))
	b.tb.Handle("/wheel", b.reply("command_wheel", func(ctx context.Context, _ []string) (string, error) {
		return b.wheelText(ctx)
	}))
	b.tb.Handle("/leaderboard", b.reply("command_leaderboard", func(ctx context.Context, _ []string) (string, error) {
		return b.leaderboardText(ctx)
	}))
}

// reply adapts a text builder to a telebot handler
func (b *Bot) reply(action string, build func(ctx context.Context, args []string) (string, error)) telebot.HandlerFunc {
	return func(c telebot.Context) error {
		actor := senderOf(c)
		logger.Debug(actor, action, strings.Join(c.Args(), " "))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		text, err := build(ctx, c.Args())
		if err != nil {
			logger.Error(actor, action, err)
			return c.Send("Error retrieving data. Please try again.")
		}
		return c.Send(text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdownV2})
	}
}

func senderOf(c telebot.Context) string {
	if c.Sender() == nil {
		return ""
	}
	return "tg:" + strconv.FormatInt(c.Sender().ID, 10)
}

func startText(firstName string) string {
	name := firstName
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Welcome to the Scenario Market\\! 🎉\n\nHi, %s\\! Stake USDC on YES/NO scenarios and spin the prize wheel\\.\n\nUse /help to see what I can show you\\.",
		esc(name))
}

func helpText() string {
	return esc("📚 Available Commands\n\n"+
		"/start - Open the web app\n"+
		"/list - Scenarios taking bets or awaiting resolution\n"+
		"/scenario <id> - Pools and status of one scenario\n"+
		"/wheel - Prize pool and tiers\n"+
		"/leaderboard - Top predictors by profit\n"+
		"/help - Show this help message\n\n") +
		"🎯 Bets, claims and spins happen in the web app\\."
}

// listText lists the latest unresolved scenarios
func (b *Bot) listText(ctx context.Context) (string, error) {
	views, err := b.scenarios.ListScenarios(ctx, storage.ScenarioFilter{Limit: 50})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	shown := 0
	for _, v := range views {
		if v.IsResolved {
			continue
		}
		if shown == listLimit {
			break
		}
		shown++
		status := "🟢 open"
		if v.IsClosed {
			status = "🔒 awaiting resolution"
		}
		sb.WriteString(fmt.Sprintf("*\\#%d* %s\n   %s \\| YES %s / NO %s\n   ⏰ %s\n\n",
			v.ID,
			esc(v.Title),
			esc(status),
			esc(service.FormatAmount(v.YesPool)),
			esc(service.FormatAmount(v.NoPool)),
			esc(deadlineLine(v))))
	}

	if shown == 0 {
		return "📊 *Scenarios*\n\nNo open scenarios right now\\.", nil
	}
	return fmt.Sprintf("📊 *Scenarios* \\(%d\\)\n\n%s", shown, sb.String()), nil
}

func deadlineLine(v service.ScenarioView) string {
	if v.IsClosed {
		return "resolve by " + time.Unix(v.ResolutionDeadline, 0).UTC().Format(timeLayout)
	}
	return "closes " + time.Unix(v.BettingDeadline, 0).UTC().Format(timeLayout)
}

// scenarioText describes one scenario; args[0] is its id
func (b *Bot) scenarioText(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "❌ *Usage:* /scenario <id\\>", nil
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id == 0 {
		return "❌ *Invalid scenario ID*\n\nPlease provide a numeric scenario ID\\.", nil
	}

	v, err := b.scenarios.GetScenario(ctx, id)
	if apperr.CodeOf(err) == apperr.CodeScenarioNotFound {
		return fmt.Sprintf("❌ Scenario \\#%d not found\\.", id), nil
	}
	if err != nil {
		return "", err
	}

	var status string
	switch {
	case v.IsResolved && v.Outcome:
		status = "✅ Resolved YES"
	case v.IsResolved:
		status = "✅ Resolved NO"
	case v.IsClosed:
		status = "🔒 Betting closed"
	default:
		status = "🟢 Open"
	}

	return fmt.Sprintf("*Scenario \\#%d*\n\n%s\n\n"+
		"Category: %s\n"+
		"Status: %s\n"+
		"Pool: %s\n"+
		"YES: %s \\| NO: %s\n"+
		"Betting closes: %s\n"+
		"Resolution by: %s",
		v.ID,
		esc(v.Description),
		esc(v.Category),
		esc(status),
		esc(service.FormatAmount(v.TotalPool)),
		esc(service.FormatAmount(v.YesPool)),
		esc(service.FormatAmount(v.NoPool)),
		esc(time.Unix(v.BettingDeadline, 0).UTC().Format(timeLayout)),
		esc(time.Unix(v.ResolutionDeadline, 0).UTC().Format(timeLayout))), nil
}

// wheelText shows the prize pool, spin prices and tier odds
func (b *Bot) wheelText(ctx context.Context) (string, error) {
	state, err := b.wheel.WheelState(ctx)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "🎡 The prize wheel is not set up yet\\.", nil
	}
	tiers, err := b.wheel.PrizeTiers(ctx)
	if err != nil {
		return "", err
	}
	params := b.wheel.Params()

	var sb strings.Builder
	sb.WriteString("🎡 *Prize Wheel*")
	if state.Paused {
		sb.WriteString(" \\(paused\\)")
	}
	sb.WriteString(fmt.Sprintf("\n\nPrize pool: %s\nDaily spin: %s\nExtra spin: %s\n\n",
		esc(service.FormatAmount(state.PrizePool)),
		esc(service.FormatAmount(state.SpinCost)),
		esc(service.FormatAmount(params.ExtraSpinCost))))

	for _, t := range tiers {
		prize := "nothing"
		if t.Amount > 0 {
			prize = service.FormatAmount(t.Amount)
		}
		line := fmt.Sprintf("%s: %s (%d.%02d%%)", t.Name, prize, t.Probability/100, t.Probability%100)
		if !t.Available {
			line += " unavailable"
		}
		sb.WriteString(esc(line) + "\n")
	}
	return sb.String(), nil
}

// leaderboardText ranks the top predictors
func (b *Bot) leaderboardText(ctx context.Context) (string, error) {
	entries, err := b.scenarios.Leaderboard(ctx, leaderboardLimit)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "🏆 *Leaderboard*\n\nNo settled scenarios yet\\.", nil
	}

	var sb strings.Builder
	sb.WriteString("🏆 *Leaderboard*\n\n")
	for i, e := range entries {
		sign := "+"
		profit := e.Profit
		if profit < 0 {
			sign = "-"
			profit = -profit
		}
		sb.WriteString(esc(fmt.Sprintf("%d. %s  %s%s  (%d bets)", i+1, shortAddress(e.User), sign,
			service.FormatAmount(uint64(profit)), e.TotalBets)) + "\n")
	}
	return sb.String(), nil
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func esc(s string) string {
	return service.EscapeMarkdown(s)
}
