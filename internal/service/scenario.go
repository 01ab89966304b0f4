package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/access"
	"scenariomarket/internal/apperr"
	"scenariomarket/internal/events"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/payout"
	"scenariomarket/internal/storage"
)

// MarketParams are fixed per deployment
type MarketParams struct {
	FeeBps uint64
	MinBet uint64
	MaxBet uint64
}

// ScenarioEngine owns the scenario lifecycle: creation, staking, resolution and claims
type ScenarioEngine struct {
	mu     sync.Mutex
	ledger *storage.Ledger
	tokens Transferer
	bus    *events.Bus
	params MarketParams
	now    func() time.Time
}

// NewScenarioEngine creates a scenario engine. bus may be nil.
func NewScenarioEngine(ledger *storage.Ledger, tokens Transferer, bus *events.Bus, params MarketParams) *ScenarioEngine {
	return &ScenarioEngine{
		ledger: ledger,
		tokens: tokens,
		bus:    bus,
		params: params,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests
func (e *ScenarioEngine) WithClock(now func() time.Time) *ScenarioEngine {
	e.now = now
	return e
}

// Params returns the deployment's fee and bet limits
func (e *ScenarioEngine) Params() MarketParams {
	return e.params
}

// BetView is a user's bet plus what it is worth now
type BetView struct {
	storage.Bet
	Won       bool   `json:"won"`
	Claimable uint64 `json:"claimable"`
}

// CreateScenario opens a new scenario and returns its id
func (e *ScenarioEngine) CreateScenario(ctx context.Context, caller common.Address, description string, bettingDeadline, resolutionDeadline time.Time) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	description = strings.TrimSpace(description)
	var sc *storage.Scenario

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		if description == "" {
			return apperr.ErrInvalidDescription
		}
		if bettingDeadline.Unix() <= now {
			return fmt.Errorf("%w: betting deadline must be in the future", apperr.ErrInvalidDeadline)
		}
		if resolutionDeadline.Unix() <= bettingDeadline.Unix() {
			return fmt.Errorf("%w: resolution deadline must be after betting deadline", apperr.ErrInvalidDeadline)
		}

		id, err := tx.NextScenarioID(ctx)
		if err != nil {
			return err
		}
		sc = &storage.Scenario{
			ID:                 id,
			Description:        description,
			Creator:            access.Key(caller),
			CreatedAt:          now,
			BettingDeadline:    bettingDeadline.Unix(),
			ResolutionDeadline: resolutionDeadline.Unix(),
			Status:             storage.ScenarioStatusOpen,
		}
		if err := tx.InsertScenario(ctx, sc); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventScenarioCreated, ScenarioID: id, Actor: sc.Creator,
			Details: Title(description), CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}

	logger.Info(sc.Creator, "scenario_created", fmt.Sprintf("scenario_id=%d betting_deadline=%d resolution_deadline=%d", sc.ID, sc.BettingDeadline, sc.ResolutionDeadline))
	e.bus.Publish(events.Event{
		Type: events.ScenarioCreated, ScenarioID: sc.ID, Actor: sc.Creator, Message: sc.Description,
		Metadata: map[string]string{
			"title":               Title(sc.Description),
			"category":            Category(sc.Description),
			"betting_deadline":    fmt.Sprint(sc.BettingDeadline),
			"resolution_deadline": fmt.Sprint(sc.ResolutionDeadline),
		},
	})
	return sc.ID, nil
}

// PlaceBet stakes amount on one side of a scenario. The stake is collected
// from the caller before the ledger commits.
func (e *ScenarioEngine) PlaceBet(ctx context.Context, caller common.Address, scenarioID, amount uint64, choice bool) (*storage.Bet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	user := access.Key(caller)
	var bet *storage.Bet
	var sc *storage.Scenario

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, xfer *transfers) error {
		var err error
		sc, err = tx.GetScenario(ctx, scenarioID)
		if err != nil {
			return err
		}
		if sc == nil {
			return apperr.ErrScenarioNotFound
		}
		if isClosed(sc, now) {
			return apperr.ErrBettingClosed
		}
		if amount < e.params.MinBet {
			return fmt.Errorf("%w: minimum is %d", apperr.ErrBelowMinimum, e.params.MinBet)
		}
		if amount > e.params.MaxBet {
			return fmt.Errorf("%w: maximum is %d", apperr.ErrAboveMaximum, e.params.MaxBet)
		}
		existing, err := tx.GetBet(ctx, user, scenarioID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.ErrDuplicateBet
		}

		// Credit the chosen side and the total together
		if sc.TotalPool, err = addAmount(sc.TotalPool, amount); err != nil {
			return err
		}
		if choice {
			sc.YesPool += amount
		} else {
			sc.NoPool += amount
		}
		if err := tx.UpdateScenario(ctx, sc); err != nil {
			return err
		}

		bet = &storage.Bet{User: user, ScenarioID: scenarioID, Amount: amount, Choice: choice, PlacedAt: now.Unix()}
		if err := tx.InsertBet(ctx, bet); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventBetPlaced, ScenarioID: scenarioID, Actor: user, Amount: amount,
			Details: fmt.Sprintf("choice=%s", sideName(choice)), CreatedAt: now.Unix(),
		}); err != nil {
			return err
		}

		return xfer.collect(ctx, caller, amount)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(user, "bet_placed", fmt.Sprintf("scenario_id=%d amount=%d choice=%s", scenarioID, amount, sideName(choice)))
	e.bus.Publish(events.Event{
		Type: events.BetPlaced, ScenarioID: scenarioID, Actor: user, Amount: amount, Outcome: &choice,
		Metadata: map[string]string{
			"yes_pool":   fmt.Sprint(sc.YesPool),
			"no_pool":    fmt.Sprint(sc.NoPool),
			"total_pool": fmt.Sprint(sc.TotalPool),
		},
	})
	return bet, nil
}

// CloseBetting stops new stakes. Closing an already closed scenario succeeds;
// only resolved scenarios fail with AlreadyClosed.
func (e *ScenarioEngine) CloseBetting(ctx context.Context, caller common.Address, scenarioID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	changed := false

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		sc, err := tx.GetScenario(ctx, scenarioID)
		if err != nil {
			return err
		}
		if sc == nil {
			return apperr.ErrScenarioNotFound
		}
		if isResolved(sc) {
			return apperr.ErrAlreadyClosed
		}
		if sc.Status == storage.ScenarioStatusClosed {
			return nil
		}

		changed, err = closeScenario(ctx, tx, sc, access.Key(caller), now)
		return err
	})
	if err != nil {
		return err
	}

	if changed {
		logger.Info(access.Key(caller), "betting_closed", fmt.Sprintf("scenario_id=%d", scenarioID))
		e.bus.Publish(events.Event{Type: events.BettingClosed, ScenarioID: scenarioID, Actor: access.Key(caller)})
	}
	return nil
}

// CloseExpired persists the implicit close of every OPEN scenario whose
// betting deadline has passed, and returns the ids it closed.
func (e *ScenarioEngine) CloseExpired(ctx context.Context) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	var closed []uint64

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, _ *transfers) error {
		expired, err := tx.ListOpenPastBettingDeadline(ctx, now)
		if err != nil {
			return err
		}
		for i := range expired {
			if _, err := closeScenario(ctx, tx, &expired[i], "", now); err != nil {
				return err
			}
			closed = append(closed, expired[i].ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, id := range closed {
		e.bus.Publish(events.Event{Type: events.BettingClosed, ScenarioID: id, Message: "betting deadline passed"})
	}
	return closed, nil
}

func closeScenario(ctx context.Context, tx *storage.Tx, sc *storage.Scenario, actor string, now int64) (bool, error) {
	if err := transition(sc, storage.ScenarioStatusClosed); err != nil {
		return false, err
	}
	if err := tx.UpdateScenario(ctx, sc); err != nil {
		return false, err
	}
	err := tx.AppendEvent(ctx, &storage.LedgerEvent{
		Kind: storage.EventBettingClosed, ScenarioID: sc.ID, Actor: actor, CreatedAt: now,
	})
	return err == nil, err
}

// ResolveScenario settles the outcome inside the normal resolution window
func (e *ScenarioEngine) ResolveScenario(ctx context.Context, caller common.Address, scenarioID uint64, outcome bool) error {
	return e.resolve(ctx, caller, scenarioID, outcome, storage.ResolutionNormal)
}

// EmergencyResolve settles the outcome once the normal window has expired
func (e *ScenarioEngine) EmergencyResolve(ctx context.Context, caller common.Address, scenarioID uint64, outcome bool) error {
	return e.resolve(ctx, caller, scenarioID, outcome, storage.ResolutionEmergency)
}

func (e *ScenarioEngine) resolve(ctx context.Context, caller common.Address, scenarioID uint64, outcome bool, resolution storage.Resolution) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	var sc *storage.Scenario

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		var err error
		sc, err = tx.GetScenario(ctx, scenarioID)
		if err != nil {
			return err
		}
		if sc == nil {
			return apperr.ErrScenarioNotFound
		}
		if isResolved(sc) {
			return apperr.ErrAlreadyResolved
		}
		if now < sc.BettingDeadline {
			return apperr.ErrBettingStillOpen
		}

		// The two paths split exactly at the resolution deadline
		switch resolution {
		case storage.ResolutionNormal:
			if now >= sc.ResolutionDeadline {
				return apperr.ErrResolutionWindowExpired
			}
		case storage.ResolutionEmergency:
			if now < sc.ResolutionDeadline {
				return apperr.ErrResolutionWindowActive
			}
		}

		if err := transition(sc, storage.ScenarioStatusResolved); err != nil {
			return err
		}
		sc.Outcome = outcome
		sc.Resolution = resolution
		sc.ResolvedAt = now
		sc.AdminFee = payout.AdminFee(sc.TotalPool, e.params.FeeBps)
		if err := tx.UpdateScenario(ctx, sc); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventScenarioResolved, ScenarioID: scenarioID, Actor: access.Key(caller),
			Amount: sc.AdminFee, CreatedAt: now,
			Details: fmt.Sprintf("outcome=%s resolution=%s", sideName(outcome), resolution),
		})
	})
	if err != nil {
		return err
	}

	logger.Info(access.Key(caller), "scenario_resolved", fmt.Sprintf("scenario_id=%d outcome=%s resolution=%s total_pool=%d admin_fee=%d",
		scenarioID, sideName(outcome), resolution, sc.TotalPool, sc.AdminFee))
	e.bus.Publish(events.Event{
		Type: events.ScenarioResolved, ScenarioID: scenarioID, Actor: access.Key(caller),
		Amount: sc.TotalPool, Outcome: &outcome, Message: sc.Description,
		Metadata: map[string]string{
			"resolution":   string(resolution),
			"admin_fee":    fmt.Sprint(sc.AdminFee),
			"winning_pool": fmt.Sprint(sc.WinningPool()),
		},
	})
	return nil
}

// ClaimWinnings pays out a winning bet and returns the amount paid. The
// claimed flag is set in the same transaction that checks it.
func (e *ScenarioEngine) ClaimWinnings(ctx context.Context, caller common.Address, scenarioID uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	user := access.Key(caller)
	var winnings, stake uint64

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, xfer *transfers) error {
		sc, err := tx.GetScenario(ctx, scenarioID)
		if err != nil {
			return err
		}
		if sc == nil {
			return apperr.ErrScenarioNotFound
		}
		bet, err := tx.GetBet(ctx, user, scenarioID)
		if err != nil {
			return err
		}
		if bet == nil || bet.Amount == 0 {
			return apperr.ErrNoBetFound
		}
		if !isResolved(sc) {
			return apperr.ErrNotResolved
		}
		if bet.Claimed {
			return apperr.ErrAlreadyClaimed
		}
		if bet.Choice != sc.Outcome {
			return apperr.ErrBetDidNotWin
		}

		stake = bet.Amount
		winnings = payout.ComputeWinnings(bet.Amount, sc.WinningPool(), sc.TotalPool, sc.AdminFee)
		if err := tx.MarkBetClaimed(ctx, user, scenarioID, winnings, now); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventWinningsClaimed, ScenarioID: scenarioID, Actor: user, Amount: winnings, CreatedAt: now,
			Details: fmt.Sprintf("stake=%d profit=%d", bet.Amount, payout.Profit(winnings, bet.Amount)),
		}); err != nil {
			return err
		}

		return xfer.disburse(ctx, caller, winnings)
	})
	if err != nil {
		return 0, err
	}

	logger.Info(user, "winnings_claimed", fmt.Sprintf("scenario_id=%d stake=%d payout=%d profit=%d", scenarioID, stake, winnings, payout.Profit(winnings, stake)))
	e.bus.Publish(events.Event{
		Type: events.WinningsClaimed, ScenarioID: scenarioID, Actor: user, Amount: winnings,
		Metadata: map[string]string{"stake": fmt.Sprint(stake)},
	})
	return winnings, nil
}

// ClaimAdminFee pays the scenario's admin fee to the caller, once
func (e *ScenarioEngine) ClaimAdminFee(ctx context.Context, caller common.Address, scenarioID uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().Unix()
	var fee uint64

	err := runLedgerOp(ctx, e.ledger, e.tokens, func(tx *storage.Tx, xfer *transfers) error {
		if err := access.RequireAdmin(ctx, tx, caller); err != nil {
			return err
		}
		sc, err := tx.GetScenario(ctx, scenarioID)
		if err != nil {
			return err
		}
		if sc == nil {
			return apperr.ErrScenarioNotFound
		}
		if !isResolved(sc) {
			return apperr.ErrNotResolved
		}
		if sc.Status == storage.ScenarioStatusFeeClaimed {
			return apperr.ErrFeeAlreadyClaimed
		}
		if sc.AdminFee == 0 {
			return apperr.ErrNoFeeToClaim
		}

		if err := transition(sc, storage.ScenarioStatusFeeClaimed); err != nil {
			return err
		}
		if err := tx.UpdateScenario(ctx, sc); err != nil {
			return err
		}
		fee = sc.AdminFee
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventAdminFeeClaimed, ScenarioID: scenarioID, Actor: access.Key(caller), Amount: fee, CreatedAt: now,
		}); err != nil {
			return err
		}

		return xfer.disburse(ctx, caller, fee)
	})
	if err != nil {
		return 0, err
	}

	logger.Info(access.Key(caller), "admin_fee_claimed", fmt.Sprintf("scenario_id=%d fee=%d", scenarioID, fee))
	e.bus.Publish(events.Event{Type: events.AdminFeeClaimed, ScenarioID: scenarioID, Actor: access.Key(caller), Amount: fee})
	return fee, nil
}

// GetScenario returns the scenario view or apperr.ErrScenarioNotFound
func (e *ScenarioEngine) GetScenario(ctx context.Context, scenarioID uint64) (ScenarioView, error) {
	sc, err := e.ledger.GetScenario(ctx, scenarioID)
	if err != nil {
		return ScenarioView{}, err
	}
	if sc == nil {
		return ScenarioView{}, apperr.ErrScenarioNotFound
	}
	return viewOf(sc, e.now()), nil
}

// GetScenarioCount returns how many scenarios exist
func (e *ScenarioEngine) GetScenarioCount(ctx context.Context) (uint64, error) {
	return e.ledger.CountScenarios(ctx)
}

// ListScenarios returns scenario views matching filter, newest first
func (e *ScenarioEngine) ListScenarios(ctx context.Context, filter storage.ScenarioFilter) ([]ScenarioView, error) {
	scenarios, err := e.ledger.ListScenarios(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := e.now()
	views := make([]ScenarioView, 0, len(scenarios))
	for i := range scenarios {
		views = append(views, viewOf(&scenarios[i], now))
	}
	return views, nil
}

// GetUserBet returns the user's bet on a scenario
func (e *ScenarioEngine) GetUserBet(ctx context.Context, user common.Address, scenarioID uint64) (BetView, error) {
	sc, err := e.ledger.GetScenario(ctx, scenarioID)
	if err != nil {
		return BetView{}, err
	}
	if sc == nil {
		return BetView{}, apperr.ErrScenarioNotFound
	}
	bet, err := e.ledger.GetBet(ctx, access.Key(user), scenarioID)
	if err != nil {
		return BetView{}, err
	}
	if bet == nil {
		return BetView{}, apperr.ErrNoBetFound
	}
	return betViewOf(bet, sc), nil
}

// ListUserBets returns every bet of a user with its current value
func (e *ScenarioEngine) ListUserBets(ctx context.Context, user common.Address) ([]BetView, error) {
	bets, err := e.ledger.ListBetsByUser(ctx, access.Key(user))
	if err != nil {
		return nil, err
	}
	views := make([]BetView, 0, len(bets))
	for i := range bets {
		sc, err := e.ledger.GetScenario(ctx, bets[i].ScenarioID)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			continue
		}
		views = append(views, betViewOf(&bets[i], sc))
	}
	return views, nil
}

// ListScenarioBets returns all bets on a scenario
func (e *ScenarioEngine) ListScenarioBets(ctx context.Context, scenarioID uint64) ([]storage.Bet, error) {
	return e.ledger.ListBetsByScenario(ctx, scenarioID)
}

// Leaderboard ranks users by profit on settled scenarios
func (e *ScenarioEngine) Leaderboard(ctx context.Context, limit int) ([]storage.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.ledger.Leaderboard(ctx, limit)
}

// History returns the audit log, optionally scoped to one scenario
func (e *ScenarioEngine) History(ctx context.Context, scenarioID uint64, limit int) ([]storage.LedgerEvent, error) {
	return e.ledger.ListEvents(ctx, scenarioID, limit)
}

// AwaitingResolution returns unresolved scenarios whose resolution deadline
// falls at or before `before`
func (e *ScenarioEngine) AwaitingResolution(ctx context.Context, before time.Time) ([]ScenarioView, error) {
	scenarios, err := e.ledger.ListUnresolvedPastResolutionDeadline(ctx, before.Unix())
	if err != nil {
		return nil, err
	}
	now := e.now()
	views := make([]ScenarioView, 0, len(scenarios))
	for i := range scenarios {
		views = append(views, viewOf(&scenarios[i], now))
	}
	return views, nil
}

func betViewOf(bet *storage.Bet, sc *storage.Scenario) BetView {
	v := BetView{Bet: *bet}
	if isResolved(sc) && bet.Choice == sc.Outcome {
		v.Won = true
		if !bet.Claimed {
			v.Claimable = payout.ComputeWinnings(bet.Amount, sc.WinningPool(), sc.TotalPool, sc.AdminFee)
		}
	}
	return v
}

func sideName(choice bool) string {
	if choice {
		return "YES"
	}
	return "NO"
}
