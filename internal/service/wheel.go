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
	"scenariomarket/internal/rng"
	"scenariomarket/internal/storage"
)

// ProbabilityTotal is the weight every tier set must sum to
const ProbabilityTotal = 10000

// DefaultPrizeTiers is the wheel installed on first start
var DefaultPrizeTiers = []storage.PrizeTier{
	{Name: "No Win", Amount: 0, Probability: 5000},
	{Name: "Small Prize", Amount: 500_000, Probability: 3000},
	{Name: "Medium Prize", Amount: 2_000_000, Probability: 1500},
	{Name: "Large Prize", Amount: 10_000_000, Probability: 450},
	{Name: "Jackpot", Amount: 50_000_000, Probability: 50},
}

// WheelParams are fixed per deployment
type WheelParams struct {
	ExtraSpinCost uint64
	BypassFeeBps  uint64
	Cooldown      time.Duration
}

// PrizeWheelEngine runs the shared, pool-funded prize wheel
type PrizeWheelEngine struct {
	mu     sync.Mutex
	ledger *storage.Ledger
	tokens Transferer
	source rng.Source
	bus    *events.Bus
	params WheelParams
	now    func() time.Time
}

// NewPrizeWheelEngine creates a wheel engine. bus may be nil.
func NewPrizeWheelEngine(ledger *storage.Ledger, tokens Transferer, source rng.Source, bus *events.Bus, params WheelParams) *PrizeWheelEngine {
	return &PrizeWheelEngine{
		ledger: ledger,
		tokens: tokens,
		source: source,
		bus:    bus,
		params: params,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests
func (w *PrizeWheelEngine) WithClock(now func() time.Time) *PrizeWheelEngine {
	w.now = now
	return w
}

// Params returns the bypass cost, fee split and cooldown
func (w *PrizeWheelEngine) Params() WheelParams {
	return w.params
}

// TierView is a prize tier plus whether the pool can currently pay it
type TierView struct {
	storage.PrizeTier
	Available bool `json:"available"`
}

// SpinEligibility answers whether a free spin is available
type SpinEligibility struct {
	CanSpin       bool  `json:"can_spin"`
	TimeRemaining int64 `json:"time_remaining"` // seconds
}

// SpinResult describes one completed spin
type SpinResult struct {
	PrizeAmount uint64   `json:"prize_amount"`
	PrizeName   string   `json:"prize_name"`
	TierIndex   int      `json:"tier_index"`
	CostPaid    uint64   `json:"cost_paid"`
	Bypass      bool     `json:"bypass"`
	PrizePool   uint64   `json:"prize_pool"`
	Draw        rng.Draw `json:"draw"`
}

// PrizeTiers returns the tiers with their availability against the current pool
func (w *PrizeWheelEngine) PrizeTiers(ctx context.Context) ([]TierView, error) {
	state, err := w.ledger.GetWheelState(ctx)
	if err != nil {
		return nil, err
	}
	tiers, err := w.ledger.ListPrizeTiers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]TierView, 0, len(tiers))
	for _, t := range tiers {
		views = append(views, TierView{PrizeTier: t, Available: t.Amount == 0 || state.PrizePool >= t.Amount})
	}
	return views, nil
}

// WheelState returns the pool, spin cost, admin balance and pause flag
func (w *PrizeWheelEngine) WheelState(ctx context.Context) (*storage.WheelState, error) {
	return w.ledger.GetWheelState(ctx)
}

// CanSpin reports whether user's free spin is available and, if not, how long until it is
func (w *PrizeWheelEngine) CanSpin(ctx context.Context, user common.Address) (SpinEligibility, error) {
	rec, err := w.ledger.GetSpinRecord(ctx, access.Key(user))
	if err != nil {
		return SpinEligibility{}, err
	}
	return w.eligibility(rec, w.now().Unix()), nil
}

func (w *PrizeWheelEngine) eligibility(rec *storage.SpinRecord, now int64) SpinEligibility {
	if rec == nil {
		return SpinEligibility{CanSpin: true}
	}
	cooldown := int64(w.params.Cooldown / time.Second)
	elapsed := now - rec.LastSpinTime
	if elapsed >= cooldown {
		return SpinEligibility{CanSpin: true}
	}
	return SpinEligibility{CanSpin: false, TimeRemaining: cooldown - elapsed}
}

// Spin charges the caller, draws a tier and pays the prize. The free spin
// costs spinCost; inside the cooldown the caller pays ExtraSpinCost instead.
func (w *PrizeWheelEngine) Spin(ctx context.Context, caller common.Address) (*SpinResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	user := access.Key(caller)
	result := &SpinResult{}

	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, xfer *transfers) error {
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		if state.Paused {
			return apperr.ErrPaused
		}
		if state.SpinCost == 0 {
			return apperr.ErrSpinCostNotSet
		}
		if state.PrizePool == 0 {
			return apperr.ErrPrizePoolEmpty
		}

		rec, err := tx.GetSpinRecord(ctx, user)
		if err != nil {
			return err
		}
		result.Bypass = !w.eligibility(rec, now).CanSpin
		result.CostPaid = state.SpinCost
		if result.Bypass {
			if w.params.ExtraSpinCost == 0 {
				return fmt.Errorf("%w: extra spin cost", apperr.ErrSpinCostNotSet)
			}
			result.CostPaid = w.params.ExtraSpinCost
		}

		// Payment is pulled before the draw
		if err := xfer.collect(ctx, caller, result.CostPaid); err != nil {
			return err
		}

		// Bypass fee split lands before prize resolution
		if result.Bypass {
			fee := payout.Share(result.CostPaid, w.params.BypassFeeBps)
			if state.AdminBalance, err = addAmount(state.AdminBalance, fee); err != nil {
				return err
			}
			if state.PrizePool, err = addAmount(state.PrizePool, result.CostPaid-fee); err != nil {
				return err
			}
		}

		tiers, err := tx.ListPrizeTiers(ctx)
		if err != nil {
			return err
		}
		if top := maxTierAmount(tiers); top > state.PrizePool {
			return fmt.Errorf("%w: largest prize %d, pool %d", apperr.ErrPoolInsolvent, top, state.PrizePool)
		}

		draw, err := w.source.Draw(ctx, ProbabilityTotal, user)
		if err != nil {
			return fmt.Errorf("draw: %w", err)
		}
		tier, err := selectTier(tiers, draw.Value)
		if err != nil {
			return err
		}
		result.Draw = draw
		result.TierIndex = tier.Index
		result.PrizeName = tier.Name
		result.PrizeAmount = tier.Amount

		if tier.Amount == 0 {
			if !result.Bypass {
				state.PrizePool += result.CostPaid
			}
		} else {
			// guarded above; reaching this means the tier set changed under us
			if tier.Amount > state.PrizePool {
				return fmt.Errorf("%w: tier %d pays %d, pool %d", apperr.ErrPoolInsolvent, tier.Index, tier.Amount, state.PrizePool)
			}
			state.PrizePool -= tier.Amount
			if !result.Bypass {
				state.AdminBalance += result.CostPaid
			}
		}
		result.PrizePool = state.PrizePool

		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		if err := tx.RecordSpin(ctx, user, now); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventSpin, Actor: user, Amount: tier.Amount, CreatedAt: now,
			Details: fmt.Sprintf("tier=%d draw=%d cost=%d bypass=%t", tier.Index, draw.Value, result.CostPaid, result.Bypass),
		}); err != nil {
			return err
		}

		return xfer.disburse(ctx, caller, tier.Amount)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(user, "wheel_spun", fmt.Sprintf("tier=%d prize=%d cost=%d bypass=%t pool=%d", result.TierIndex, result.PrizeAmount, result.CostPaid, result.Bypass, result.PrizePool))
	w.bus.Publish(events.Event{
		Type: events.WheelSpun, Actor: user, Amount: result.PrizeAmount, Message: result.PrizeName,
		Metadata: map[string]string{
			"tier":       fmt.Sprint(result.TierIndex),
			"cost":       fmt.Sprint(result.CostPaid),
			"bypass":     fmt.Sprint(result.Bypass),
			"prize_pool": fmt.Sprint(result.PrizePool),
		},
	})
	return result, nil
}

// FundPrizePool adds amount from the caller to the prize pool. Anyone may fund.
func (w *PrizeWheelEngine) FundPrizePool(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, apperr.ErrZeroAmount
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	var pool uint64
	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, xfer *transfers) error {
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		if state.PrizePool, err = addAmount(state.PrizePool, amount); err != nil {
			return err
		}
		pool = state.PrizePool
		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventPoolFunded, Actor: access.Key(caller), Amount: amount, CreatedAt: now,
		}); err != nil {
			return err
		}
		return xfer.collect(ctx, caller, amount)
	})
	if err != nil {
		return 0, err
	}

	logger.Info(access.Key(caller), "prize_pool_funded", fmt.Sprintf("amount=%d pool=%d", amount, pool))
	w.bus.Publish(events.Event{Type: events.WheelFunded, Actor: access.Key(caller), Amount: amount,
		Metadata: map[string]string{"prize_pool": fmt.Sprint(pool)}})
	return pool, nil
}

// WithdrawPrizePool pays amount out of the pool to the owner
func (w *PrizeWheelEngine) WithdrawPrizePool(ctx context.Context, caller common.Address, amount uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	var pool uint64
	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, xfer *transfers) error {
		if err := access.RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		if amount == 0 {
			return apperr.ErrZeroAmount
		}
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		if amount > state.PrizePool {
			return fmt.Errorf("%w: pool holds %d", apperr.ErrInsufficientPool, state.PrizePool)
		}
		state.PrizePool -= amount
		pool = state.PrizePool
		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventPoolWithdrawn, Actor: access.Key(caller), Amount: amount, CreatedAt: now,
		}); err != nil {
			return err
		}
		return xfer.disburse(ctx, caller, amount)
	})
	if err != nil {
		return 0, err
	}

	logger.Info(access.Key(caller), "prize_pool_withdrawn", fmt.Sprintf("amount=%d pool=%d", amount, pool))
	w.bus.Publish(events.Event{Type: events.WheelWithdrawn, Actor: access.Key(caller), Amount: amount,
		Metadata: map[string]string{"prize_pool": fmt.Sprint(pool)}})
	return pool, nil
}

// UpdatePrizeTier replaces one tier. The full set must still sum to ProbabilityTotal.
func (w *PrizeWheelEngine) UpdatePrizeTier(ctx context.Context, caller common.Address, index int, amount, probability uint64, name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	name = strings.TrimSpace(name)
	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		tiers, err := tx.ListPrizeTiers(ctx)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(tiers) {
			return fmt.Errorf("%w: %d of %d", apperr.ErrInvalidTierIndex, index, len(tiers))
		}
		if err := checkAmount(amount); err != nil {
			return err
		}

		var sum uint64
		for i, t := range tiers {
			if i == index {
				sum += probability
			} else {
				sum += t.Probability
			}
		}
		if sum != ProbabilityTotal {
			return fmt.Errorf("%w: got %d", apperr.ErrProbabilitySumInvalid, sum)
		}

		if name == "" {
			name = tiers[index].Name
		}
		if err := tx.UpdatePrizeTier(ctx, &storage.PrizeTier{Index: index, Name: name, Amount: amount, Probability: probability}); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{
			Kind: storage.EventTierUpdated, Actor: access.Key(caller), Amount: amount, CreatedAt: now,
			Details: fmt.Sprintf("tier=%d probability=%d name=%s", index, probability, name),
		})
	})
	if err != nil {
		return err
	}

	logger.Info(access.Key(caller), "prize_tier_updated", fmt.Sprintf("tier=%d amount=%d probability=%d", index, amount, probability))
	w.bus.Publish(events.Event{Type: events.WheelTierUpdated, Actor: access.Key(caller), Amount: amount, Message: name,
		Metadata: map[string]string{"tier": fmt.Sprint(index), "probability": fmt.Sprint(probability)}})
	return nil
}

// Pause stops spins until Unpause
func (w *PrizeWheelEngine) Pause(ctx context.Context, caller common.Address) error {
	return w.setPaused(ctx, caller, true)
}

// Unpause resumes spins
func (w *PrizeWheelEngine) Unpause(ctx context.Context, caller common.Address) error {
	return w.setPaused(ctx, caller, false)
}

func (w *PrizeWheelEngine) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	kind, typ := storage.EventWheelUnpaused, events.WheelUnpaused
	if paused {
		kind, typ = storage.EventWheelPaused, events.WheelPaused
	}

	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		state.Paused = paused
		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{Kind: kind, Actor: access.Key(caller), CreatedAt: now})
	})
	if err != nil {
		return err
	}

	logger.Info(access.Key(caller), "wheel_paused", fmt.Sprintf("paused=%t", paused))
	w.bus.Publish(events.Event{Type: typ, Actor: access.Key(caller)})
	return nil
}

// SetSpinCost changes the free-spin price. Zero disables spinning.
func (w *PrizeWheelEngine) SetSpinCost(ctx context.Context, caller common.Address, cost uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, _ *transfers) error {
		if err := access.RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		if err := checkAmount(cost); err != nil {
			return err
		}
		state.SpinCost = cost
		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &storage.LedgerEvent{Kind: storage.EventSpinCostSet, Actor: access.Key(caller), Amount: cost, CreatedAt: now})
	})
	if err != nil {
		return err
	}

	logger.Info(access.Key(caller), "spin_cost_set", fmt.Sprintf("cost=%d", cost))
	w.bus.Publish(events.Event{Type: events.WheelSpinCostSet, Actor: access.Key(caller), Amount: cost})
	return nil
}

// ClaimWheelFees pays the accumulated bypass fees and house revenue to the owner
func (w *PrizeWheelEngine) ClaimWheelFees(ctx context.Context, caller common.Address) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().Unix()
	var claimed uint64
	err := runLedgerOp(ctx, w.ledger, w.tokens, func(tx *storage.Tx, xfer *transfers) error {
		if err := access.RequireOwner(ctx, tx, caller); err != nil {
			return err
		}
		state, err := tx.GetWheelState(ctx)
		if err != nil {
			return err
		}
		if state.AdminBalance == 0 {
			return apperr.ErrNoFeeToClaim
		}
		claimed = state.AdminBalance
		state.AdminBalance = 0
		if err := tx.UpdateWheelState(ctx, state); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &storage.LedgerEvent{Kind: storage.EventWheelFeesClaimed, Actor: access.Key(caller), Amount: claimed, CreatedAt: now}); err != nil {
			return err
		}
		return xfer.disburse(ctx, caller, claimed)
	})
	if err != nil {
		return 0, err
	}

	logger.Info(access.Key(caller), "wheel_fees_claimed", fmt.Sprintf("amount=%d", claimed))
	w.bus.Publish(events.Event{Type: events.WheelFeesClaimed, Actor: access.Key(caller), Amount: claimed})
	return claimed, nil
}

// selectTier walks tiers in index order, accumulating weight until the draw falls inside one
func selectTier(tiers []storage.PrizeTier, draw uint64) (storage.PrizeTier, error) {
	var cumulative uint64
	for _, t := range tiers {
		cumulative += t.Probability
		if draw < cumulative {
			return t, nil
		}
	}
	return storage.PrizeTier{}, fmt.Errorf("draw %d beyond tier weights %d", draw, cumulative)
}

func maxTierAmount(tiers []storage.PrizeTier) uint64 {
	var top uint64
	for _, t := range tiers {
		if t.Amount > top {
			top = t.Amount
		}
	}
	return top
}
