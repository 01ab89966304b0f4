package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"scenariomarket/internal/access"
	"scenariomarket/internal/apperr"
	"scenariomarket/internal/events"
	"scenariomarket/internal/rng"
	"scenariomarket/internal/storage"
	"scenariomarket/internal/token"
)

var (
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

const (
	startingBalance = 1_000_000_000
	testSpinCost    = 1_000_000
)

var testMarketParams = MarketParams{FeeBps: 100, MinBet: 10, MaxBet: 100_000_000}

var testWheelParams = WheelParams{ExtraSpinCost: 2_000_000, BypassFeeBps: 2000, Cooldown: 24 * time.Hour}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyTokens fails the next scheduled transfers and otherwise delegates to a vault
type flakyTokens struct {
	*token.Vault
	mu            sync.Mutex
	collectFails  int
	disburseFails int
}

func (f *flakyTokens) failNextCollect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectFails++
}

func (f *flakyTokens) failNextDisburse() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disburseFails++
}

func (f *flakyTokens) Collect(ctx context.Context, from common.Address, amount uint64) error {
	f.mu.Lock()
	fail := f.collectFails > 0
	if fail {
		f.collectFails--
	}
	f.mu.Unlock()
	if fail {
		return apperr.ErrTransferFailed
	}
	return f.Vault.Collect(ctx, from, amount)
}

func (f *flakyTokens) Disburse(ctx context.Context, to common.Address, amount uint64) error {
	f.mu.Lock()
	fail := f.disburseFails > 0
	if fail {
		f.disburseFails--
	}
	f.mu.Unlock()
	if fail {
		return apperr.ErrTransferFailed
	}
	return f.Vault.Disburse(ctx, to, amount)
}

type harness struct {
	ledger    *storage.Ledger
	vault     *token.Vault
	tokens    *flakyTokens
	bus       *events.Bus
	clock     *testClock
	access    *access.Controller
	scenarios *ScenarioEngine
	wheel     *PrizeWheelEngine
}

func newHarness(t *testing.T, draws ...uint64) *harness {
	t.Helper()
	ctx := context.Background()

	ledger, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	require.NoError(t, ledger.Seed(ctx, access.Key(ownerAddr), testSpinCost, DefaultPrizeTiers))

	vault := token.NewVault(custodyAddr, map[common.Address]uint64{
		ownerAddr: startingBalance,
		aliceAddr: startingBalance,
		bobAddr:   startingBalance,
		carolAddr: startingBalance,
	})
	tokens := &flakyTokens{Vault: vault}

	if len(draws) == 0 {
		draws = []uint64{0}
	}
	clock := &testClock{now: t0}
	bus := events.NewBus(64)

	return &harness{
		ledger:    ledger,
		vault:     vault,
		tokens:    tokens,
		bus:       bus,
		clock:     clock,
		access:    access.NewController(ledger, bus).WithClock(clock.Now),
		scenarios: NewScenarioEngine(ledger, tokens, bus, testMarketParams).WithClock(clock.Now),
		wheel:     NewPrizeWheelEngine(ledger, tokens, rng.NewFixed(draws...), bus, testWheelParams).WithClock(clock.Now),
	}
}

// createScenario opens a scenario with betting closing at t0+100s and
// resolution closing at t0+200s
func (h *harness) createScenario(t *testing.T, description string) uint64 {
	t.Helper()
	id, err := h.scenarios.CreateScenario(context.Background(), ownerAddr, description, t0.Add(100*time.Second), t0.Add(200*time.Second))
	require.NoError(t, err)
	return id
}

func (h *harness) placeBet(t *testing.T, user common.Address, id, amount uint64, choice bool) {
	t.Helper()
	_, err := h.scenarios.PlaceBet(context.Background(), user, id, amount, choice)
	require.NoError(t, err)
}
