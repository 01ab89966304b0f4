package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenariomarket/internal/access"
	"scenariomarket/internal/apperr"
	"scenariomarket/internal/auth"
	"scenariomarket/internal/events"
	"scenariomarket/internal/metrics"
	"scenariomarket/internal/rng"
	"scenariomarket/internal/service"
	"scenariomarket/internal/storage"
	"scenariomarket/internal/token"
)

var (
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bobAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router  http.Handler
	issuer  *auth.Issuer
	vault   *token.Vault
	bus     *events.Bus
	hub     *Hub
	metrics *metrics.Metrics
	clock   *testClock
	start   time.Time
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	ctx := context.Background()

	ledger, err := storage.Open(ctx, storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	require.NoError(t, ledger.Seed(ctx, access.Key(ownerAddr), 1_000_000, service.DefaultPrizeTiers))

	vault := token.NewVault(custodyAddr, map[common.Address]uint64{
		ownerAddr: 1_000_000_000,
		aliceAddr: 1_000_000_000,
		bobAddr:   1_000_000_000,
		carolAddr: 1_000_000_000,
	})

	start := time.Now().Truncate(time.Second)
	clock := &testClock{now: start}
	bus := events.NewBus(64)

	acl := access.NewController(ledger, bus).WithClock(clock.Now)
	scenarios := service.NewScenarioEngine(ledger, vault, bus, service.MarketParams{FeeBps: 100, MinBet: 10, MaxBet: 100_000_000}).
		WithClock(clock.Now)
	wheel := service.NewPrizeWheelEngine(ledger, vault, rng.NewFixed(0), bus,
		service.WheelParams{ExtraSpinCost: 2_000_000, BypassFeeBps: 2000, Cooldown: 24 * time.Hour}).
		WithClock(clock.Now)
	issuer := auth.NewIssuer("handler-test-secret", time.Hour, 5*time.Minute)

	h := New(scenarios, wheel, acl, issuer, nil, vault)

	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	hub := NewHub(bus, []string{"*"})
	go hub.Run(hubCtx)
	t.Cleanup(hub.Attach(bus))

	m := metrics.New()
	opts.Hub = hub
	opts.Metrics = m
	opts.Health = ledger

	return &testServer{
		router:  NewRouter(h, opts),
		issuer:  issuer,
		vault:   vault,
		bus:     bus,
		hub:     hub,
		metrics: m,
		clock:   clock,
		start:   start,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, as *common.Address) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, _, err := s.issuer.Issue(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) createScenario(t *testing.T, description string) uint64 {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios", CreateScenarioRequest{
		Description:        description,
		BettingDeadline:    s.start.Add(100 * time.Second).Unix(),
		ResolutionDeadline: s.start.Add(200 * time.Second).Unix(),
	}, &ownerAddr)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp CreateScenarioResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestPingHandler(t *testing.T) {
	req, err := http.NewRequest("GET", "/ping", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(PingHandler)
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var response map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrBelowMinimum, http.StatusBadRequest},
		{apperr.ErrUnauthorized, http.StatusForbidden},
		{apperr.ErrScenarioNotFound, http.StatusNotFound},
		{apperr.ErrAlreadyClaimed, http.StatusConflict},
		{apperr.ErrPrizePoolEmpty, http.StatusUnprocessableEntity},
		{apperr.ErrTransferFailed, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", apperr.ErrNoBetFound), http.StatusNotFound},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scenario_market_http_requests_total")
}

func TestMutationsRequireAuth(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	paths := []string{
		"/api/scenarios",
		"/api/scenarios/1/bets",
		"/api/scenarios/1/resolve",
		"/api/scenarios/1/claim",
		"/api/admins",
		"/api/wheel/spin",
		"/api/wheel/fund",
	}
	for _, p := range paths {
		rec := s.do(t, http.MethodPost, p, map[string]interface{}{}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p)
	}

	rec := s.do(t, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetScenario(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	id := s.createScenario(t, "Will it rain in London tomorrow?")
	assert.Equal(t, uint64(1), id)

	rec := s.do(t, http.MethodGet, "/api/scenarios/1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view service.ScenarioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Will it rain in London tomorrow?", view.Description)
	assert.Equal(t, access.Key(ownerAddr), view.Creator)
	assert.False(t, view.IsClosed)
	assert.Equal(t, "weather", view.Category)

	rec = s.do(t, http.MethodGet, "/api/scenarios/count", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/scenarios?status=open", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []service.ScenarioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 1)

	rec = s.do(t, http.MethodGet, "/api/scenarios?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/scenarios/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperr.CodeScenarioNotFound), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/scenarios/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateScenarioValidation(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	t.Run("non-admin", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/scenarios", CreateScenarioRequest{
			Description:        "Will it snow?",
			BettingDeadline:    s.start.Add(time.Minute).Unix(),
			ResolutionDeadline: s.start.Add(time.Hour).Unix(),
		}, &aliceAddr)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(apperr.CodeUnauthorized), decodeError(t, rec).Error)
	})

	t.Run("deadline in the past", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/scenarios", CreateScenarioRequest{
			Description:        "Will it snow?",
			BettingDeadline:    s.start.Add(-time.Minute).Unix(),
			ResolutionDeadline: s.start.Add(time.Hour).Unix(),
		}, &ownerAddr)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(apperr.CodeInvalidDeadline), decodeError(t, rec).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/scenarios", strings.NewReader("{not json"))
		token, _, err := s.issuer.Issue(ownerAddr)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_BODY", decodeError(t, rec).Error)
	})
}

func TestBetResolveClaimFlow(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.createScenario(t, "Will the home team win the final?")
	base := fmt.Sprintf("/api/scenarios/%d", id)
	yes, no := true, false

	for _, b := range []struct {
		who    common.Address
		amount uint64
		choice *bool
	}{
		{aliceAddr, 100, &yes},
		{bobAddr, 500, &yes},
		{carolAddr, 400, &no},
	} {
		who := b.who
		rec := s.do(t, http.MethodPost, base+"/bets", PlaceBetRequest{Amount: b.amount, Choice: b.choice}, &who)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var view service.ScenarioView
	rec := s.do(t, http.MethodGet, base, nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, uint64(1000), view.TotalPool)
	assert.Equal(t, uint64(600), view.YesPool)
	assert.Equal(t, uint64(400), view.NoPool)

	rec = s.do(t, http.MethodPost, base+"/bets", PlaceBetRequest{Amount: 50, Choice: &no}, &aliceAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeDuplicateBet), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/bets", PlaceBetRequest{Amount: 50}, &ownerAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/resolve", ResolveRequest{Outcome: &yes}, &ownerAddr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CodeBettingStillOpen), decodeError(t, rec).Error)

	s.clock.Advance(150 * time.Second)

	rec = s.do(t, http.MethodPost, base+"/resolve", ResolveRequest{}, &ownerAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/resolve", ResolveRequest{Outcome: &yes}, &aliceAddr)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, base+"/resolve", ResolveRequest{Outcome: &yes}, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.IsResolved)
	assert.Equal(t, uint64(10), view.AdminFee)

	rec = s.do(t, http.MethodGet, base+"/bets/"+aliceAddr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bv service.BetView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bv))
	assert.True(t, bv.Won)
	assert.Equal(t, uint64(165), bv.Claimable)

	rec = s.do(t, http.MethodPost, base+"/claim", nil, &aliceAddr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"scenario_id":%d,"amount":165}`, id), rec.Body.String())

	rec = s.do(t, http.MethodPost, base+"/claim", nil, &aliceAddr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CodeAlreadyClaimed), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/claim", nil, &carolAddr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CodeBetDidNotWin), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, base+"/claim-fee", nil, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"scenario_id":%d,"amount":10}`, id), rec.Body.String())

	rec = s.do(t, http.MethodGet, base+"/bets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bets []storage.Bet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bets))
	assert.Len(t, bets, 3)

	rec = s.do(t, http.MethodGet, base+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []storage.LedgerEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.NotEmpty(t, history)

	rec = s.do(t, http.MethodGet, "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var board []storage.LeaderboardEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.Len(t, board, 3)
	// only claimed payouts count, so bob's unclaimed 825 leaves him last
	assert.Equal(t, access.Key(aliceAddr), board[0].User)
	assert.Equal(t, int64(65), board[0].Profit)
	assert.Equal(t, access.Key(bobAddr), board[2].User)

	assert.Equal(t, uint64(1_000_000_000-100+165), s.vault.Balance(aliceAddr))
}

func TestGetUserBetErrors(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createScenario(t, "Will it rain?")

	rec := s.do(t, http.MethodGet, "/api/scenarios/1/bets/"+aliceAddr.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperr.CodeNoBetFound), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/scenarios/7/bets/"+aliceAddr.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperr.CodeScenarioNotFound), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/scenarios/1/bets/nope", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeInvalidAddress), decodeError(t, rec).Error)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodPost, "/api/admins", AdminRequest{Address: aliceAddr.Hex()}, &bobAddr)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(apperr.CodeNotOwner), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/admins", AdminRequest{Address: aliceAddr.Hex()}, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var admins AdminsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &admins))
	assert.Equal(t, access.Key(ownerAddr), admins.Owner)
	assert.Contains(t, admins.Admins, access.Key(aliceAddr))

	// alice can now create scenarios
	rec = s.do(t, http.MethodPost, "/api/scenarios", CreateScenarioRequest{
		Description:        "Will the bill pass?",
		BettingDeadline:    s.start.Add(time.Minute).Unix(),
		ResolutionDeadline: s.start.Add(time.Hour).Unix(),
	}, &aliceAddr)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/admins/"+ownerAddr.Hex(), nil, &ownerAddr)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(apperr.CodeCannotRemoveOwner), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodDelete, "/api/admins/"+aliceAddr.Hex(), nil, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &admins))
	assert.NotContains(t, admins.Admins, access.Key(aliceAddr))

	rec = s.do(t, http.MethodPost, "/api/admins/transfer-ownership", AdminRequest{Address: bobAddr.Hex()}, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &admins))
	assert.Equal(t, access.Key(bobAddr), admins.Owner)

	rec = s.do(t, http.MethodGet, "/api/admins", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWheelEndpoints(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, http.MethodGet, "/api/wheel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wheel WheelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wheel))
	assert.Len(t, wheel.Tiers, len(service.DefaultPrizeTiers))
	assert.Equal(t, uint64(1_000_000), wheel.Cost.SpinCost)
	assert.Equal(t, uint64(2_000_000), wheel.Cost.ExtraSpinCost)
	assert.Equal(t, int64(86400), wheel.Cost.CooldownSecs)

	rec = s.do(t, http.MethodPost, "/api/wheel/spin", nil, &aliceAddr)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(apperr.CodePrizePoolEmpty), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/wheel/fund", AmountRequest{}, &aliceAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeZeroAmount), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/wheel/withdraw", AmountRequest{Amount: 1}, &aliceAddr)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/wheel/fund", AmountRequest{Amount: 100_000_000}, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"amount":100000000,"prize_pool":100000000}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/wheel/spin", nil, &aliceAddr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result service.SpinResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.TierIndex)
	assert.Zero(t, result.PrizeAmount)
	assert.False(t, result.Bypass)

	rec = s.do(t, http.MethodGet, "/api/wheel/eligibility/"+aliceAddr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var elig service.SpinEligibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &elig))
	assert.False(t, elig.CanSpin)
	assert.Equal(t, int64(86400), elig.TimeRemaining)

	rec = s.do(t, http.MethodPost, "/api/wheel/pause", nil, &aliceAddr)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/wheel/pause", nil, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	var state storage.WheelState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Paused)

	rec = s.do(t, http.MethodPost, "/api/wheel/spin", nil, &bobAddr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apperr.CodePaused), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/wheel/unpause", nil, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/wheel/tiers/9", TierRequest{Name: "X", Amount: 1, Probability: 1}, &ownerAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.CodeInvalidTierIndex), decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPut, "/api/wheel/tiers/x", TierRequest{}, &ownerAddr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/wheel/spin-cost", SpinCostRequest{Cost: 3_000_000}, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, uint64(3_000_000), state.SpinCost)
}

func TestHandleMe(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.createScenario(t, "Will it rain?")
	yes := true
	rec := s.do(t, http.MethodPost, "/api/scenarios/1/bets", PlaceBetRequest{Amount: 250, Choice: &yes}, &aliceAddr)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/me", nil, &aliceAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	var me MeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, access.Key(aliceAddr), me.Address)
	assert.False(t, me.IsAdmin)
	assert.False(t, me.IsOwner)
	require.NotNil(t, me.Balance)
	assert.Equal(t, uint64(1_000_000_000-250), *me.Balance)
	require.Len(t, me.Bets, 1)
	assert.True(t, me.Eligibility.CanSpin)

	rec = s.do(t, http.MethodGet, "/api/me", nil, &ownerAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.True(t, me.IsAdmin)
	assert.True(t, me.IsOwner)
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	rec := s.do(t, http.MethodGet, "/api/auth/message?address="+addr.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var msg struct {
		Message  string `json:"message"`
		IssuedAt int64  `json:"issued_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, auth.LoginMessage(addr, msg.IssuedAt), msg.Message)

	sig, err := crypto.Sign(accounts.TextHash([]byte(msg.Message)), key)
	require.NoError(t, err)
	sig[64] += 27

	rec = s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{
		Address:   addr.Hex(),
		IssuedAt:  msg.IssuedAt,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", LoginRequest{
		Address:   aliceAddr.Hex(),
		IssuedAt:  msg.IssuedAt,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	s := newTestServer(t, RouterOptions{RateLimitRPS: 1, RateLimitBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodGet, "/api/ping", nil, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// authenticated callers get their own bucket
	rec := s.do(t, http.MethodGet, "/api/ping", nil, &aliceAddr)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("a")
	rl.limiters["a"].lastSeen = time.Now().Add(-time.Hour)
	rl.getLimiter("b")

	rl.Cleanup(time.Minute)
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	s.bus.Publish(events.Event{Type: events.WheelFunded, Amount: 7})
	assert.Eventually(t, func() bool { return len(s.hub.broadcast) == 0 }, 2*time.Second, 10*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.bus.Publish(events.Event{Type: events.ScenarioCreated, ScenarioID: 42})

	var got []string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 3 {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		got = append(got, msg.Type)
	}
	assert.Equal(t, []string{"connected", string(events.WheelFunded), string(events.ScenarioCreated)}, got)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
}
