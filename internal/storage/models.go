package storage

import (
	"math"
	"time"
)

// MaxAmount is the largest token amount a signed BIGINT column can store
const MaxAmount = math.MaxInt64

// ScenarioStatus is the single source of truth for a scenario's lifecycle.
// Values are ordered: a scenario only ever moves to a greater status.
type ScenarioStatus string

const (
	ScenarioStatusOpen       ScenarioStatus = "OPEN"
	ScenarioStatusClosed     ScenarioStatus = "CLOSED"
	ScenarioStatusResolved   ScenarioStatus = "RESOLVED"
	ScenarioStatusFeeClaimed ScenarioStatus = "FEE_CLAIMED"
)

// Rank orders statuses along the lifecycle
func (s ScenarioStatus) Rank() int {
	switch s {
	case ScenarioStatusOpen:
		return 0
	case ScenarioStatusClosed:
		return 1
	case ScenarioStatusResolved:
		return 2
	case ScenarioStatusFeeClaimed:
		return 3
	default:
		return -1
	}
}

// Resolution records which deadline gate permitted the resolution
type Resolution string

const (
	ResolutionNone      Resolution = ""
	ResolutionNormal    Resolution = "normal"
	ResolutionEmergency Resolution = "emergency"
)

// Scenario is a binary-outcome market with its own pools and deadlines.
// Timestamps are unix seconds.
type Scenario struct {
	ID                 uint64         `json:"id" db:"id"`
	Description        string         `json:"description" db:"description"`
	Creator            string         `json:"creator" db:"creator"`
	CreatedAt          int64          `json:"created_at" db:"created_at"`
	BettingDeadline    int64          `json:"betting_deadline" db:"betting_deadline"`
	ResolutionDeadline int64          `json:"resolution_deadline" db:"resolution_deadline"`
	TotalPool          uint64         `json:"total_pool" db:"total_pool"`
	YesPool            uint64         `json:"yes_pool" db:"yes_pool"`
	NoPool             uint64         `json:"no_pool" db:"no_pool"`
	Status             ScenarioStatus `json:"status" db:"status"`
	Outcome            bool           `json:"outcome" db:"outcome"`
	Resolution         Resolution     `json:"resolution" db:"resolution"`
	ResolvedAt         int64          `json:"resolved_at" db:"resolved_at"`
	AdminFee           uint64         `json:"admin_fee" db:"admin_fee"`
}

// WinningPool returns the pool of the side that matches outcome
func (s *Scenario) WinningPool() uint64 {
	if s.Outcome {
		return s.YesPool
	}
	return s.NoPool
}

// BettingDeadlineTime returns the betting deadline as time.Time
func (s *Scenario) BettingDeadlineTime() time.Time {
	return time.Unix(s.BettingDeadline, 0)
}

// ResolutionDeadlineTime returns the resolution deadline as time.Time
func (s *Scenario) ResolutionDeadlineTime() time.Time {
	return time.Unix(s.ResolutionDeadline, 0)
}

// Bet is a user's stake on one side of a scenario, one per (user, scenario)
type Bet struct {
	User       string `json:"user" db:"user_address"`
	ScenarioID uint64 `json:"scenario_id" db:"scenario_id"`
	Amount     uint64 `json:"amount" db:"amount"`
	Choice     bool   `json:"choice" db:"choice"` // true = YES
	Claimed    bool   `json:"claimed" db:"claimed"`
	Payout     uint64 `json:"payout" db:"payout"`
	PlacedAt   int64  `json:"placed_at" db:"placed_at"`
	ClaimedAt  int64  `json:"claimed_at" db:"claimed_at"`
}

// Admin is a member of the admin set. The owner is implicit and stored in meta.
type Admin struct {
	Address string `json:"address" db:"address"`
	AddedBy string `json:"added_by" db:"added_by"`
	AddedAt int64  `json:"added_at" db:"added_at"`
}

// PrizeTier is one slice of the prize wheel
type PrizeTier struct {
	Index       int    `json:"index" db:"idx"`
	Name        string `json:"name" db:"name"`
	Amount      uint64 `json:"amount" db:"amount"`           // 0 = no win
	Probability uint64 `json:"probability" db:"probability"` // weight out of ProbabilityTotal
}

// WheelState is the single shared prize wheel balance sheet
type WheelState struct {
	PrizePool    uint64 `json:"prize_pool" db:"prize_pool"`
	SpinCost     uint64 `json:"spin_cost" db:"spin_cost"`
	AdminBalance uint64 `json:"admin_balance" db:"admin_balance"`
	Paused       bool   `json:"paused" db:"paused"`
}

// SpinRecord keeps only the latest spin per user, enough for the cooldown check
type SpinRecord struct {
	User         string `json:"user" db:"user_address"`
	LastSpinTime int64  `json:"last_spin_time" db:"last_spin_time"`
	SpinCount    uint64 `json:"spin_count" db:"spin_count"`
}

// EventKind labels a ledger event
type EventKind string

const (
	EventScenarioCreated  EventKind = "SCENARIO_CREATED"
	EventBetPlaced        EventKind = "BET_PLACED"
	EventBettingClosed    EventKind = "BETTING_CLOSED"
	EventScenarioResolved EventKind = "SCENARIO_RESOLVED"
	EventWinningsClaimed  EventKind = "WINNINGS_CLAIMED"
	EventAdminFeeClaimed  EventKind = "ADMIN_FEE_CLAIMED"
	EventAdminAdded       EventKind = "ADMIN_ADDED"
	EventAdminRemoved     EventKind = "ADMIN_REMOVED"
	EventOwnerTransferred EventKind = "OWNER_TRANSFERRED"
	EventPoolFunded       EventKind = "POOL_FUNDED"
	EventPoolWithdrawn    EventKind = "POOL_WITHDRAWN"
	EventSpin             EventKind = "SPIN"
	EventTierUpdated      EventKind = "TIER_UPDATED"
	EventWheelPaused      EventKind = "WHEEL_PAUSED"
	EventWheelUnpaused    EventKind = "WHEEL_UNPAUSED"
	EventSpinCostSet      EventKind = "SPIN_COST_SET"
	EventWheelFeesClaimed EventKind = "WHEEL_FEES_CLAIMED"
)

// LedgerEvent is an append-only audit row for every ledger mutation
type LedgerEvent struct {
	ID         string    `json:"id" db:"id"`
	Kind       EventKind `json:"kind" db:"kind"`
	ScenarioID uint64    `json:"scenario_id" db:"scenario_id"` // 0 for wheel/admin events
	Actor      string    `json:"actor" db:"actor"`
	Amount     uint64    `json:"amount" db:"amount"`
	Details    string    `json:"details" db:"details"`
	CreatedAt  int64     `json:"created_at" db:"created_at"`
}

// LeaderboardEntry aggregates a user's settled betting results
type LeaderboardEntry struct {
	User        string `json:"user" db:"user_address"`
	TotalBets   int64  `json:"total_bets" db:"total_bets"`
	TotalStaked uint64 `json:"total_staked" db:"total_staked"`
	TotalPaid   uint64 `json:"total_paid" db:"total_paid"`
	Profit      int64  `json:"profit" db:"profit"`
}
