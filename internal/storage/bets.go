package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const betColumns = `user_address, scenario_id, amount, choice, claimed, payout, placed_at, claimed_at`

// GetBet returns the user's bet on a scenario, or nil if there is none
func (s Store) GetBet(ctx context.Context, user string, scenarioID uint64) (*Bet, error) {
	var b Bet
	err := s.get(ctx, &b, `
		SELECT `+betColumns+` FROM bets
		WHERE user_address = ? AND scenario_id = ?
	`, user, scenarioID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return &b, nil
}

// InsertBet records a new bet. The primary key rejects a second bet by the same user.
func (s Store) InsertBet(ctx context.Context, b *Bet) error {
	_, err := s.exec(ctx, `
		INSERT INTO bets (`+betColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.User, b.ScenarioID, b.Amount, b.Choice, b.Claimed, b.Payout, b.PlacedAt, b.ClaimedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bet: %w", err)
	}
	return nil
}

// MarkBetClaimed flips claimed and records the payout. Only an unclaimed bet matches.
func (s Store) MarkBetClaimed(ctx context.Context, user string, scenarioID, payout uint64, at int64) error {
	res, err := s.exec(ctx, `
		UPDATE bets SET claimed = TRUE, payout = ?, claimed_at = ?
		WHERE user_address = ? AND scenario_id = ? AND claimed = FALSE
	`, payout, at, user, scenarioID)
	if err != nil {
		return fmt.Errorf("failed to mark bet claimed: %w", err)
	}
	return expectOneRow(res, "mark bet claimed")
}

// ListBetsByUser returns all bets of a user, newest first
func (s Store) ListBetsByUser(ctx context.Context, user string) ([]Bet, error) {
	bets := []Bet{}
	err := s.selectAll(ctx, &bets, `
		SELECT `+betColumns+` FROM bets
		WHERE user_address = ?
		ORDER BY placed_at DESC, scenario_id DESC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bets: %w", err)
	}
	return bets, nil
}

// ListBetsByScenario returns all bets on a scenario in placement order
func (s Store) ListBetsByScenario(ctx context.Context, scenarioID uint64) ([]Bet, error) {
	bets := []Bet{}
	err := s.selectAll(ctx, &bets, `
		SELECT `+betColumns+` FROM bets
		WHERE scenario_id = ?
		ORDER BY placed_at ASC, user_address ASC
	`, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario bets: %w", err)
	}
	return bets, nil
}

// Leaderboard ranks users by claimed payouts minus stakes on settled scenarios
func (s Store) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	type row struct {
		User        string `db:"user_address"`
		TotalBets   int64  `db:"total_bets"`
		TotalStaked uint64 `db:"total_staked"`
		TotalPaid   uint64 `db:"total_paid"`
	}
	rows := []row{}
	err := s.selectAll(ctx, &rows, `
		SELECT b.user_address AS user_address,
			COUNT(*) AS total_bets,
			COALESCE(SUM(b.amount), 0) AS total_staked,
			COALESCE(SUM(b.payout), 0) AS total_paid
		FROM bets b
		JOIN scenarios s ON s.id = b.scenario_id
		WHERE s.status IN (?, ?)
		GROUP BY b.user_address
		ORDER BY COALESCE(SUM(b.payout), 0) - COALESCE(SUM(b.amount), 0) DESC, b.user_address ASC
		LIMIT ?
	`, string(ScenarioStatusResolved), string(ScenarioStatusFeeClaimed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, LeaderboardEntry{
			User:        r.User,
			TotalBets:   r.TotalBets,
			TotalStaked: r.TotalStaked,
			TotalPaid:   r.TotalPaid,
			Profit:      int64(r.TotalPaid) - int64(r.TotalStaked),
		})
	}
	return entries, nil
}
