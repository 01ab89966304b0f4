package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetWheelState returns the wheel balance sheet. Seed must have run.
func (s Store) GetWheelState(ctx context.Context) (*WheelState, error) {
	var w WheelState
	err := s.get(ctx, &w, `
		SELECT prize_pool, spin_cost, admin_balance, paused
		FROM wheel_state WHERE id = 1
	`)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wheel state not seeded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wheel state: %w", err)
	}
	return &w, nil
}

// UpdateWheelState writes back the whole wheel balance sheet
func (s Store) UpdateWheelState(ctx context.Context, w *WheelState) error {
	res, err := s.exec(ctx, `
		UPDATE wheel_state
		SET prize_pool = ?, spin_cost = ?, admin_balance = ?, paused = ?
		WHERE id = 1
	`, w.PrizePool, w.SpinCost, w.AdminBalance, w.Paused)
	if err != nil {
		return fmt.Errorf("failed to update wheel state: %w", err)
	}
	return expectOneRow(res, "update wheel state")
}

// ListPrizeTiers returns the tiers in index order
func (s Store) ListPrizeTiers(ctx context.Context) ([]PrizeTier, error) {
	tiers := []PrizeTier{}
	err := s.selectAll(ctx, &tiers, `
		SELECT idx, name, amount, probability FROM prize_tiers ORDER BY idx ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prize tiers: %w", err)
	}
	return tiers, nil
}

// UpdatePrizeTier overwrites one existing tier
func (s Store) UpdatePrizeTier(ctx context.Context, t *PrizeTier) error {
	res, err := s.exec(ctx, `
		UPDATE prize_tiers SET name = ?, amount = ?, probability = ? WHERE idx = ?
	`, t.Name, t.Amount, t.Probability, t.Index)
	if err != nil {
		return fmt.Errorf("failed to update prize tier: %w", err)
	}
	return expectOneRow(res, "update prize tier")
}

// GetSpinRecord returns the user's spin record, or nil if they never spun
func (s Store) GetSpinRecord(ctx context.Context, user string) (*SpinRecord, error) {
	var r SpinRecord
	err := s.get(ctx, &r, `
		SELECT user_address, last_spin_time, spin_count FROM spin_records WHERE user_address = ?
	`, user)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spin record: %w", err)
	}
	return &r, nil
}

// RecordSpin sets the user's last spin time and bumps their spin count
func (s Store) RecordSpin(ctx context.Context, user string, at int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO spin_records (user_address, last_spin_time, spin_count) VALUES (?, ?, 1)
		ON CONFLICT (user_address) DO UPDATE
		SET last_spin_time = excluded.last_spin_time, spin_count = spin_records.spin_count + 1
	`, user, at)
	if err != nil {
		return fmt.Errorf("failed to record spin: %w", err)
	}
	return nil
}
