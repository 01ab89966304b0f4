package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const scenarioColumns = `id, description, creator, created_at, betting_deadline, resolution_deadline,
	total_pool, yes_pool, no_pool, status, outcome, resolution, resolved_at, admin_fee`

// ScenarioFilter narrows ListScenarios. Zero values mean "no filter".
type ScenarioFilter struct {
	Status  ScenarioStatus
	Creator string
	Limit   int
	Offset  int
}

// NextScenarioID returns the id the next created scenario will get.
// Must be called inside the transaction that inserts it.
func (s Store) NextScenarioID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.get(ctx, &id, `SELECT COALESCE(MAX(id), 0) + 1 FROM scenarios`); err != nil {
		return 0, fmt.Errorf("failed to get next scenario id: %w", err)
	}
	return id, nil
}

// InsertScenario stores a new scenario
func (s Store) InsertScenario(ctx context.Context, sc *Scenario) error {
	_, err := s.exec(ctx, `
		INSERT INTO scenarios (`+scenarioColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.Description, sc.Creator, sc.CreatedAt, sc.BettingDeadline, sc.ResolutionDeadline,
		sc.TotalPool, sc.YesPool, sc.NoPool, string(sc.Status), sc.Outcome, string(sc.Resolution),
		sc.ResolvedAt, sc.AdminFee)
	if err != nil {
		return fmt.Errorf("failed to insert scenario: %w", err)
	}
	return nil
}

// GetScenario returns the scenario or nil if it does not exist
func (s Store) GetScenario(ctx context.Context, id uint64) (*Scenario, error) {
	var sc Scenario
	err := s.get(ctx, &sc, `SELECT `+scenarioColumns+` FROM scenarios WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scenario: %w", err)
	}
	return &sc, nil
}

// UpdateScenario writes back the mutable part of a scenario
func (s Store) UpdateScenario(ctx context.Context, sc *Scenario) error {
	res, err := s.exec(ctx, `
		UPDATE scenarios
		SET total_pool = ?, yes_pool = ?, no_pool = ?, status = ?, outcome = ?,
			resolution = ?, resolved_at = ?, admin_fee = ?
		WHERE id = ?
	`, sc.TotalPool, sc.YesPool, sc.NoPool, string(sc.Status), sc.Outcome,
		string(sc.Resolution), sc.ResolvedAt, sc.AdminFee, sc.ID)
	if err != nil {
		return fmt.Errorf("failed to update scenario: %w", err)
	}
	return expectOneRow(res, "update scenario")
}

// CountScenarios returns the number of scenarios ever created
func (s Store) CountScenarios(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.get(ctx, &n, `SELECT COUNT(*) FROM scenarios`); err != nil {
		return 0, fmt.Errorf("failed to count scenarios: %w", err)
	}
	return n, nil
}

// ListScenarios returns scenarios newest first
func (s Store) ListScenarios(ctx context.Context, f ScenarioFilter) ([]Scenario, error) {
	query := `SELECT ` + scenarioColumns + ` FROM scenarios WHERE 1 = 1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Creator != "" {
		query += ` AND creator = ?`
		args = append(args, f.Creator)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	scenarios := []Scenario{}
	if err := s.selectAll(ctx, &scenarios, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	return scenarios, nil
}

// ListOpenPastBettingDeadline returns OPEN scenarios whose betting deadline is at or before now
func (s Store) ListOpenPastBettingDeadline(ctx context.Context, now int64) ([]Scenario, error) {
	scenarios := []Scenario{}
	err := s.selectAll(ctx, &scenarios, `
		SELECT `+scenarioColumns+` FROM scenarios
		WHERE status = ? AND betting_deadline <= ?
		ORDER BY id ASC
	`, string(ScenarioStatusOpen), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired scenarios: %w", err)
	}
	return scenarios, nil
}

// ListUnresolvedPastResolutionDeadline returns scenarios that can only be emergency resolved
func (s Store) ListUnresolvedPastResolutionDeadline(ctx context.Context, now int64) ([]Scenario, error) {
	scenarios := []Scenario{}
	err := s.selectAll(ctx, &scenarios, `
		SELECT `+scenarioColumns+` FROM scenarios
		WHERE status IN (?, ?) AND resolution_deadline <= ?
		ORDER BY id ASC
	`, string(ScenarioStatusOpen), string(ScenarioStatusClosed), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved scenarios: %w", err)
	}
	return scenarios, nil
}
