package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendEvent writes an audit row. ID is assigned when empty.
func (s Store) AppendEvent(ctx context.Context, e *LedgerEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, `
		INSERT INTO ledger_events (id, kind, scenario_id, actor, amount, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Kind), e.ScenarioID, e.Actor, e.Amount, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append ledger event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first. scenarioID 0 lists all events.
func (s Store) ListEvents(ctx context.Context, scenarioID uint64, limit int) ([]LedgerEvent, error) {
	query := `SELECT id, kind, scenario_id, actor, amount, details, created_at FROM ledger_events`
	var args []interface{}
	if scenarioID != 0 {
		query += ` WHERE scenario_id = ?`
		args = append(args, scenarioID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	events := []LedgerEvent{}
	if err := s.selectAll(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list ledger events: %w", err)
	}
	return events, nil
}
