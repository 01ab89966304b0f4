package service

import (
	"fmt"
	"time"

	"scenariomarket/internal/apperr"
	"scenariomarket/internal/storage"
)

// allowedTransitions lists every legal status edge. Anything else is rejected.
var allowedTransitions = map[storage.ScenarioStatus][]storage.ScenarioStatus{
	storage.ScenarioStatusOpen:     {storage.ScenarioStatusClosed, storage.ScenarioStatusResolved},
	storage.ScenarioStatusClosed:   {storage.ScenarioStatusResolved},
	storage.ScenarioStatusResolved: {storage.ScenarioStatusFeeClaimed},
}

// transition moves sc to status `to`, or fails with apperr.ErrInvalidTransition
func transition(sc *storage.Scenario, to storage.ScenarioStatus) error {
	for _, next := range allowedTransitions[sc.Status] {
		if next == to {
			sc.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, sc.Status, to)
}

// ScenarioView is a scenario as callers see it at a given instant
type ScenarioView struct {
	storage.Scenario
	IsClosed   bool   `json:"is_closed"`
	IsResolved bool   `json:"is_resolved"`
	FeeClaimed bool   `json:"fee_claimed"`
	Title      string `json:"title"`
	Category   string `json:"category"`
}

func viewOf(sc *storage.Scenario, now time.Time) ScenarioView {
	return ScenarioView{
		Scenario:   *sc,
		IsClosed:   isClosed(sc, now),
		IsResolved: isResolved(sc),
		FeeClaimed: sc.Status == storage.ScenarioStatusFeeClaimed,
		Title:      Title(sc.Description),
		Category:   Category(sc.Description),
	}
}

// isClosed is true once betting was closed explicitly or the deadline passed
func isClosed(sc *storage.Scenario, now time.Time) bool {
	return sc.Status.Rank() >= storage.ScenarioStatusClosed.Rank() || now.Unix() >= sc.BettingDeadline
}

func isResolved(sc *storage.Scenario) bool {
	return sc.Status.Rank() >= storage.ScenarioStatusResolved.Rank()
}
