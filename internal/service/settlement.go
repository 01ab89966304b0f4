package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/apperr"
	"scenariomarket/internal/logger"
	"scenariomarket/internal/storage"
)

// checkAmount rejects values the ledger columns cannot hold
func checkAmount(amount uint64) error {
	if amount > storage.MaxAmount {
		return fmt.Errorf("%w: %d > %d", apperr.ErrAmountTooLarge, amount, uint64(storage.MaxAmount))
	}
	return nil
}

// addAmount returns balance+amount, or ErrAmountTooLarge when the sum would
// not fit a ledger column
func addAmount(balance, amount uint64) (uint64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}
	if balance > storage.MaxAmount-amount {
		return 0, fmt.Errorf("%w: %d + %d", apperr.ErrAmountTooLarge, balance, amount)
	}
	return balance + amount, nil
}

// Transferer moves stake tokens between users and custody. Implementations
// live in the token package.
type Transferer interface {
	Collect(ctx context.Context, from common.Address, amount uint64) error
	Disburse(ctx context.Context, to common.Address, amount uint64) error
}

// transfers records completed token movements so they can be reversed if
// the ledger transaction does not commit.
type transfers struct {
	tokens Transferer
	undo   []func(ctx context.Context) error
	labels []string
}

func (t *transfers) collect(ctx context.Context, from common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := t.tokens.Collect(ctx, from, amount); err != nil {
		return fmt.Errorf("collect %d from %s: %w", amount, from.Hex(), err)
	}
	t.undo = append(t.undo, func(ctx context.Context) error { return t.tokens.Disburse(ctx, from, amount) })
	t.labels = append(t.labels, fmt.Sprintf("refund %d to %s", amount, from.Hex()))
	return nil
}

func (t *transfers) disburse(ctx context.Context, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := t.tokens.Disburse(ctx, to, amount); err != nil {
		return fmt.Errorf("disburse %d to %s: %w", amount, to.Hex(), err)
	}
	t.undo = append(t.undo, func(ctx context.Context) error { return t.tokens.Collect(ctx, to, amount) })
	t.labels = append(t.labels, fmt.Sprintf("reclaim %d from %s", amount, to.Hex()))
	return nil
}

// compensate reverses completed transfers, newest first. It ignores ctx
// cancellation: an aborted operation must still give the money back.
func (t *transfers) compensate(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			logger.Error("", "transfer_compensation_failed", fmt.Errorf("%s: %w", t.labels[i], err))
		}
	}
	t.undo, t.labels = nil, nil
}

// runLedgerOp executes fn inside one ledger transaction. Token transfers made
// through xfer are compensated if fn fails or the commit does.
func runLedgerOp(ctx context.Context, ledger *storage.Ledger, tokens Transferer, fn func(tx *storage.Tx, xfer *transfers) error) error {
	tx, err := ledger.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	xfer := &transfers{tokens: tokens}
	if err := fn(tx, xfer); err != nil {
		xfer.compensate(ctx)
		return err
	}
	if err := tx.Commit(); err != nil {
		xfer.compensate(ctx)
		return err
	}
	return nil
}
