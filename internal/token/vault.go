// Package token moves stake tokens between users and the market's custody account.
package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"scenariomarket/internal/apperr"
)

// Vault is an in-memory custody ledger for development and tests. Users are
// credited through the faucet; Collect and Disburse move funds to and from custody.
type Vault struct {
	mu       sync.RWMutex
	custody  common.Address
	balances map[common.Address]uint64
	version  uint64
}

// NewVault creates a vault holding initial balances
func NewVault(custody common.Address, initial map[common.Address]uint64) *Vault {
	balances := make(map[common.Address]uint64)
	for k, v := range initial {
		balances[k] = v
	}
	return &Vault{custody: custody, balances: balances}
}

// Custody returns the address holding staked funds
func (v *Vault) Custody() common.Address {
	return v.custody
}

// Collect pulls amount from a user into custody
func (v *Vault) Collect(ctx context.Context, from common.Address, amount uint64) error {
	return v.transfer(ctx, from, v.custody, amount)
}

// Disburse pays amount out of custody to a user
func (v *Vault) Disburse(ctx context.Context, to common.Address, amount uint64) error {
	return v.transfer(ctx, v.custody, to, amount)
}

// Faucet credits a user with freshly minted funds
func (v *Vault) Faucet(addr common.Address, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[addr] += amount
	v.version++
}

// Balance returns the balance of addr
func (v *Vault) Balance(addr common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[addr]
}

// Version increments on every balance change
func (v *Vault) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

func (v *Vault) transfer(ctx context.Context, from, to common.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrTransferFailed, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", apperr.ErrInsufficientBalance, from.Hex(), v.balances[from], amount)
	}
	v.balances[from] -= amount
	v.balances[to] += amount
	v.version++
	return nil
}
