// Package payout computes proportional winnings and fees for resolved scenarios.
// Every function is pure.
package payout

import (
	"github.com/holiman/uint256"
)

const (
	// BasisPoints is the denominator for all fee rates (100 bps = 1%)
	BasisPoints = 10000

	// fallbackFeeBps is the flat fee withheld when pool bookkeeping is degenerate
	fallbackFeeBps = 100
)

// AdminFee returns floor(totalPool * feeBps / 10000)
func AdminFee(totalPool, feeBps uint64) uint64 {
	return mulDiv(totalPool, feeBps, BasisPoints)
}

// ComputeWinnings returns what a winning bet of betAmount receives.
//
// Parimutuel formula: Winnings = BetAmount * (TotalPool - AdminFee) / WinningPool.
// When either pool is zero the books disagree with the bet's existence, so the
// bettor gets their stake back minus 1% of the total pool, never below zero.
func ComputeWinnings(betAmount, winningPool, totalPool, adminFee uint64) uint64 {
	if winningPool == 0 || totalPool == 0 {
		fee := mulDiv(totalPool, fallbackFeeBps, BasisPoints)
		if fee >= betAmount {
			return 0
		}
		return betAmount - fee
	}

	if adminFee >= totalPool {
		return 0
	}
	adjustedPool := totalPool - adminFee

	winnings := mulDiv(betAmount, adjustedPool, winningPool)
	// A bet larger than its own side's pool means inconsistent books; never pay
	// out more than the pool holds.
	if winnings > adjustedPool {
		return adjustedPool
	}
	return winnings
}

// Profit is winnings minus the original stake; negative only on the fallback path
func Profit(winnings, betAmount uint64) int64 {
	return int64(winnings) - int64(betAmount)
}

// Share returns floor(amount * bps / 10000), used for the wheel bypass fee split
func Share(amount, bps uint64) uint64 {
	return mulDiv(amount, bps, BasisPoints)
}

// mulDiv computes floor(x*y/d) without intermediate overflow. Results that do
// not fit in 64 bits saturate.
func mulDiv(x, y, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	res, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !res.IsUint64() {
		return ^uint64(0)
	}
	return res.Uint64()
}
