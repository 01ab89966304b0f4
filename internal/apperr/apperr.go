// Package apperr defines the discriminated error kinds returned by the engines.
// Callers branch on Kind or Code, never on message text.
package apperr

import "errors"

// Kind groups error codes into the classes callers usually branch on
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindState
	KindResource
	KindExternalTransfer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindExternalTransfer:
		return "external_transfer"
	default:
		return "internal"
	}
}

// Code identifies a single failure condition
type Code string

const (
	CodeInvalidDeadline         Code = "InvalidDeadline"
	CodeInvalidDescription      Code = "InvalidDescription"
	CodeInvalidAddress          Code = "InvalidAddress"
	CodeBelowMinimum            Code = "BelowMinimum"
	CodeAboveMaximum            Code = "AboveMaximum"
	CodeDuplicateBet            Code = "DuplicateBet"
	CodeZeroAmount              Code = "ZeroAmount"
	CodeAmountTooLarge          Code = "AmountTooLarge"
	CodeInvalidTierIndex        Code = "InvalidTierIndex"
	CodeProbabilitySumInvalid   Code = "ProbabilitySumInvalid"
	CodeUnauthorized            Code = "Unauthorized"
	CodeNotOwner                Code = "NotOwner"
	CodeCannotRemoveOwner       Code = "CannotRemoveOwner"
	CodeScenarioNotFound        Code = "ScenarioNotFound"
	CodeNoBetFound              Code = "NoBetFound"
	CodeAlreadyResolved         Code = "AlreadyResolved"
	CodeAlreadyClaimed          Code = "AlreadyClaimed"
	CodeAlreadyClosed           Code = "AlreadyClosed"
	CodeBettingClosed           Code = "BettingClosed"
	CodeBettingStillOpen        Code = "BettingStillOpen"
	CodeResolutionWindowExpired Code = "ResolutionWindowExpired"
	CodeResolutionWindowActive  Code = "ResolutionWindowActive"
	CodeNotResolved             Code = "NotResolved"
	CodeBetDidNotWin            Code = "BetDidNotWin"
	CodeFeeAlreadyClaimed       Code = "FeeAlreadyClaimed"
	CodeInvalidTransition       Code = "InvalidTransition"
	CodePaused                  Code = "Paused"
	CodePrizePoolEmpty          Code = "PrizePoolEmpty"
	CodeInsufficientPool        Code = "InsufficientPool"
	CodeSpinCostNotSet          Code = "SpinCostNotSet"
	CodePoolInsolvent           Code = "PoolInsolvent"
	CodeNoFeeToClaim            Code = "NoFeeToClaim"
	CodeTransferFailed          Code = "TransferFailed"
	CodeInsufficientBalance     Code = "InsufficientBalance"
)

// Error is a coded engine failure. Sentinels are compared by identity, so
// errors.Is works through fmt.Errorf("...: %w", err) wrapping.
type Error struct {
	Code Code
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func newError(kind Kind, code Code, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrInvalidDeadline       = newError(KindValidation, CodeInvalidDeadline, "invalid deadline")
	ErrInvalidDescription    = newError(KindValidation, CodeInvalidDescription, "description must not be empty")
	ErrInvalidAddress        = newError(KindValidation, CodeInvalidAddress, "invalid address")
	ErrBelowMinimum          = newError(KindValidation, CodeBelowMinimum, "bet amount below minimum")
	ErrAboveMaximum          = newError(KindValidation, CodeAboveMaximum, "bet amount above maximum")
	ErrDuplicateBet          = newError(KindValidation, CodeDuplicateBet, "user already has a bet on this scenario")
	ErrZeroAmount            = newError(KindValidation, CodeZeroAmount, "amount must be greater than zero")
	ErrAmountTooLarge        = newError(KindValidation, CodeAmountTooLarge, "amount exceeds the ledger maximum")
	ErrInvalidTierIndex      = newError(KindValidation, CodeInvalidTierIndex, "prize tier index out of range")
	ErrProbabilitySumInvalid = newError(KindValidation, CodeProbabilitySumInvalid, "prize tier probabilities must sum to the probability total")

	ErrUnauthorized      = newError(KindAuthorization, CodeUnauthorized, "caller is not an admin")
	ErrNotOwner          = newError(KindAuthorization, CodeNotOwner, "caller is not the owner")
	ErrCannotRemoveOwner = newError(KindAuthorization, CodeCannotRemoveOwner, "owner cannot be removed from admins")

	ErrScenarioNotFound = newError(KindNotFound, CodeScenarioNotFound, "scenario not found")
	ErrNoBetFound       = newError(KindNotFound, CodeNoBetFound, "no bet found")

	ErrAlreadyResolved         = newError(KindState, CodeAlreadyResolved, "scenario already resolved")
	ErrAlreadyClaimed          = newError(KindState, CodeAlreadyClaimed, "winnings already claimed")
	ErrAlreadyClosed           = newError(KindState, CodeAlreadyClosed, "scenario already closed")
	ErrBettingClosed           = newError(KindState, CodeBettingClosed, "betting is closed")
	ErrBettingStillOpen        = newError(KindState, CodeBettingStillOpen, "betting deadline has not passed")
	ErrResolutionWindowExpired = newError(KindState, CodeResolutionWindowExpired, "resolution deadline has passed")
	ErrResolutionWindowActive  = newError(KindState, CodeResolutionWindowActive, "resolution deadline has not passed")
	ErrNotResolved             = newError(KindState, CodeNotResolved, "scenario not resolved")
	ErrBetDidNotWin            = newError(KindState, CodeBetDidNotWin, "bet did not win")
	ErrFeeAlreadyClaimed       = newError(KindState, CodeFeeAlreadyClaimed, "admin fee already claimed")
	ErrInvalidTransition       = newError(KindState, CodeInvalidTransition, "invalid scenario status transition")
	ErrPaused                  = newError(KindState, CodePaused, "prize wheel is paused")

	ErrPrizePoolEmpty   = newError(KindResource, CodePrizePoolEmpty, "prize pool is empty")
	ErrInsufficientPool = newError(KindResource, CodeInsufficientPool, "insufficient prize pool")
	ErrSpinCostNotSet   = newError(KindResource, CodeSpinCostNotSet, "spin cost not set")
	ErrPoolInsolvent    = newError(KindResource, CodePoolInsolvent, "prize pool cannot cover the largest prize tier")
	ErrNoFeeToClaim     = newError(KindResource, CodeNoFeeToClaim, "no fee to claim")

	ErrTransferFailed      = newError(KindExternalTransfer, CodeTransferFailed, "token transfer failed")
	ErrInsufficientBalance = newError(KindExternalTransfer, CodeInsufficientBalance, "insufficient token balance")
)

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for uncoded errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or "" for uncoded errors
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}
