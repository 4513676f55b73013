package pool

import "errors"

// Error classes. Every error returned by a pool operation matches exactly one
// of these with errors.Is.
var (
	ErrPhase        = errors.New("pool: phase violation")
	ErrUnauthorized = errors.New("pool: authorization violation")
	ErrIneligible   = errors.New("pool: eligibility violation")
	ErrCapacity     = errors.New("pool: capacity violation")
	ErrState        = errors.New("pool: state violation")
	ErrTransfer     = errors.New("pool: external transfer failed")
)

// classError is a specific failure belonging to one class.
type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return "pool: " + e.msg }
func (e *classError) Unwrap() error { return e.class }

func newError(class error, msg string) error {
	return &classError{class: class, msg: msg}
}

var (
	// ErrDepositsClosed indicates a deposit after the round started.
	ErrDepositsClosed = newError(ErrPhase, "deposits are only accepted before the round starts")

	// ErrRoundNotStarted indicates a sweep before the round started.
	ErrRoundNotStarted = newError(ErrPhase, "round has not started")

	// ErrOutsideFundingWindow indicates dispersal funding outside the last week before dispersal.
	ErrOutsideFundingWindow = newError(ErrPhase, "dispersal funding is only accepted in the week before dispersal")

	// ErrBeforeDispersal indicates a withdrawal before the dispersal date.
	ErrBeforeDispersal = newError(ErrPhase, "withdrawals open at the dispersal date")

	// ErrRoundStarted indicates reconfiguration after the round started.
	ErrRoundStarted = newError(ErrPhase, "round has already started")

	// ErrNotOwner indicates a non-owner invoked an owner-only operation.
	ErrNotOwner = newError(ErrUnauthorized, "caller is not the owner")

	// ErrNotAllowListed indicates the caller is not on the allowlist.
	ErrNotAllowListed = newError(ErrIneligible, "account is not allowlisted")

	// ErrMembershipLapsed indicates the caller's membership has expired.
	ErrMembershipLapsed = newError(ErrIneligible, "membership is not active")

	// ErrNotDepositor indicates the caller has no deposit this round.
	ErrNotDepositor = newError(ErrIneligible, "account has no deposit this round")

	// ErrZeroAmount indicates a zero amount.
	ErrZeroAmount = newError(ErrCapacity, "amount must be positive")

	// ErrCapExceeded indicates a deposit would exceed the per-member cap.
	ErrCapExceeded = newError(ErrCapacity, "deposit exceeds per-member cap")

	// ErrProtectedFunds indicates a recovery would dip into funds owed to members.
	ErrProtectedFunds = newError(ErrCapacity, "amount exceeds recoverable surplus")

	// ErrAmountOverflow indicates an accounting counter would overflow.
	ErrAmountOverflow = newError(ErrCapacity, "amount overflows pool accounting")

	// ErrAlreadyWithdrawn indicates a second withdrawal in the same round.
	ErrAlreadyWithdrawn = newError(ErrState, "deposit already withdrawn")

	// ErrMembershipActive indicates a renewal while active when early renewal is disabled.
	ErrMembershipActive = newError(ErrState, "membership is still active")

	// ErrRoundHasDeposits indicates reconfiguration of a round that accepted deposits.
	ErrRoundHasDeposits = newError(ErrState, "round has already accepted deposits")

	// ErrRoundNotSettled indicates a reset while deposits are neither withdrawn nor forfeited.
	ErrRoundNotSettled = newError(ErrState, "round is not settled")

	// ErrClaimEligible indicates a forfeit of a claim its owner can still withdraw.
	ErrClaimEligible = newError(ErrState, "depositor is still eligible to withdraw")

	// ErrStartNotInFuture indicates a round start that is not strictly in the future.
	ErrStartNotInFuture = newError(ErrState, "round start must be in the future")

	// ErrNothingDeposited indicates a sweep of a round without deposits.
	ErrNothingDeposited = newError(ErrState, "round has no deposits")

	// ErrNothingToSweep indicates all principal has already been swept.
	ErrNothingToSweep = newError(ErrState, "nothing left to sweep")

	// ErrInsufficientDispersalFunds indicates the owner has not funded enough to pay a withdrawal.
	ErrInsufficientDispersalFunds = newError(ErrState, "dispersal funds do not cover the withdrawal")

	// ErrInvalidTerms indicates unusable round terms.
	ErrInvalidTerms = newError(ErrState, "invalid terms")

	// ErrInvalidAccount indicates an empty account identifier.
	ErrInvalidAccount = newError(ErrState, "invalid account")

	// ErrReentrantCall indicates a pool call made from inside another pool call's transfer.
	ErrReentrantCall = newError(ErrState, "reentrant call")
)

// ErrTransfer comes first: a failed transfer may wrap the asset's own error,
// which can itself carry a pool class.
var classes = []error{ErrTransfer, ErrPhase, ErrUnauthorized, ErrIneligible, ErrCapacity, ErrState}

// Class returns the class sentinel err belongs to, or nil.
func Class(err error) error {
	for _, c := range classes {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
