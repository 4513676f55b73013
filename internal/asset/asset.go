package asset

import (
	"context"
	"errors"

	"termpool/internal/model"
)

var (
	// ErrInsufficientBalance indicates the source account cannot cover the amount.
	ErrInsufficientBalance = errors.New("asset: insufficient balance")

	// ErrInsufficientAllowance indicates the spender was not approved for the amount.
	ErrInsufficientAllowance = errors.New("asset: insufficient allowance")

	// ErrOverflow indicates a balance or allowance would overflow.
	ErrOverflow = errors.New("asset: amount overflow")

	// ErrRevertFailed indicates a failed transfer could not be undone because
	// the recipient no longer holds the funds.
	ErrRevertFailed = errors.New("asset: revert failed")
)

// Asset is a fungible value asset. A returned error means no value moved,
// unless it wraps ErrRevertFailed. Code that runs during a transfer and calls
// back into the pool must pass on the ctx it was given.
type Asset interface {
	Name() string
	Transfer(ctx context.Context, from, to model.Account, amount uint64) error
	TransferFrom(ctx context.Context, spender, from, to model.Account, amount uint64) error
	BalanceOf(account model.Account) uint64
	Approve(owner, spender model.Account, amount uint64) error
	Allowance(owner, spender model.Account) uint64
}
