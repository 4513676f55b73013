package asset

import (
	"context"
	"fmt"
	"math"
	"sync"

	"termpool/internal/model"
)

// TransferHook runs after a ledger transfer has moved value, before the
// transfer call returns. It stands in for recipient code that runs during a
// token transfer.
type TransferHook func(ctx context.Context, from, to model.Account, amount uint64) error

// Ledger is an in-memory fungible token.
type Ledger struct {
	mu         sync.Mutex
	name       string
	balances   map[model.Account]uint64
	allowances map[model.Account]map[model.Account]uint64
	hook       TransferHook
}

// Compile-time interface check.
var _ Asset = (*Ledger)(nil)

// NewLedger creates an empty ledger for the named token.
func NewLedger(name string) *Ledger {
	return &Ledger{
		name:       name,
		balances:   map[model.Account]uint64{},
		allowances: map[model.Account]map[model.Account]uint64{},
	}
}

func (l *Ledger) Name() string { return l.name }

// SetHook installs a hook called after every successful transfer.
func (l *Ledger) SetHook(hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// Mint credits amount to account.
func (l *Ledger) Mint(account model.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[account] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.balances[account] += amount
	return nil
}

func (l *Ledger) BalanceOf(account model.Account) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

func (l *Ledger) Approve(owner, spender model.Account, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = map[model.Account]uint64{}
	}
	l.allowances[owner][spender] = amount
	return nil
}

func (l *Ledger) Allowance(owner, spender model.Account) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to model.Account, amount uint64) error {
	l.mu.Lock()
	if err := l.move(from, to, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	hook := l.hook
	l.mu.Unlock()
	return l.runHook(ctx, hook, from, to, amount, func() error {
		return l.unmove(from, to, amount)
	})
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to model.Account, amount uint64) error {
	l.mu.Lock()
	allowed := l.allowances[from][spender]
	if allowed < amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s approved %d for %s, need %d", ErrInsufficientAllowance, from, allowed, spender, amount)
	}
	if err := l.move(from, to, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	l.allowances[from][spender] = allowed - amount
	hook := l.hook
	l.mu.Unlock()
	return l.runHook(ctx, hook, from, to, amount, func() error {
		if err := l.unmove(from, to, amount); err != nil {
			return err
		}
		l.allowances[from][spender] += amount
		return nil
	})
}

// move must be called with l.mu held.
func (l *Ledger) move(from, to model.Account, amount uint64) error {
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from, l.balances[from], amount)
	}
	if from == to {
		return nil
	}
	if l.balances[to] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// unmove must be called with l.mu held. It fails without touching balances
// when the recipient no longer holds amount.
func (l *Ledger) unmove(from, to model.Account, amount uint64) error {
	if from == to {
		return nil
	}
	if l.balances[to] < amount {
		return fmt.Errorf("%w: %s holds %d, moved %d", ErrRevertFailed, to, l.balances[to], amount)
	}
	l.balances[to] -= amount
	l.balances[from] += amount
	return nil
}

// runHook calls hook and runs revert under the lock if it fails. If the
// recipient already spent the funds the revert is refused and both errors
// are returned.
func (l *Ledger) runHook(ctx context.Context, hook TransferHook, from, to model.Account, amount uint64, revert func() error) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, from, to, amount); err != nil {
		l.mu.Lock()
		rerr := revert()
		l.mu.Unlock()
		if rerr != nil {
			return fmt.Errorf("transfer hook: %w; %w", err, rerr)
		}
		return fmt.Errorf("transfer hook: %w", err)
	}
	return nil
}
