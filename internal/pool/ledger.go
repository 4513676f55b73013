package pool

import (
	"context"
	"fmt"
	"math"
	"time"

	"termpool/internal/model"
)

// Deposit pulls amount from account into the pool. Top-ups are allowed while
// the cumulative deposit stays within the per-member cap.
func (p *Pool) Deposit(ctx context.Context, account model.Account, amount uint64) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	s := p.state

	if s.Round.PhaseAt(t.now) != model.PhaseOpen {
		return t.abort(fmt.Errorf("%w: round started %s", ErrDepositsClosed, s.Round.Start.Format(time.RFC3339)))
	}
	if !s.AllowList[account] {
		return t.abort(fmt.Errorf("%w: %s", ErrNotAllowListed, account))
	}
	if s.Memberships[account].Before(t.now) {
		return t.abort(fmt.Errorf("%w: %s", ErrMembershipLapsed, account))
	}
	if amount == 0 {
		return t.abort(ErrZeroAmount)
	}
	rec := s.Deposits[account]
	if amount > s.Terms.MaxPerMember-rec.Amount {
		return t.abort(fmt.Errorf("%w: %d deposited, %d requested, cap %d",
			ErrCapExceeded, rec.Amount, amount, s.Terms.MaxPerMember))
	}
	if s.Round.TotalDeposited > math.MaxUint64-amount {
		return t.abort(ErrAmountOverflow)
	}

	if rec.Amount == 0 {
		s.Directory = append(s.Directory, account)
	}
	rec.Amount += amount
	s.Deposits[account] = rec
	s.Round.TotalDeposited += amount
	s.Round.Active = true

	t.emit(model.Event{Kind: model.EventDepositAccepted, Account: account, Amount: amount})
	return t.commit(func(ctx context.Context) error {
		return p.token.TransferFrom(ctx, p.self, account, p.self, amount)
	})
}

// DepositOf returns account's deposit record for the current round.
func (p *Pool) DepositOf(account model.Account) (model.DepositRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.state.Deposits[account]
	return rec, ok
}

// Directory returns the accounts that deposited this round, in first-deposit order.
func (p *Pool) Directory() []model.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.Account(nil), p.state.Directory...)
}

// AddToAllowList allows account to deposit. Adding a listed account is a no-op.
func (p *Pool) AddToAllowList(ctx context.Context, caller, account model.Account) error {
	return p.setAllowListed(ctx, caller, account, true)
}

// RemoveFromAllowList bars account from depositing. Removing an unlisted account is a no-op.
func (p *Pool) RemoveFromAllowList(ctx context.Context, caller, account model.Account) error {
	return p.setAllowListed(ctx, caller, account, false)
}

func (p *Pool) setAllowListed(ctx context.Context, caller, account model.Account, listed bool) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if account == "" {
		return t.abort(ErrInvalidAccount)
	}
	if p.state.AllowList[account] == listed {
		return t.commit(nil)
	}

	note := "removed"
	if listed {
		p.state.AllowList[account] = true
		note = "added"
	} else {
		delete(p.state.AllowList, account)
	}
	t.emit(model.Event{Kind: model.EventAllowListChanged, Account: account, Note: note})
	return t.commit(nil)
}

// IsAllowListed reports whether account is on the allowlist.
func (p *Pool) IsAllowListed(account model.Account) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.AllowList[account]
}
