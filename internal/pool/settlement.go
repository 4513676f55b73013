package pool

import (
	"context"
	"fmt"
	"math"
	"time"

	"termpool/internal/asset"
	"termpool/internal/model"
)

// InterestFor returns the fixed one-term interest on amount. The term is
// always exactly one year, so there is no proration.
func (p *Pool) InterestFor(amount uint64) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return interest(amount, p.state.Terms)
}

func interest(amount uint64, terms model.Terms) uint64 {
	return amount * terms.APYPercent / 100
}

// TransferToOwner sweeps pooled deposits to the owner once the round has started.
func (p *Pool) TransferToOwner(ctx context.Context, caller model.Account) (uint64, error) {
	t, err := p.begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.requireOwner(caller); err != nil {
		return 0, t.abort(err)
	}
	r := &p.state.Round
	if r.PhaseAt(t.now) == model.PhaseOpen {
		return 0, t.abort(fmt.Errorf("%w: starts %s", ErrRoundNotStarted, r.Start.Format(time.RFC3339)))
	}
	if r.TotalDeposited == 0 {
		return 0, t.abort(ErrNothingDeposited)
	}

	principal := r.TotalDeposited - r.Swept
	var amount uint64
	switch p.sweepMode {
	case SweepBalance:
		amount = p.token.BalanceOf(p.self)
		// whatever exceeds unswept principal comes out of dispersal funds first
		if amount > principal {
			excess := amount - principal
			if excess > r.DispersalFunds {
				excess = r.DispersalFunds
			}
			r.DispersalFunds -= excess
			r.Swept = r.TotalDeposited
		} else {
			r.Swept += amount
		}
	default:
		amount = principal
		r.Swept = r.TotalDeposited
	}
	if amount == 0 {
		return 0, t.abort(ErrNothingToSweep)
	}

	owner := p.state.Owner
	t.emit(model.Event{Kind: model.EventFundsSwept, Account: owner, Amount: amount})
	err = t.commit(func(ctx context.Context) error {
		return p.token.Transfer(ctx, p.self, owner, amount)
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// DepositForDispersal pulls payout capital from the owner during the week
// before dispersal.
func (p *Pool) DepositForDispersal(ctx context.Context, caller model.Account, amount uint64) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	r := &p.state.Round
	if !r.FundingWindowOpen(t.now) {
		return t.abort(fmt.Errorf("%w: window is %s to %s", ErrOutsideFundingWindow,
			r.DispersalDate.Add(-model.DispersalWindow).Format(time.RFC3339), r.DispersalDate.Format(time.RFC3339)))
	}
	if amount == 0 {
		return t.abort(ErrZeroAmount)
	}
	if r.DispersalFunds > math.MaxUint64-amount {
		return t.abort(ErrAmountOverflow)
	}

	r.DispersalFunds += amount
	owner := p.state.Owner
	t.emit(model.Event{Kind: model.EventDispersalFunded, Account: owner, Amount: amount})
	return t.commit(func(ctx context.Context) error {
		return p.token.TransferFrom(ctx, p.self, owner, p.self, amount)
	})
}

// eligible reports whether account's membership qualifies it for payout:
// active at the dispersal date or active now.
func eligible(s *model.Snapshot, account model.Account, now time.Time) bool {
	expiry := s.Memberships[account]
	return !expiry.Before(s.Round.DispersalDate) || !expiry.Before(now)
}

// Withdraw pays account its principal plus interest after dispersal. The
// record is marked withdrawn before the transfer goes out.
func (p *Pool) Withdraw(ctx context.Context, account model.Account) (uint64, error) {
	t, err := p.begin(ctx)
	if err != nil {
		return 0, err
	}
	s := p.state
	if s.Round.PhaseAt(t.now) != model.PhasePostDispersal {
		return 0, t.abort(fmt.Errorf("%w: dispersal %s", ErrBeforeDispersal, s.Round.DispersalDate.Format(time.RFC3339)))
	}
	rec, ok := s.Deposits[account]
	if !ok || rec.Amount == 0 {
		return 0, t.abort(fmt.Errorf("%w: %s", ErrNotDepositor, account))
	}
	if rec.Withdrawn {
		return 0, t.abort(fmt.Errorf("%w: %s", ErrAlreadyWithdrawn, account))
	}
	if !eligible(s, account, t.now) {
		return 0, t.abort(fmt.Errorf("%w: %s expired %s", ErrMembershipLapsed, account,
			s.Memberships[account].Format(time.RFC3339)))
	}
	total := rec.Amount + interest(rec.Amount, s.Terms)
	if s.Round.DispersalFunds < total {
		return 0, t.abort(fmt.Errorf("%w: need %d, funded %d", ErrInsufficientDispersalFunds, total, s.Round.DispersalFunds))
	}

	rec.Withdrawn = true
	s.Deposits[account] = rec
	s.Round.DispersalFunds -= total

	t.emit(model.Event{Kind: model.EventWithdrawalPaid, Account: account, Amount: total})
	err = t.commit(func(ctx context.Context) error {
		return p.token.Transfer(ctx, p.self, account, total)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Outstanding returns the accounts still owed a payout this round: eligible,
// with a deposit, not yet withdrawn.
func (p *Pool) Outstanding() []model.Account {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return outstanding(p.state, now)
}

func outstanding(s *model.Snapshot, now time.Time) []model.Account {
	var out []model.Account
	for _, a := range s.Directory {
		rec := s.Deposits[a]
		if rec.Amount == 0 || rec.Withdrawn {
			continue
		}
		if eligible(s, a, now) {
			out = append(out, a)
		}
	}
	return out
}

// unpaid lists every depositor whose claim is still open, eligible or not.
// A lapsed member can renew and withdraw, so only a withdrawal or an explicit
// forfeit closes a claim.
func unpaid(s *model.Snapshot) []model.Account {
	var out []model.Account
	for _, a := range s.Directory {
		rec := s.Deposits[a]
		if rec.Amount > 0 && !rec.Withdrawn {
			out = append(out, a)
		}
	}
	return out
}

// ForfeitDeposit closes the claim of a depositor who is not eligible to
// withdraw, so the round can be reset. Nothing is transferred; the funds
// set aside for the claim become surplus once the round resets.
func (p *Pool) ForfeitDeposit(ctx context.Context, caller, account model.Account) (uint64, error) {
	t, err := p.begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := t.requireOwner(caller); err != nil {
		return 0, t.abort(err)
	}
	s := p.state
	if s.Round.PhaseAt(t.now) != model.PhasePostDispersal {
		return 0, t.abort(fmt.Errorf("%w: dispersal %s", ErrBeforeDispersal, s.Round.DispersalDate.Format(time.RFC3339)))
	}
	rec, ok := s.Deposits[account]
	if !ok || rec.Amount == 0 {
		return 0, t.abort(fmt.Errorf("%w: %s", ErrNotDepositor, account))
	}
	if rec.Withdrawn {
		return 0, t.abort(fmt.Errorf("%w: %s", ErrAlreadyWithdrawn, account))
	}
	if eligible(s, account, t.now) {
		return 0, t.abort(fmt.Errorf("%w: %s", ErrClaimEligible, account))
	}

	rec.Withdrawn = true
	s.Deposits[account] = rec
	total := rec.Amount + interest(rec.Amount, s.Terms)

	t.emit(model.Event{Kind: model.EventDepositForfeited, Account: account, Amount: total})
	if err := t.commit(nil); err != nil {
		return 0, err
	}
	return total, nil
}

// AmountOwed is principal plus interest still due to the outstanding accounts.
func (p *Pool) AmountOwed() uint64 {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	var owed uint64
	for _, a := range outstanding(p.state, now) {
		amt := p.state.Deposits[a].Amount
		owed += amt + interest(amt, p.state.Terms)
	}
	return owed
}

// ResetForNewRound clears the settled round and schedules the next one.
// Memberships and the allowlist carry over.
func (p *Pool) ResetForNewRound(ctx context.Context, caller model.Account, start time.Time) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if err := t.requireFuture(start); err != nil {
		return t.abort(err)
	}
	s := p.state
	if s.Round.Active {
		if s.Round.PhaseAt(t.now) != model.PhasePostDispersal {
			return t.abort(fmt.Errorf("%w: dispersal %s not reached", ErrRoundNotSettled,
				s.Round.DispersalDate.Format(time.RFC3339)))
		}
		if owed := unpaid(s); len(owed) > 0 {
			return t.abort(fmt.Errorf("%w: %d deposits still unpaid, first %s", ErrRoundNotSettled, len(owed), owed[0]))
		}
	}

	leftover := s.Round.DispersalFunds
	s.Round = model.Round{
		Number:        s.Round.Number + 1,
		Start:         start,
		DispersalDate: start.Add(model.OneYear),
	}
	s.Deposits = map[model.Account]model.DepositRecord{}
	s.Directory = nil

	t.emit(model.Event{Kind: model.EventRoundReset, Amount: leftover, Expiry: start})
	return t.commit(nil)
}

// RecoverFunds sends amount of token held by the pool to the owner. For the
// pool's own asset only the surplus above what members are owed is recoverable.
func (p *Pool) RecoverFunds(ctx context.Context, caller model.Account, token asset.Asset, amount uint64) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if amount == 0 {
		return t.abort(ErrZeroAmount)
	}
	if token == nil {
		token = p.token
	}
	if token == p.token {
		balance := token.BalanceOf(p.self)
		custodied := p.state.Round.Custodied()
		var surplus uint64
		if balance > custodied {
			surplus = balance - custodied
		}
		if amount > surplus {
			return t.abort(fmt.Errorf("%w: surplus %d, requested %d", ErrProtectedFunds, surplus, amount))
		}
	}

	owner := p.state.Owner
	t.emit(model.Event{Kind: model.EventFundsRecovered, Account: owner, Amount: amount, Note: token.Name()})
	return t.commit(func(ctx context.Context) error {
		return token.Transfer(ctx, p.self, owner, amount)
	})
}
