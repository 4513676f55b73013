package pool

import (
	"context"
	"fmt"
	"time"

	"termpool/internal/model"
)

// PayMembership collects the membership fee from account and extends its
// membership by one year from the later of its current expiry and now.
func (p *Pool) PayMembership(ctx context.Context, account model.Account) (time.Time, error) {
	t, err := p.begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if account == "" {
		return time.Time{}, t.abort(ErrInvalidAccount)
	}

	expiry := p.state.Memberships[account]
	active := !expiry.Before(t.now)
	if active && !p.renewal {
		return time.Time{}, t.abort(fmt.Errorf("%w: expires %s", ErrMembershipActive, expiry.Format(time.RFC3339)))
	}

	base := t.now
	if active {
		base = expiry
	}
	newExpiry := base.Add(model.OneYear)
	p.state.Memberships[account] = newExpiry

	fee := p.state.Terms.MembershipFee
	t.emit(model.Event{Kind: model.EventMembershipExtended, Account: account, Amount: fee, Expiry: newExpiry})
	err = t.commit(func(ctx context.Context) error {
		if fee == 0 {
			return nil
		}
		return p.token.TransferFrom(ctx, p.self, account, p.self, fee)
	})
	if err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// MembershipExpiry returns the account's membership expiry, zero if it never paid.
func (p *Pool) MembershipExpiry(account model.Account) time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Memberships[account]
}

// IsMember reports whether account's membership is active now.
func (p *Pool) IsMember(account model.Account) bool {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.state.Memberships[account].Before(now)
}
