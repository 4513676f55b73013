package pool

import (
	"context"
	"fmt"
	"time"

	"termpool/internal/model"
)

// Phase returns the lifecycle phase at the pool clock's current time.
func (p *Pool) Phase() model.Phase {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Round.PhaseAt(now)
}

// FundingWindowOpen reports whether the owner may fund dispersal now.
func (p *Pool) FundingWindowOpen() bool {
	now := p.clock.Now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Round.FundingWindowOpen(now)
}

// requireReconfigurable checks the round is still open and has not taken a
// deposit. Both must hold.
func (t *txn) requireReconfigurable() error {
	r := t.p.state.Round
	if r.PhaseAt(t.now) != model.PhaseOpen {
		return fmt.Errorf("%w: started %s", ErrRoundStarted, r.Start.Format(time.RFC3339))
	}
	if r.Active || r.TotalDeposited > 0 {
		return fmt.Errorf("%w: %d deposited", ErrRoundHasDeposits, r.TotalDeposited)
	}
	return nil
}

func (t *txn) requireFuture(start time.Time) error {
	if !start.After(t.now) {
		return fmt.Errorf("%w: %s", ErrStartNotInFuture, start.Format(time.RFC3339))
	}
	return nil
}

// SetRoundStart moves the start of a round that has not begun and has no
// deposits. The dispersal date follows the start.
func (p *Pool) SetRoundStart(ctx context.Context, caller model.Account, start time.Time) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if err := t.requireReconfigurable(); err != nil {
		return t.abort(err)
	}
	if err := t.requireFuture(start); err != nil {
		return t.abort(err)
	}

	p.state.Round.Start = start
	p.state.Round.DispersalDate = start.Add(model.OneYear)
	t.emit(model.Event{Kind: model.EventRoundRescheduled, Expiry: start})
	return t.commit(nil)
}

// UpdateTerms replaces the round terms under the same conditions as SetRoundStart.
func (p *Pool) UpdateTerms(ctx context.Context, caller model.Account, terms model.Terms) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if err := t.requireReconfigurable(); err != nil {
		return t.abort(err)
	}
	if err := validateTerms(terms); err != nil {
		return t.abort(err)
	}

	p.state.Terms = terms
	t.emit(model.Event{
		Kind: model.EventTermsUpdated,
		Note: fmt.Sprintf("apy=%d%% cap=%d fee=%d", terms.APYPercent, terms.MaxPerMember, terms.MembershipFee),
	})
	return t.commit(nil)
}
