package pool

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"termpool/internal/asset"
	"termpool/internal/model"
)

// SweepMode selects what TransferToOwner moves out of the pool.
type SweepMode string

const (
	// SweepPrincipal sweeps only deposited principal not yet swept.
	SweepPrincipal SweepMode = "principal"
	// SweepBalance sweeps the pool's whole asset balance.
	SweepBalance SweepMode = "balance"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Persister durably stores committed state.
type Persister interface {
	Save(snap *model.Snapshot) error
}

// Observer receives events after the operation that produced them commits.
type Observer interface {
	OnEvent(evt model.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(evt model.Event)

func (f ObserverFunc) OnEvent(evt model.Event) { f(evt) }

// Options configures a Pool.
type Options struct {
	// Account is the pool's own account in the asset ledger.
	Account           model.Account
	SweepMode         SweepMode
	AllowEarlyRenewal bool
	Clock             Clock
	Persister         Persister
	Observers         []Observer
}

// Pool is a fixed-term deposit pool. All state lives in one snapshot guarded
// by a single writer lock; each operation commits or leaves it untouched.
type Pool struct {
	mu    sync.RWMutex
	state *model.Snapshot

	token     asset.Asset
	self      model.Account
	sweepMode SweepMode
	renewal   bool
	clock     Clock
	persist   Persister
	observers []Observer
}

// NewState builds the initial state of a pool owned by owner whose first
// round starts at start.
func NewState(owner model.Account, terms model.Terms, start time.Time) *model.Snapshot {
	s := model.NewSnapshot()
	s.Owner = owner
	s.Terms = terms
	s.Round = model.Round{
		Number:        1,
		Start:         start,
		DispersalDate: start.Add(model.OneYear),
	}
	return s
}

// New creates a pool over state. The pool takes ownership of state.
func New(state *model.Snapshot, token asset.Asset, opts Options) (*Pool, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: nil state", ErrState)
	}
	if state.Owner == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrInvalidAccount)
	}
	if opts.Account == "" {
		return nil, fmt.Errorf("%w: empty pool account", ErrInvalidAccount)
	}
	if err := validateTerms(state.Terms); err != nil {
		return nil, err
	}
	if !state.Round.DispersalDate.Equal(state.Round.Start.Add(model.OneYear)) {
		return nil, fmt.Errorf("%w: dispersal date %s is not one year after start %s",
			ErrState, state.Round.DispersalDate.Format(time.RFC3339), state.Round.Start.Format(time.RFC3339))
	}
	if token == nil {
		return nil, fmt.Errorf("%w: nil asset", ErrState)
	}
	if state.Memberships == nil {
		state.Memberships = map[model.Account]time.Time{}
	}
	if state.AllowList == nil {
		state.AllowList = map[model.Account]bool{}
	}
	if state.Deposits == nil {
		state.Deposits = map[model.Account]model.DepositRecord{}
	}

	mode := opts.SweepMode
	switch mode {
	case "":
		mode = SweepPrincipal
	case SweepPrincipal, SweepBalance:
	default:
		return nil, fmt.Errorf("%w: unknown sweep mode %q", ErrState, mode)
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}

	return &Pool{
		state:     state,
		token:     token,
		self:      opts.Account,
		sweepMode: mode,
		renewal:   opts.AllowEarlyRenewal,
		clock:     clock,
		persist:   opts.Persister,
		observers: opts.Observers,
	}, nil
}

func validateTerms(t model.Terms) error {
	if t.MaxPerMember == 0 {
		return fmt.Errorf("%w: max per member must be positive", ErrInvalidTerms)
	}
	// principal plus interest on a full position must fit in uint64
	if t.MaxPerMember > math.MaxUint64/(100+t.APYPercent) {
		return fmt.Errorf("%w: max per member %d too large for %d%% apy", ErrInvalidTerms, t.MaxPerMember, t.APYPercent)
	}
	return nil
}

// Subscribe adds an observer.
func (p *Pool) Subscribe(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Account returns the pool's own account in the asset ledger.
func (p *Pool) Account() model.Account { return p.self }

// Asset returns the pool's value asset.
func (p *Pool) Asset() asset.Asset { return p.token }

// SweepMode returns the configured sweep mode.
func (p *Pool) SweepMode() SweepMode { return p.sweepMode }

// Now returns the pool clock's current time.
func (p *Pool) Now() time.Time { return p.clock.Now() }

type callKey struct{}

// txn is one in-flight operation. It holds the writer lock from begin until
// commit or abort.
type txn struct {
	p      *Pool
	ctx    context.Context
	now    time.Time
	saved  *model.Snapshot
	events []model.Event
}

// begin rejects calls re-entering from a transfer this pool started, then
// takes the writer lock and saves the state for rollback. Re-entry is
// recognised by the context the asset was handed; an asset callback that
// calls back with a fresh context blocks on the lock instead.
func (p *Pool) begin(ctx context.Context) (*txn, error) {
	if ctx.Value(callKey{}) == p {
		return nil, ErrReentrantCall
	}
	p.mu.Lock()
	return &txn{
		p:     p,
		ctx:   context.WithValue(ctx, callKey{}, p),
		now:   p.clock.Now(),
		saved: p.state.Clone(),
	}, nil
}

func (t *txn) emit(evt model.Event) {
	evt.Round = t.p.state.Round.Number
	evt.At = t.now
	t.events = append(t.events, evt)
}

// abort restores the saved state and releases the lock.
func (t *txn) abort(err error) error {
	t.p.state = t.saved
	t.p.mu.Unlock()
	return err
}

// commit persists the mutated state, then runs the external transfer, if
// any, as the last step. A failed transfer restores the saved state.
func (t *txn) commit(transfer func(ctx context.Context) error) error {
	p := t.p
	p.state.UpdatedAt = t.now
	if p.persist != nil {
		if err := p.persist.Save(p.state); err != nil {
			return t.abort(fmt.Errorf("persist state: %w", err))
		}
	}

	if transfer != nil {
		if err := transfer(t.ctx); err != nil {
			p.state = t.saved
			if p.persist != nil {
				if perr := p.persist.Save(p.state); perr != nil {
					log.Error().Err(perr).Msg("failed to restore persisted state after transfer failure")
				}
			}
			p.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrTransfer, err)
		}
	}

	events := t.events
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	for _, evt := range events {
		for _, o := range observers {
			o.OnEvent(evt)
		}
	}
	return nil
}

func (t *txn) requireOwner(caller model.Account) error {
	if caller != t.p.state.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

// TransferOwnership hands the owner capability to newOwner.
func (p *Pool) TransferOwnership(ctx context.Context, caller, newOwner model.Account) error {
	t, err := p.begin(ctx)
	if err != nil {
		return err
	}
	if err := t.requireOwner(caller); err != nil {
		return t.abort(err)
	}
	if newOwner == "" {
		return t.abort(ErrInvalidAccount)
	}
	p.state.Owner = newOwner
	t.emit(model.Event{Kind: model.EventOwnershipTransferred, Account: newOwner, Note: string(caller)})
	return t.commit(nil)
}

// Owner returns the current owner.
func (p *Pool) Owner() model.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Owner
}

// Terms returns the current round terms.
func (p *Pool) Terms() model.Terms {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Terms
}

// Round returns the current round schedule and aggregates.
func (p *Pool) Round() model.Round {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Round
}

// Snapshot returns a copy of the whole state.
func (p *Pool) Snapshot() *model.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}
