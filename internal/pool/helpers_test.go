package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"termpool/internal/asset"
	"termpool/internal/model"
)

const (
	owner    model.Account = "owner"
	poolAcct model.Account = "pool"
	alice    model.Account = "alice"
	bob      model.Account = "bob"
)

var (
	genesis      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	roundStart   = genesis.Add(30 * 24 * time.Hour)
	defaultTerms = model.Terms{APYPercent: 6, MaxPerMember: 2500, MembershipFee: 25}
)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingStore keeps the last saved snapshot and can be told to fail.
type recordingStore struct {
	saves int
	last  *model.Snapshot
	fail  error
}

func (s *recordingStore) Save(snap *model.Snapshot) error {
	if s.fail != nil {
		return s.fail
	}
	s.saves++
	s.last = snap.Clone()
	return nil
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *fakeClock
	token  *asset.Ledger
	store  *recordingStore
	pool   *Pool
	events []model.Event
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		clock: &fakeClock{now: genesis},
		token: asset.NewLedger("USDX"),
		store: &recordingStore{},
	}
	o := Options{
		Account:           poolAcct,
		AllowEarlyRenewal: true,
		Clock:             f.clock,
		Persister:         f.store,
		Observers: []Observer{ObserverFunc(func(evt model.Event) {
			f.events = append(f.events, evt)
		})},
	}
	for _, fn := range opts {
		fn(&o)
	}
	p, err := New(NewState(owner, defaultTerms, roundStart), f.token, o)
	require.NoError(t, err)
	f.pool = p
	return f
}

// fund mints amount to account and approves the pool to pull it.
func (f *fixture) fund(account model.Account, amount uint64) {
	f.t.Helper()
	require.NoError(f.t, f.token.Mint(account, amount))
	require.NoError(f.t, f.token.Approve(account, poolAcct, f.token.Allowance(account, poolAcct)+amount))
}

// enroll allowlists account and pays its membership.
func (f *fixture) enroll(account model.Account) {
	f.t.Helper()
	require.NoError(f.t, f.pool.AddToAllowList(f.ctx, owner, account))
	f.fund(account, defaultTerms.MembershipFee)
	_, err := f.pool.PayMembership(f.ctx, account)
	require.NoError(f.t, err)
}

// deposit funds and deposits amount for account.
func (f *fixture) deposit(account model.Account, amount uint64) {
	f.t.Helper()
	f.fund(account, amount)
	require.NoError(f.t, f.pool.Deposit(f.ctx, account, amount))
}

func (f *fixture) eventKinds() []model.EventKind {
	kinds := make([]model.EventKind, len(f.events))
	for i, e := range f.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// sumDeposits recomputes the total from the per-account records.
func sumDeposits(s *model.Snapshot) uint64 {
	var sum uint64
	for _, rec := range s.Deposits {
		sum += rec.Amount
	}
	return sum
}
