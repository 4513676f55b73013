package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/model"
)

func TestDeposit_Accepted(t *testing.T) {
	f := newFixture(t)
	f.enroll(alice)
	f.deposit(alice, 1000)

	rec, ok := f.pool.DepositOf(alice)
	require.True(t, ok)
	assert.Equal(t, model.DepositRecord{Amount: 1000}, rec)

	r := f.pool.Round()
	assert.Equal(t, uint64(1000), r.TotalDeposited)
	assert.True(t, r.Active)
	assert.Equal(t, []model.Account{alice}, f.pool.Directory())
	assert.Equal(t, uint64(1025), f.token.BalanceOf(poolAcct))

	last := f.events[len(f.events)-1]
	assert.Equal(t, model.EventDepositAccepted, last.Kind)
	assert.Equal(t, alice, last.Account)
	assert.Equal(t, uint64(1000), last.Amount)
}

func TestDeposit_TopUpsStayWithinCap(t *testing.T) {
	f := newFixture(t)
	f.enroll(alice)
	f.enroll(bob)

	f.deposit(alice, 1000)
	f.deposit(bob, 500)
	f.deposit(alice, 1500)

	f.fund(alice, 1)
	err := f.pool.Deposit(f.ctx, alice, 1)
	assert.ErrorIs(t, err, ErrCapExceeded)
	assert.ErrorIs(t, err, ErrCapacity)

	rec, _ := f.pool.DepositOf(alice)
	assert.Equal(t, uint64(2500), rec.Amount)
	assert.Equal(t, []model.Account{alice, bob}, f.pool.Directory(), "top-ups must not duplicate directory entries")

	snap := f.pool.Snapshot()
	assert.Equal(t, sumDeposits(snap), snap.Round.TotalDeposited)
	for _, rec := range snap.Deposits {
		assert.LessOrEqual(t, rec.Amount, snap.Terms.MaxPerMember)
	}
}

// Each rejection holds every other precondition satisfied.
func TestDeposit_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		amount  uint64
		wantErr error
		class   error
	}{
		{
			name:    "round started",
			setup:   func(f *fixture) { f.clock.Set(roundStart) },
			amount:  100,
			wantErr: ErrDepositsClosed,
			class:   ErrPhase,
		},
		{
			name: "not allowlisted",
			setup: func(f *fixture) {
				require.NoError(f.t, f.pool.RemoveFromAllowList(f.ctx, owner, alice))
			},
			amount:  100,
			wantErr: ErrNotAllowListed,
			class:   ErrIneligible,
		},
		{
			name: "membership lapsed",
			setup: func(f *fixture) {
				require.NoError(f.t, f.pool.SetRoundStart(f.ctx, owner, genesis.Add(2*model.OneYear)))
				f.clock.Set(genesis.Add(model.OneYear + 1))
			},
			amount:  100,
			wantErr: ErrMembershipLapsed,
			class:   ErrIneligible,
		},
		{
			name:    "zero amount",
			setup:   func(f *fixture) {},
			amount:  0,
			wantErr: ErrZeroAmount,
			class:   ErrCapacity,
		},
		{
			name:    "over cap",
			setup:   func(f *fixture) {},
			amount:  2501,
			wantErr: ErrCapExceeded,
			class:   ErrCapacity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.enroll(alice)
			tt.setup(f)
			f.fund(alice, tt.amount)

			err := f.pool.Deposit(f.ctx, alice, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.class, Class(err))

			_, ok := f.pool.DepositOf(alice)
			assert.False(t, ok)
			assert.Zero(t, f.pool.Round().TotalDeposited)
			assert.False(t, f.pool.Round().Active)
			assert.Empty(t, f.pool.Directory())
		})
	}
}

func TestDeposit_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.enroll(alice)
	f.fund(alice, 100)

	err := f.pool.Deposit(f.ctx, alice, 200)
	assert.ErrorIs(t, err, ErrTransfer)

	_, ok := f.pool.DepositOf(alice)
	assert.False(t, ok)
	assert.Zero(t, f.pool.Round().TotalDeposited)
	assert.False(t, f.pool.Round().Active)
	assert.Empty(t, f.pool.Directory())
	assert.Equal(t, uint64(100), f.token.BalanceOf(alice))

	// a failed round may still be reconfigured
	require.NoError(t, f.pool.SetRoundStart(f.ctx, owner, roundStart.Add(1)))
}

func TestAllowList_Idempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.pool.AddToAllowList(f.ctx, owner, alice))
	require.NoError(t, f.pool.AddToAllowList(f.ctx, owner, alice))
	assert.True(t, f.pool.IsAllowListed(alice))

	require.NoError(t, f.pool.RemoveFromAllowList(f.ctx, owner, alice))
	require.NoError(t, f.pool.RemoveFromAllowList(f.ctx, owner, alice))
	assert.False(t, f.pool.IsAllowListed(alice))

	assert.Equal(t, []model.EventKind{model.EventAllowListChanged, model.EventAllowListChanged}, f.eventKinds())
}

func TestAllowList_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.pool.AddToAllowList(f.ctx, alice, alice), ErrNotOwner)
	assert.ErrorIs(t, f.pool.RemoveFromAllowList(f.ctx, alice, bob), ErrNotOwner)
	assert.False(t, f.pool.IsAllowListed(alice))
}

func TestAllowList_IndependentOfMembership(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 25+100)
	_, err := f.pool.PayMembership(f.ctx, alice)
	require.NoError(t, err)
	assert.ErrorIs(t, f.pool.Deposit(f.ctx, alice, 100), ErrNotAllowListed)

	require.NoError(t, f.pool.AddToAllowList(f.ctx, owner, bob))
	f.fund(bob, 100)
	assert.ErrorIs(t, f.pool.Deposit(f.ctx, bob, 100), ErrMembershipLapsed)
}
