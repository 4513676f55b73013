package scheduler

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/asset"
	"termpool/internal/metrics"
	"termpool/internal/model"
	"termpool/internal/notifier"
	"termpool/internal/pool"
	"termpool/internal/recorder"
)

var (
	genesis    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	roundStart = genesis.Add(30 * 24 * time.Hour)
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendWithRetry(_ context.Context, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type harness struct {
	now    time.Time
	token  *asset.Ledger
	pool   *pool.Pool
	sender *fakeSender
	rec    *recorder.SQLiteRecorder
	sched  *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: genesis, token: asset.NewLedger("USDX"), sender: &fakeSender{}}

	rec, err := recorder.NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	h.rec = rec

	terms := model.Terms{APYPercent: 6, MaxPerMember: 2500, MembershipFee: 25}
	p, err := pool.New(pool.NewState("owner", terms, roundStart), h.token, pool.Options{
		Account:           "pool",
		AllowEarlyRenewal: true,
		Clock:             pool.ClockFunc(func() time.Time { return h.now }),
	})
	require.NoError(t, err)
	h.pool = p
	h.sched = NewScheduler(context.Background(), p, h.sender, rec, metrics.New())
	p.Subscribe(pool.ObserverFunc(h.sched.OnEvent))
	return h
}

func (h *harness) enrollAndDeposit(t *testing.T, account model.Account, amount uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.pool.AddToAllowList(ctx, "owner", account))
	require.NoError(t, h.token.Mint(account, 50+amount))
	require.NoError(t, h.token.Approve(account, "pool", 50+amount))
	// two years of membership keep the account eligible through dispersal
	for i := 0; i < 2; i++ {
		_, err := h.pool.PayMembership(ctx, account)
		require.NoError(t, err)
	}
	require.NoError(t, h.pool.Deposit(ctx, account, amount))
}

func TestOnEvent_RecordsAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.enrollAndDeposit(t, "alice", 1000)

	events, err := h.rec.Events(0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, model.EventDepositAccepted, events[0].Kind)
	assert.Equal(t, model.EventAllowListChanged, events[3].Kind)

	assert.Eventually(t, func() bool { return len(h.sender.messages()) == 4 }, time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	h.sched.Metrics.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "termpool_pool_total_deposited 1000")
}

func TestCheckPhase_NotifiesOncePerTransition(t *testing.T) {
	h := newHarness(t)
	h.enrollAndDeposit(t, "alice", 1000)
	require.Eventually(t, func() bool { return len(h.sender.messages()) == 4 }, time.Second, 10*time.Millisecond)

	h.sched.CheckPhase() // seeds open
	assert.Len(t, h.sender.messages(), 4)

	h.now = roundStart
	h.sched.CheckPhase()
	h.sched.CheckPhase()
	msgs := h.sender.messages()
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[4], "open → active")

	h.now = roundStart.Add(model.OneYear - 24*time.Hour)
	h.sched.CheckPhase()
	h.sched.CheckPhase()
	msgs = h.sender.messages()
	require.Len(t, msgs, 6)
	assert.Contains(t, msgs[5], "funding window open")
	assert.Contains(t, msgs[5], "Owed: 1060")
	assert.Contains(t, msgs[5], "Missing: 1060")

	h.now = roundStart.Add(model.OneYear)
	h.sched.CheckPhase()
	msgs = h.sender.messages()
	require.Len(t, msgs, 7)
	assert.Contains(t, msgs[6], "active → post_dispersal")
}

func TestHandleCommand(t *testing.T) {
	h := newHarness(t)
	h.enrollAndDeposit(t, "alice", 1000)

	reply := func(text string) string {
		cmd, ok := notifier.ParseCommand(text)
		require.True(t, ok, text)
		return h.sched.HandleCommand(cmd)
	}
	assert.Contains(t, reply("/status"), "APY: 6%")
	assert.Contains(t, reply("/round@poolbot"), "Total deposited: 1000")
	assert.Contains(t, reply("/terms"), "Membership fee: 25")
	assert.Contains(t, reply("/member alice"), "alice active until")
	assert.Contains(t, reply("/member bob"), "never paid")
	assert.Contains(t, reply("/member"), "usage")
	assert.Contains(t, reply("/events"), "alice deposited 1000")
	assert.Contains(t, reply("/events alice"), "alice deposited 1000")
	assert.Equal(t, "no events recorded", reply("/events bob"))
	assert.Contains(t, reply("/hello"), "Commands:")
}

func TestDailySummary(t *testing.T) {
	h := newHarness(t)
	h.enrollAndDeposit(t, "alice", 1000)
	require.Eventually(t, func() bool { return len(h.sender.messages()) == 4 }, time.Second, 10*time.Millisecond)

	h.sched.DailySummary()
	msgs := h.sender.messages()
	require.Len(t, msgs, 5)
	assert.Contains(t, msgs[4], "Events in the last 24h: 4")
}

func TestRegisterAll_RejectsBadCronExpr(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.sched.RegisterAll("not a cron expr", "*/30 * * * * *", "0 0 9 * * *"))
	assert.NoError(t, h.sched.RegisterAll("0 */5 * * * *", "*/30 * * * * *", "0 0 9 * * *"))
}
