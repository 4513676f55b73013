package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/model"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(model.Event{Kind: model.EventDepositAccepted, Amount: 1000})
	m.Observe(model.Event{Kind: model.EventDepositAccepted, Amount: 250})
	m.Observe(model.Event{Kind: model.EventAllowListChanged})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("deposit_accepted")))
	assert.Equal(t, 1250.0, testutil.ToFloat64(m.amounts.WithLabelValues("deposit_accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("allowlist_changed")))
}

func TestUpdate(t *testing.T) {
	m := New()
	snap := model.NewSnapshot()
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	snap.Round = model.Round{
		Number:         4,
		Start:          start,
		DispersalDate:  start.Add(model.OneYear),
		TotalDeposited: 3500,
		Swept:          3500,
		DispersalFunds: 700,
		Active:         true,
	}
	snap.Directory = []model.Account{"a", "b"}

	m.Update(snap, model.PhaseActive)
	assert.Equal(t, 3500.0, testutil.ToFloat64(m.totalDeposited))
	assert.Equal(t, 700.0, testutil.ToFloat64(m.dispersalFunds))
	assert.Equal(t, 3500.0, testutil.ToFloat64(m.swept))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.depositors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.roundNumber))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("open")))

	m.Update(snap, model.PhasePostDispersal)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.phase.WithLabelValues("active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("post_dispersal")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Observe(model.Event{Kind: model.EventFundsSwept, Amount: 10})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `termpool_pool_events_total{kind="funds_swept"} 1`), body)
}
