package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termpool/internal/model"
)

const (
	namespace = "termpool"
	subsystem = "pool"
)

var phases = []model.Phase{model.PhaseOpen, model.PhaseActive, model.PhasePostDispersal}

// Metrics holds the pool collectors. Each instance owns its registry so tests
// and multiple pools never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	totalDeposited prometheus.Gauge
	dispersalFunds prometheus.Gauge
	swept          prometheus.Gauge
	depositors     prometheus.Gauge
	roundNumber    prometheus.Gauge
	phase          *prometheus.GaugeVec

	events  *prometheus.CounterVec
	amounts *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		totalDeposited: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total_deposited",
			Help:      "Principal deposited in the current round",
		}),
		dispersalFunds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispersal_funds",
			Help:      "Funds reserved for payouts in the current round",
		}),
		swept: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "swept",
			Help:      "Principal moved to the owner in the current round",
		}),
		depositors: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "depositors",
			Help:      "Accounts in the depositor directory",
		}),
		roundNumber: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "round",
			Help:      "Current round number",
		}),
		phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase",
			Help:      "1 for the current lifecycle phase, 0 otherwise",
		}, []string{"phase"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Committed pool events by kind",
		}, []string{"kind"}),
		amounts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_amount_total",
			Help:      "Sum of event amounts by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(m.registry, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Observe counts a committed event.
func (m *Metrics) Observe(evt model.Event) {
	kind := string(evt.Kind)
	m.events.WithLabelValues(kind).Inc()
	if evt.Amount > 0 {
		m.amounts.WithLabelValues(kind).Add(float64(evt.Amount))
	}
}

// Update sets the gauges from a state snapshot.
func (m *Metrics) Update(snap *model.Snapshot, current model.Phase) {
	r := snap.Round
	m.totalDeposited.Set(float64(r.TotalDeposited))
	m.dispersalFunds.Set(float64(r.DispersalFunds))
	m.swept.Set(float64(r.Swept))
	m.depositors.Set(float64(len(snap.Directory)))
	m.roundNumber.Set(float64(r.Number))
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.phase.WithLabelValues(p.String()).Set(v)
	}
}
