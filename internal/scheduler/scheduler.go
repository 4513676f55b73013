package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"termpool/internal/metrics"
	"termpool/internal/model"
	"termpool/internal/notifier"
	"termpool/internal/pool"
	"termpool/internal/recorder"
)

// Sender delivers operator notifications.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages all cron tasks and relays pool events to the operator.
type Scheduler struct {
	Cron     *cron.Cron
	Pool     *pool.Pool
	Notifier Sender // nil disables notifications
	Recorder recorder.Recorder
	Metrics  *metrics.Metrics
	Ctx      context.Context

	mu             sync.Mutex
	seeded         bool
	lastRound      uint64
	lastPhase      model.Phase
	windowNotified bool
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, p *pool.Pool, n Sender, rec recorder.Recorder, m *metrics.Metrics) *Scheduler {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron:     cron.New(cron.WithSeconds()),
		Pool:     p,
		Notifier: n,
		Recorder: rec,
		Metrics:  m,
		Ctx:      ctx,
	}
}

// RegisterAll registers the phase watch, metrics refresh and daily summary tasks.
func (s *Scheduler) RegisterAll(phaseCron, metricsCron, summaryCron string) error {
	if _, err := s.Cron.AddFunc(phaseCron, s.CheckPhase); err != nil {
		return fmt.Errorf("register phase watch: %w", err)
	}
	if _, err := s.Cron.AddFunc(metricsCron, s.RefreshMetrics); err != nil {
		return fmt.Errorf("register metrics refresh: %w", err)
	}
	if _, err := s.Cron.AddFunc(summaryCron, s.DailySummary); err != nil {
		return fmt.Errorf("register daily summary: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// OnEvent records a committed pool event, refreshes the gauges and notifies
// the operator. It is registered as a pool observer.
func (s *Scheduler) OnEvent(evt model.Event) {
	if err := s.Recorder.RecordEvent(&evt); err != nil {
		log.Error().Err(err).Str("kind", string(evt.Kind)).Msg("record event")
	}
	s.RefreshMetrics()
	// the caller is usually an HTTP request; don't hold it through send retries
	go s.trySend(notifier.FormatEvent(evt))
}

// CheckPhase notifies once per lifecycle transition and once when the
// dispersal funding window opens. The first check after startup or a reset
// only records the current phase.
func (s *Scheduler) CheckPhase() {
	now := s.Pool.Now()
	r := s.Pool.Round()
	cur := r.PhaseAt(now)
	window := r.FundingWindowOpen(now)

	var msgs []string
	s.mu.Lock()
	if !s.seeded || r.Number != s.lastRound {
		s.seeded = true
		s.lastRound = r.Number
		s.lastPhase = cur
		s.windowNotified = false
	}
	if cur != s.lastPhase {
		log.Info().Uint64("round", r.Number).Stringer("from", s.lastPhase).Stringer("to", cur).Msg("phase changed")
		msgs = append(msgs, notifier.FormatPhaseChange(r.Number, s.lastPhase, cur))
		s.lastPhase = cur
	}
	if window && !s.windowNotified {
		msgs = append(msgs, notifier.FormatFundingWindow(r, s.Pool.AmountOwed()))
		s.windowNotified = true
	}
	s.mu.Unlock()

	for _, m := range msgs {
		s.trySend(m)
	}
}

// RefreshMetrics copies the pool state into the gauges.
func (s *Scheduler) RefreshMetrics() {
	if s.Metrics == nil {
		return
	}
	s.Metrics.Update(s.Pool.Snapshot(), s.Pool.Phase())
}

// DailySummary sends the operator digest.
func (s *Scheduler) DailySummary() {
	log.Info().Msg("running daily summary")
	now := s.Pool.Now()
	s.trySend(notifier.FormatDailySummary(s.Pool.Snapshot(), now, s.Pool.AmountOwed(), s.recentEvents(now)))
}

func (s *Scheduler) recentEvents(now time.Time) int {
	events, err := s.Recorder.Events(500)
	if err != nil {
		log.Error().Err(err).Msg("load recent events")
		return 0
	}
	since := now.Add(-24 * time.Hour)
	n := 0
	for _, evt := range events {
		if evt.At.Before(since) {
			break
		}
		n++
	}
	return n
}

// HandleCommand answers an operator chat command.
func (s *Scheduler) HandleCommand(cmd notifier.Command) string {
	now := s.Pool.Now()
	switch cmd.Name {
	case "/status":
		return notifier.FormatRoundStatus(s.Pool.Snapshot(), now, s.Pool.AmountOwed()) +
			"\n" + notifier.FormatTerms(s.Pool.Terms())
	case "/round":
		return notifier.FormatRoundStatus(s.Pool.Snapshot(), now, s.Pool.AmountOwed())
	case "/terms":
		return notifier.FormatTerms(s.Pool.Terms())
	case "/member":
		acct := model.Account(cmd.Arg(0))
		if acct == "" {
			return "usage: /member &lt;account&gt;"
		}
		return notifier.FormatMembership(acct, s.Pool.MembershipExpiry(acct), now)
	case "/events":
		var (
			events []model.Event
			err    error
		)
		if acct := cmd.Arg(0); acct != "" {
			events, err = s.Recorder.AccountEvents(model.Account(acct), 5)
		} else {
			events, err = s.Recorder.Events(5)
		}
		if err != nil {
			return fmt.Sprintf("❌ load events: %v", err)
		}
		if len(events) == 0 {
			return "no events recorded"
		}
		var b strings.Builder
		for _, evt := range events {
			b.WriteString(notifier.FormatEvent(evt))
			b.WriteString("\n")
		}
		return b.String()
	default:
		return "Commands:\n• /status\n• /round\n• /terms\n• /member &lt;account&gt;\n• /events [account]"
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Error().Err(err).Msg("send notification")
	}
}
