package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"termpool/internal/api"
	"termpool/internal/asset"
	"termpool/internal/config"
	"termpool/internal/metrics"
	"termpool/internal/model"
	"termpool/internal/notifier"
	"termpool/internal/pool"
	"termpool/internal/recorder"
	"termpool/internal/scheduler"
	"termpool/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the pool over HTTP and run the scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	log.Info().Msg("poold starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	token, closeAsset, err := openAsset(cfg)
	if err != nil {
		return err
	}
	defer closeAsset()

	state, err := loadState(cfg, st)
	if err != nil {
		return err
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	m := metrics.New()
	p, err := pool.New(state, token, pool.Options{
		Account:           model.Account(cfg.Pool.Account),
		SweepMode:         pool.SweepMode(cfg.Pool.SweepMode),
		AllowEarlyRenewal: cfg.EarlyRenewal(),
		Persister:         st,
		Observers:         []pool.Observer{pool.ObserverFunc(m.Observe)},
	})
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}

	// A nil *TelegramNotifier must not end up inside the Sender interface.
	var sender scheduler.Sender
	var tn *notifier.TelegramNotifier
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		sender = tn
	} else {
		log.Info().Msg("telegram not configured, notifications disabled")
	}

	sched := scheduler.NewScheduler(ctx, p, sender, rec, m)
	p.Subscribe(sched)
	if err := sched.RegisterAll(cfg.Schedule.PhaseCron, cfg.Schedule.MetricsCron, cfg.Schedule.SummaryCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.RefreshMetrics()
	sched.CheckPhase()
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	r := p.Round()
	log.Info().
		Uint64("round", r.Number).
		Stringer("phase", p.Phase()).
		Time("start", r.Start).
		Time("dispersal", r.DispersalDate).
		Str("owner", string(p.Owner())).
		Msg("pool loaded")

	srv := api.New(p, rec, m.Handler())
	if err := srv.Run(ctx, cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("poold stopped")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverFile:
		return store.NewFileStore(cfg.Storage.Path), nil
	default:
		return store.OpenBoltStore(cfg.Storage.Path)
	}
}

func openAsset(cfg *config.Config) (asset.Asset, func() error, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return asset.NewLedger(cfg.Pool.Asset), func() error { return nil }, nil
	}
	l, err := asset.OpenBoltLedger(cfg.Pool.Asset, cfg.Storage.AssetPath)
	if err != nil {
		return nil, nil, err
	}
	return l, l.Close, nil
}

// loadState reads the saved pool, or creates round 1 from config on first start.
func loadState(cfg *config.Config, st store.Store) (*model.Snapshot, error) {
	snap, err := st.Load()
	if err == nil {
		if string(snap.Owner) != cfg.Pool.Owner {
			log.Warn().Str("stored", string(snap.Owner)).Str("configured", cfg.Pool.Owner).
				Msg("stored owner differs from config, keeping stored owner")
		}
		return snap, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load state: %w", err)
	}

	start, err := cfg.RoundStart()
	if err != nil {
		return nil, err
	}
	snap = pool.NewState(model.Account(cfg.Pool.Owner), cfg.Pool.Terms, start)
	if err := st.Save(snap); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}
	log.Info().Time("start", start).Msg("initialized new pool")
	return snap, nil
}
