package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"termpool/internal/model"
)

// Storage drivers.
const (
	DriverBolt   = "bolt"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Pool struct {
		Owner   string `yaml:"owner"`
		Account string `yaml:"account"`
		Asset   string `yaml:"asset"`

		// RoundStart is RFC 3339. Only read when no saved state exists.
		RoundStart        string      `yaml:"round_start"`
		Terms             model.Terms `yaml:"terms"`
		SweepMode         string      `yaml:"sweep_mode"`
		AllowEarlyRenewal *bool       `yaml:"allow_early_renewal"`
	} `yaml:"pool"`
	Schedule struct {
		PhaseCron   string `yaml:"phase_cron"`
		MetricsCron string `yaml:"metrics_cron"`
		SummaryCron string `yaml:"summary_cron"`
	} `yaml:"schedule"`
	Storage struct {
		Driver    string `yaml:"driver"`
		Path      string `yaml:"path"`
		AssetPath string `yaml:"asset_path"`
	} `yaml:"storage"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// terms keep their defaults unless the file sets them, zero included
	cfg.Pool.Terms = model.Terms{APYPercent: 6, MaxPerMember: 2500, MembershipFee: 25}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("POOL_OWNER"); v != "" {
		cfg.Pool.Owner = v
	}
	if v := os.Getenv("POOL_ROUND_START"); v != "" {
		cfg.Pool.RoundStart = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("STATE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Pool.Account == "" {
		cfg.Pool.Account = "pool"
	}
	if cfg.Pool.Asset == "" {
		cfg.Pool.Asset = "USDX"
	}
	if cfg.Pool.SweepMode == "" {
		cfg.Pool.SweepMode = "principal"
	}
	if cfg.Pool.AllowEarlyRenewal == nil {
		renew := true
		cfg.Pool.AllowEarlyRenewal = &renew
	}
	if cfg.Schedule.PhaseCron == "" {
		cfg.Schedule.PhaseCron = "0 */5 * * * *"
	}
	if cfg.Schedule.MetricsCron == "" {
		cfg.Schedule.MetricsCron = "*/30 * * * * *"
	}
	if cfg.Schedule.SummaryCron == "" {
		cfg.Schedule.SummaryCron = "0 0 9 * * *"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverBolt
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Driver {
		case DriverFile:
			cfg.Storage.Path = "data/pool_state.json"
		default:
			cfg.Storage.Path = "data/pool.db"
		}
	}
	if cfg.Storage.AssetPath == "" {
		cfg.Storage.AssetPath = "data/asset.db"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/pool_events.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Pool.Owner == "" {
		return fmt.Errorf("pool.owner is required")
	}
	if c.Pool.Owner == c.Pool.Account {
		return fmt.Errorf("pool.owner must differ from pool.account")
	}
	if c.Pool.RoundStart != "" {
		if _, err := c.RoundStart(); err != nil {
			return err
		}
	}
	if c.Pool.Terms.MaxPerMember == 0 {
		return fmt.Errorf("pool.terms.max_per_member must be positive")
	}
	switch c.Pool.SweepMode {
	case "principal", "balance":
	default:
		return fmt.Errorf("pool.sweep_mode must be principal or balance, got %q", c.Pool.SweepMode)
	}
	switch c.Storage.Driver {
	case DriverBolt, DriverFile, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be bolt, file or memory, got %q", c.Storage.Driver)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RoundStart parses pool.round_start.
func (c *Config) RoundStart() (time.Time, error) {
	if c.Pool.RoundStart == "" {
		return time.Time{}, fmt.Errorf("pool.round_start is required to initialize a new pool")
	}
	t, err := time.Parse(time.RFC3339, c.Pool.RoundStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("pool.round_start: %w", err)
	}
	return t.UTC(), nil
}

// TelegramEnabled reports whether operator notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

func (c *Config) EarlyRenewal() bool {
	return c.Pool.AllowEarlyRenewal == nil || *c.Pool.AllowEarlyRenewal
}
