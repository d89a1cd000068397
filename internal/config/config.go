package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LoggingConfig `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Feed    FeedConfig    `yaml:"feed"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	State   StateConfig   `yaml:"state"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Relay   RelayConfig   `yaml:"relay"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	WebhookRPS      float64       `yaml:"webhook_rps"`
	WebhookBurst    int           `yaml:"webhook_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	QueueSize      int           `yaml:"queue_size"`
}

type EngineConfig struct {
	Symbol           string        `yaml:"symbol"`
	OrderQty         float64       `yaml:"order_qty"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type SessionConfig struct {
	DailyLossLimit float64 `yaml:"daily_loss_limit"`
}

type StateConfig struct {
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DSN       string `yaml:"dsn"`
	QueueSize int    `yaml:"queue_size"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type RelayConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	URLs    []string      `yaml:"urls"`
}

// Load reads the YAML file at path, fills in defaults and applies
// environment overrides. An empty or missing path yields a config built
// from defaults and environment alone, so the engine can boot without a
// config file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// env + defaults drive everything
		default:
			return nil, err
		}
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.WebhookRPS == 0 {
		cfg.Server.WebhookRPS = 5
	}
	if cfg.Server.WebhookBurst == 0 {
		cfg.Server.WebhookBurst = 10
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Feed.URL == "" {
		cfg.Feed.URL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 5 * time.Second
	}
	if cfg.Feed.MaxReconnects == 0 {
		cfg.Feed.MaxReconnects = 10
	}
	if cfg.Feed.QueueSize == 0 {
		cfg.Feed.QueueSize = 1024
	}
	if cfg.Engine.Symbol == "" {
		cfg.Engine.Symbol = "BTCUSDT"
	}
	if cfg.Engine.OrderQty == 0 {
		cfg.Engine.OrderQty = 1
	}
	if cfg.Engine.SnapshotInterval == 0 {
		cfg.Engine.SnapshotInterval = 60 * time.Second
	}
	if cfg.Session.DailyLossLimit == 0 {
		cfg.Session.DailyLossLimit = -500
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "file"
	}
	if cfg.State.DataDir == "" {
		cfg.State.DataDir = "data"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/engine.db"
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Relay.Timeout == 0 {
		cfg.Relay.Timeout = 5 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SYMBOL"); v != "" {
		cfg.Engine.Symbol = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DAILY_LOSS_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DAILY_LOSS_LIMIT: %w", err)
		}
		cfg.Session.DailyLossLimit = limit
	}
	if v := os.Getenv("JOURNAL_DSN"); v != "" {
		cfg.Journal.DSN = v
		cfg.Journal.Enabled = true
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Engine.Symbol == "" {
		return errors.New("engine.symbol is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Engine.OrderQty <= 0 {
		return errors.New("engine.order_qty must be > 0")
	}
	if cfg.Engine.SnapshotInterval <= 0 {
		return errors.New("engine.snapshot_interval must be > 0")
	}
	if cfg.Session.DailyLossLimit >= 0 {
		return errors.New("session.daily_loss_limit must be negative")
	}
	switch cfg.State.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("state.backend %q not supported (file, sqlite)", cfg.State.Backend)
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	for _, raw := range cfg.Relay.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("relay.urls entry %q is not an http(s) URL", raw)
		}
	}
	return nil
}
