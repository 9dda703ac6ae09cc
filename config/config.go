package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"smc-trading-bot/internal/api"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/engine"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
	"smc-trading-bot/internal/terminal"
)

// Config is the full application configuration, loaded from config.json
// with environment variable overrides taking precedence.
type Config struct {
	LoggingConfig  LoggingConfig     `json:"logging"`
	FeedConfig     FeedConfig        `json:"feed"`
	Instruments    []InstrumentEntry `json:"instruments"`
	PatternsConfig patterns.Config   `json:"patterns"`
	ScoringConfig  confluence.Config `json:"scoring"`
	ShieldConfig   ShieldConfig      `json:"shield"`
	RiskConfig     risk.Config       `json:"risk"`
	EngineConfig   engine.Config     `json:"engine"`
	BridgeConfig   BridgeConfig      `json:"bridge"`
	TerminalConfig TerminalConfig    `json:"terminal"`
	APIConfig      api.Config        `json:"api"`
	DatabaseConfig DatabaseConfig    `json:"database"`
	RedisConfig    RedisConfig       `json:"redis"`
	NotifyConfig   NotifyConfig      `json:"notify"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // structured JSON vs console output
}

// FeedConfig points at the market data websocket stream.
type FeedConfig struct {
	URL string `json:"url"`
}

// InstrumentEntry pairs a tradable symbol with its broker contract details.
type InstrumentEntry struct {
	Symbol      string  `json:"symbol"`
	PipSize     float64 `json:"pip_size"`
	PipValue    float64 `json:"pip_value"`
	LotStep     float64 `json:"lot_step"`
	MinLot      float64 `json:"min_lot"`
	MaxLot      float64 `json:"max_lot"`
	MinStopPips float64 `json:"min_stop_pips"`
	Tradable    bool    `json:"tradable"`
}

// ShieldConfig extends the consensus thresholds with the source endpoints.
type ShieldConfig struct {
	shield.Config
	Sources []ShieldSourceEntry `json:"sources"`
}

// ShieldSourceEntry is one independent price source. The URL may contain
// an {instrument} placeholder.
type ShieldSourceEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// BridgeConfig selects and parameterizes the transport.
type BridgeConfig struct {
	Mode         string        `json:"mode"`       // "file" or "socket"
	InboxDir     string        `json:"inbox_dir"`  // file mode
	OutboxDir    string        `json:"outbox_dir"` // file mode
	SocketURL    string        `json:"socket_url"` // socket mode, dialing side
	ListenAddr   string        `json:"listen_addr"`
	PollInterval time.Duration `json:"poll_interval"`
}

// TerminalConfig holds the terminal-side settings.
type TerminalConfig struct {
	Lifecycle         terminal.LifecycleConfig `json:"lifecycle"`
	Executor          terminal.ExecutorConfig  `json:"executor"`
	HeartbeatInterval time.Duration            `json:"heartbeat_interval"`
	PaperBalance      float64                  `json:"paper_balance"`
}

type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	DSN     string `json:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// Load reads config.json if present and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = "config.json"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LoggingConfig:  LoggingConfig{Level: "info", JSONFormat: true},
		FeedConfig:     FeedConfig{URL: "ws://localhost:9000/ticks"},
		PatternsConfig: patterns.DefaultConfig(),
		ScoringConfig:  confluence.DefaultConfig(),
		ShieldConfig:   ShieldConfig{Config: shield.DefaultConfig()},
		RiskConfig:     risk.DefaultConfig(),
		EngineConfig:   engine.DefaultConfig(),
		BridgeConfig: BridgeConfig{
			Mode:         "file",
			InboxDir:     "bridge/decision_inbox",
			OutboxDir:    "bridge/terminal_inbox",
			PollInterval: 100 * time.Millisecond,
		},
		TerminalConfig: TerminalConfig{
			Lifecycle:         terminal.DefaultLifecycleConfig(),
			Executor:          terminal.DefaultExecutorConfig(),
			HeartbeatInterval: 5 * time.Second,
			PaperBalance:      10000,
		},
		APIConfig:      api.Config{Addr: ":8080", HeartbeatTimeout: 30 * time.Second},
		DatabaseConfig: DatabaseConfig{DSN: "postgres://localhost:5432/smcbot"},
		RedisConfig:    RedisConfig{Address: "localhost:6379"},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolWord(cfg.LoggingConfig.JSONFormat)) == "true"

	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", cfg.FeedConfig.URL)

	cfg.RiskConfig.MaxRiskPercent = getEnvFloatOrDefault("RISK_MAX_PERCENT", cfg.RiskConfig.MaxRiskPercent)
	cfg.RiskConfig.MaxDailyTrades = getEnvIntOrDefault("RISK_MAX_DAILY_TRADES", cfg.RiskConfig.MaxDailyTrades)
	cfg.RiskConfig.MaxDrawdownPercent = getEnvFloatOrDefault("RISK_MAX_DRAWDOWN_PERCENT", cfg.RiskConfig.MaxDrawdownPercent)
	cfg.RiskConfig.InstructionTTL = getEnvDurationOrDefault("RISK_INSTRUCTION_TTL", cfg.RiskConfig.InstructionTTL)
	cfg.RiskConfig.DedupWindow = getEnvDurationOrDefault("RISK_DEDUP_WINDOW", cfg.RiskConfig.DedupWindow)
	cfg.RiskConfig.DailyResetTimezone = getEnvOrDefault("RISK_DAILY_RESET_TZ", cfg.RiskConfig.DailyResetTimezone)

	cfg.EngineConfig.CycleInterval = getEnvDurationOrDefault("ENGINE_CYCLE_INTERVAL", cfg.EngineConfig.CycleInterval)
	cfg.EngineConfig.HeartbeatTimeout = getEnvDurationOrDefault("ENGINE_HEARTBEAT_TIMEOUT", cfg.EngineConfig.HeartbeatTimeout)
	if tf := os.Getenv("ENGINE_DETECTION_TIMEFRAME"); tf != "" {
		cfg.EngineConfig.DetectionTimeframe = market.Timeframe(tf)
	}

	cfg.BridgeConfig.Mode = getEnvOrDefault("BRIDGE_MODE", cfg.BridgeConfig.Mode)
	cfg.BridgeConfig.InboxDir = getEnvOrDefault("BRIDGE_INBOX_DIR", cfg.BridgeConfig.InboxDir)
	cfg.BridgeConfig.OutboxDir = getEnvOrDefault("BRIDGE_OUTBOX_DIR", cfg.BridgeConfig.OutboxDir)
	cfg.BridgeConfig.SocketURL = getEnvOrDefault("BRIDGE_SOCKET_URL", cfg.BridgeConfig.SocketURL)
	cfg.BridgeConfig.ListenAddr = getEnvOrDefault("BRIDGE_LISTEN_ADDR", cfg.BridgeConfig.ListenAddr)
	cfg.BridgeConfig.PollInterval = getEnvDurationOrDefault("BRIDGE_POLL_INTERVAL", cfg.BridgeConfig.PollInterval)

	cfg.TerminalConfig.HeartbeatInterval = getEnvDurationOrDefault("TERMINAL_HEARTBEAT_INTERVAL", cfg.TerminalConfig.HeartbeatInterval)
	cfg.TerminalConfig.PaperBalance = getEnvFloatOrDefault("TERMINAL_PAPER_BALANCE", cfg.TerminalConfig.PaperBalance)

	cfg.APIConfig.Addr = getEnvOrDefault("API_ADDR", cfg.APIConfig.Addr)

	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DATABASE_ENABLED", boolWord(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.DSN = getEnvOrDefault("DATABASE_DSN", cfg.DatabaseConfig.DSN)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolWord(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.NotifyConfig.Enabled = getEnvOrDefault("NOTIFY_ENABLED", boolWord(cfg.NotifyConfig.Enabled)) == "true"
	cfg.NotifyConfig.WebhookURL = getEnvOrDefault("NOTIFY_WEBHOOK_URL", cfg.NotifyConfig.WebhookURL)

	// INSTRUMENTS=EURUSD,GBPUSD selects a subset of the configured list.
	if subset := os.Getenv("INSTRUMENTS"); subset != "" {
		wanted := make(map[string]bool)
		for _, s := range strings.Split(subset, ",") {
			wanted[strings.TrimSpace(s)] = true
		}
		var kept []InstrumentEntry
		for _, entry := range cfg.Instruments {
			if wanted[entry.Symbol] {
				kept = append(kept, entry)
			}
		}
		cfg.Instruments = kept
	}
}

// InstrumentSpecs converts the configured entries into the market package
// form, filling unset contract fields with defaults.
func (c *Config) InstrumentSpecs() map[string]market.InstrumentSpec {
	specs := make(map[string]market.InstrumentSpec, len(c.Instruments))
	for _, entry := range c.Instruments {
		spec := market.DefaultInstrumentSpec(entry.Symbol)
		if entry.PipSize > 0 {
			spec.PipSize = entry.PipSize
		}
		if entry.PipValue > 0 {
			spec.PipValue = entry.PipValue
		}
		if entry.LotStep > 0 {
			spec.LotStep = entry.LotStep
		}
		if entry.MinLot > 0 {
			spec.MinLot = entry.MinLot
		}
		if entry.MaxLot > 0 {
			spec.MaxLot = entry.MaxLot
		}
		if entry.MinStopPips > 0 {
			spec.MinStopPips = entry.MinStopPips
		}
		spec.Tradable = entry.Tradable
		specs[entry.Symbol] = spec
	}
	return specs
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func boolWord(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
