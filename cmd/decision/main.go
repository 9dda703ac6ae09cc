// Command decision runs the decision side: market data ingest, pattern
// detection, confluence scoring, consensus checking, safety validation and
// instruction dispatch over the bridge, plus the read-only status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/api"
	"smc-trading-bot/internal/audit"
	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/engine"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/notify"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LoggingConfig)
	logger.Info().Str("config", *configPath).Msg("decision side starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("decision side failed")
	}
	logger.Info().Msg("decision side stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	specs := cfg.InstrumentSpecs()
	instruments := make([]string, 0, len(specs))
	for symbol := range specs {
		instruments = append(instruments, symbol)
	}

	history := market.NewHistory(market.DefaultBufferSize)
	detectors := make(map[string]*patterns.Detector, len(specs))
	scorers := make(map[string]*confluence.Scorer, len(specs))
	for symbol, spec := range specs {
		detectors[symbol] = patterns.NewDetector(cfg.PatternsConfig, spec)
		scorers[symbol] = confluence.NewScorer(cfg.ScoringConfig, spec, history)
	}

	sources := make([]shield.PriceSource, 0, len(cfg.ShieldConfig.Sources))
	for _, src := range cfg.ShieldConfig.Sources {
		sources = append(sources, shield.NewHTTPSource(src.Name, src.URL))
	}
	consensus := shield.New(cfg.ShieldConfig.Config, sources, logger)

	counter, dedup, err := buildStores(cfg, logger)
	if err != nil {
		return err
	}
	validator := risk.NewValidator(cfg.RiskConfig, counter, dedup, logger)

	transport, err := buildTransport(cfg.BridgeConfig, logger)
	if err != nil {
		return err
	}
	client := bridge.NewClient(transport, cfg.BridgeConfig.PollInterval, logger)

	var recorder *audit.Recorder
	if cfg.DatabaseConfig.Enabled {
		recorder, err = audit.Connect(ctx, cfg.DatabaseConfig.DSN, logger)
		if err != nil {
			return fmt.Errorf("audit database: %w", err)
		}
		defer recorder.Close()
		if err := recorder.RunMigrations(ctx); err != nil {
			return fmt.Errorf("audit migrations: %w", err)
		}
	}

	var notifier notify.Notifier
	if cfg.NotifyConfig.Enabled && cfg.NotifyConfig.WebhookURL != "" {
		notifier = notify.NewMulti(logger, notify.NewWebhookNotifier(cfg.NotifyConfig.WebhookURL, logger))
	}

	var eng *engine.Engine
	feed := market.NewFeed(cfg.FeedConfig.URL, instruments, func(t market.Tick) {
		eng.Ingest(t)
	}, logger)

	eng = engine.New(cfg.EngineConfig, engine.Deps{
		Specs:     specs,
		History:   history,
		Feed:      feed,
		Detectors: detectors,
		Scorers:   scorers,
		Shield:    consensus,
		Validator: validator,
		Accounts:  account.NewState(),
		Client:    client,
		Recorder:  recorder,
		Notifier:  notifier,
	}, logger)

	server := api.NewServer(cfg.APIConfig, eng.View(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}

// buildStores picks redis or in-memory backing for the daily counter and
// dedup window.
func buildStores(cfg *config.Config, logger zerolog.Logger) (risk.DailyCounter, risk.DedupStore, error) {
	loc, err := time.LoadLocation(cfg.RiskConfig.DailyResetTimezone)
	if err != nil {
		return nil, nil, fmt.Errorf("daily reset timezone %q: %w", cfg.RiskConfig.DailyResetTimezone, err)
	}

	if !cfg.RedisConfig.Enabled {
		return risk.NewMemoryCounter(loc), risk.NewMemoryDedup(cfg.RiskConfig.DedupWindow), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})
	logger.Info().Str("addr", cfg.RedisConfig.Address).Msg("redis-backed risk stores")
	return risk.NewRedisCounter(client, loc), risk.NewRedisDedup(client, cfg.RiskConfig.DedupWindow), nil
}

func buildTransport(cfg config.BridgeConfig, logger zerolog.Logger) (bridge.Transport, error) {
	switch cfg.Mode {
	case "socket":
		return bridge.DialSocket(cfg.SocketURL, logger)
	case "file", "":
		// The decision side drains its own inbox and drops into the
		// terminal's.
		return bridge.NewFileTransport(cfg.InboxDir, cfg.OutboxDir, logger)
	default:
		return nil, fmt.Errorf("unknown bridge mode %q", cfg.Mode)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
