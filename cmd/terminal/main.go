// Command terminal runs the execution side of the bridge: it consumes
// instructions, places orders against the broker, manages open-position
// lifecycle (break-even, partial take-profit ladder, trailing stop) and
// reports results and heartbeats back to the decision side.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/terminal"
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
	logger.Info().Str("config", *configPath).Msg("terminal starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("terminal failed")
	}
	logger.Info().Msg("terminal stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	specs := cfg.InstrumentSpecs()
	instruments := make([]string, 0, len(specs))
	for symbol := range specs {
		instruments = append(instruments, symbol)
	}

	broker := terminal.NewPaperBroker(cfg.TerminalConfig.PaperBalance, specs)

	transport, err := buildTransport(cfg.BridgeConfig, logger)
	if err != nil {
		return err
	}
	client := bridge.NewClient(transport, cfg.BridgeConfig.PollInterval, logger)

	// The fill counter resets on the same day boundary as the decision
	// side's daily trade cap.
	loc, err := time.LoadLocation(cfg.RiskConfig.DailyResetTimezone)
	if err != nil {
		return fmt.Errorf("daily reset timezone %q: %w", cfg.RiskConfig.DailyResetTimezone, err)
	}

	lifecycle := terminal.NewLifecycleManager(cfg.TerminalConfig.Lifecycle, specs, broker, broker.LastPrice, logger)
	executor := terminal.NewExecutor(cfg.TerminalConfig.Executor, broker, lifecycle, specs, logger)
	intake := terminal.NewIntake(client, executor, lifecycle, broker, specs, loc, logger)
	heartbeat := terminal.NewHeartbeat(client, broker, lifecycle, intake, cfg.TerminalConfig.HeartbeatInterval, logger)

	// The terminal marks the paper broker to market from the same stream
	// the decision side trades on.
	feed := market.NewFeed(cfg.FeedConfig.URL, instruments, func(t market.Tick) {
		broker.UpdatePrice(t.Instrument, t.Mid())
	}, logger)
	if err := feed.Start(); err != nil {
		logger.Warn().Err(err).Msg("market feed unavailable, relying on instruction prices")
	} else {
		defer feed.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		client.Run(gctx)
		return nil
	})
	g.Go(func() error {
		lifecycle.Run(gctx)
		return nil
	})
	g.Go(func() error {
		heartbeat.Run(gctx)
		return nil
	})
	return g.Wait()
}

func buildTransport(cfg config.BridgeConfig, logger zerolog.Logger) (bridge.Transport, error) {
	switch cfg.Mode {
	case "socket":
		return bridge.ListenSocket(cfg.ListenAddr, logger)
	case "file", "":
		// Mirror image of the decision side: drain what it drops for us,
		// drop results into its inbox.
		return bridge.NewFileTransport(cfg.OutboxDir, cfg.InboxDir, logger)
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
