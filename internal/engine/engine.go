// Package engine wires the decision pipeline together: ticks from the feed
// are folded into candle history, pattern detection runs per instrument on
// each cycle, and surviving signals flow through scoring, consensus checking
// and safety validation before an instruction crosses the bridge.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/audit"
	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/metrics"
	"smc-trading-bot/internal/notify"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
)

// Config holds the orchestration settings.
type Config struct {
	DetectionTimeframe market.Timeframe `json:"detection_timeframe"`
	CycleInterval      time.Duration    `json:"cycle_interval"`
	HeartbeatTimeout   time.Duration    `json:"heartbeat_timeout"`
	TickBuffer         int              `json:"tick_buffer"`
}

// DefaultConfig returns the orchestration defaults.
func DefaultConfig() Config {
	return Config{
		DetectionTimeframe: market.TF5m,
		CycleInterval:      5 * time.Second,
		HeartbeatTimeout:   30 * time.Second,
		TickBuffer:         1024,
	}
}

// Engine runs the decision side of the system.
type Engine struct {
	cfg        Config
	specs      map[string]market.InstrumentSpec
	history    *market.History
	aggregator *market.Aggregator
	feed       *market.Feed
	detectors  map[string]*patterns.Detector
	scorers    map[string]*confluence.Scorer
	shield     *shield.Shield
	validator  *risk.Validator
	accounts   *account.State
	client     *bridge.Client
	recorder   *audit.Recorder
	notifier   notify.Notifier
	logger     zerolog.Logger

	ticks chan market.Tick
	view  *View
}

// Deps carries the constructed collaborators.
type Deps struct {
	Specs     map[string]market.InstrumentSpec
	History   *market.History
	Feed      *market.Feed
	Detectors map[string]*patterns.Detector
	Scorers   map[string]*confluence.Scorer
	Shield    *shield.Shield
	Validator *risk.Validator
	Accounts  *account.State
	Client    *bridge.Client
	Recorder  *audit.Recorder // nil disables auditing
	Notifier  notify.Notifier // nil disables notifications
}

// New assembles the engine. The aggregator is created here so the engine's
// run loop is its single writer.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = DefaultConfig().CycleInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultConfig().HeartbeatTimeout
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = DefaultConfig().TickBuffer
	}
	if cfg.DetectionTimeframe == "" {
		cfg.DetectionTimeframe = DefaultConfig().DetectionTimeframe
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewMulti(logger)
	}

	e := &Engine{
		cfg:        cfg,
		specs:      deps.Specs,
		history:    deps.History,
		aggregator: market.NewAggregator(deps.History, market.DefaultTimeframes),
		feed:       deps.Feed,
		detectors:  deps.Detectors,
		scorers:    deps.Scorers,
		shield:     deps.Shield,
		validator:  deps.Validator,
		accounts:   deps.Accounts,
		client:     deps.Client,
		recorder:   deps.Recorder,
		notifier:   deps.Notifier,
		logger:     logger.With().Str("component", "engine").Logger(),
		ticks:      make(chan market.Tick, cfg.TickBuffer),
		view:       NewView(deps.Accounts),
	}

	e.client.OnMessage(bridge.KindResult, e.onResult)
	e.client.OnMessage(bridge.KindStatus, e.onStatus)
	e.client.OnMessage(bridge.KindTelemetry, e.onTelemetry)
	return e
}

// View exposes the read-only state for the status API.
func (e *Engine) View() *View { return e.view }

// Ingest accepts a tick from outside the feed (telemetry, tests). Full
// buffers drop the tick rather than blocking the caller.
func (e *Engine) Ingest(t market.Tick) {
	select {
	case e.ticks <- t:
	default:
		e.logger.Warn().Str("instrument", t.Instrument).Msg("tick buffer full, tick dropped")
	}
}

// Run starts the feed, the bridge client, the pipeline loop and the
// heartbeat monitor, and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.feed != nil {
		if err := e.feed.Start(); err != nil {
			return err
		}
		defer e.feed.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.client.Run(gctx)
		return nil
	})
	g.Go(func() error {
		e.runPipeline(gctx)
		return nil
	})
	g.Go(func() error {
		e.monitorHeartbeat(gctx)
		return nil
	})
	return g.Wait()
}

// runPipeline is the single writer of the aggregator: it folds ticks in as
// they arrive and runs a detection cycle at the configured interval.
func (e *Engine) runPipeline(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.ticks:
			e.aggregator.Ingest(t)
			metrics.TicksIngested.WithLabelValues(t.Instrument).Inc()
		case now := <-ticker.C:
			e.aggregator.FlushBefore(now.UTC())
			e.cycle(ctx, now.UTC())
		}
	}
}

// cycle runs the pipeline for every instrument concurrently, one worker per
// instrument, so a slow shield query on one instrument never delays the
// others. History is not written while the workers read it: the aggregator's
// single writer is the loop that called us. A degraded bridge suspends new
// entries.
func (e *Engine) cycle(ctx context.Context, now time.Time) {
	if !e.view.BridgeHealthy(e.cfg.HeartbeatTimeout) {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for instrument, detector := range e.detectors {
		instrument, detector := instrument, detector
		candles := e.history.Candles(instrument, e.cfg.DetectionTimeframe)

		g.Go(func() error {
			started := time.Now()
			candidates := detector.Detect(candles, now)
			metrics.PipelineLatency.WithLabelValues("detect").Observe(time.Since(started).Seconds())

			for _, c := range candidates {
				metrics.CandidatesDetected.WithLabelValues(instrument, string(c.Kind)).Inc()
				e.process(gctx, c)
			}
			return nil
		})
	}
	g.Wait()
}

// process takes one candidate through scoring, consensus and validation.
func (e *Engine) process(ctx context.Context, c patterns.CandidateSignal) {
	scorer, ok := e.scorers[c.Instrument]
	if !ok {
		return
	}
	sig, keep := scorer.Score(c)
	if !keep {
		e.logger.Debug().
			Str("instrument", c.Instrument).
			Str("kind", string(c.Kind)).
			Float64("confidence", sig.Confidence).
			Msg("signal below confluence floor")
		return
	}
	metrics.SignalsScored.WithLabelValues(c.Instrument).Inc()

	verdict := e.shield.Check(ctx, sig)
	metrics.ShieldVerdicts.WithLabelValues(string(verdict.Tier)).Inc()
	metrics.ShieldAgreement.WithLabelValues(c.Instrument).Observe(verdict.Agreement)
	e.recorder.RecordSignal(ctx, sig, verdict)
	e.view.AddSignal(sig, verdict)

	spec, ok := e.specs[c.Instrument]
	if !ok {
		return
	}

	instr, err := e.validator.Validate(ctx, sig, verdict, e.accounts.Get(), spec)
	if err != nil {
		reason := rejectionReason(err)
		metrics.ValidationRejections.WithLabelValues(reason).Inc()
		// Duplicates are the normal outcome of re-detecting the same
		// structure on consecutive cycles; only genuine rejections log.
		if !errors.Is(err, risk.ErrDuplicate) {
			e.logger.Info().
				Err(err).
				Str("instrument", c.Instrument).
				Str("reason", reason).
				Msg("signal rejected by validator")
			e.notifier.Notify(ctx, notify.Event{
				Type:       notify.EventRejection,
				Instrument: c.Instrument,
				Title:      "Signal rejected",
				Message:    err.Error(),
			})
		}
		return
	}

	e.issue(ctx, instr, sig, verdict)
}

// issue converts the instruction to its wire form and queues it with its
// expiry; the bridge client drops it unsent once the expiry passes.
func (e *Engine) issue(ctx context.Context, instr risk.TradeInstruction, sig confluence.ScoredSignal, verdict shield.Verdict) {
	msg := bridge.InstructionMessage{
		ID:        instr.ID,
		Action:    bridge.ActionCreate,
		Symbol:    instr.Instrument,
		Direction: string(instr.Direction),
		Volume:    instr.Volume,
		Price:     instr.Entry,
		StopLoss:  instr.StopLoss,
		IssuedAt:  instr.IssuedAt,
		ExpiresAt: instr.ExpiresAt,
	}
	for i, tp := range instr.TakeProfits {
		switch i {
		case 0:
			msg.TakeProfit = tp
		case 1:
			msg.TakeProfit2 = tp
		case 2:
			msg.TakeProfit3 = tp
		}
	}

	env, err := bridge.NewEnvelope(bridge.KindInstruction, msg)
	if err != nil {
		e.logger.Error().Err(err).Str("id", instr.ID).Msg("encode instruction failed")
		return
	}

	e.client.SendWithExpiry(env, instr.ExpiresAt)
	e.view.TrackPending(instr)
	e.recorder.RecordInstruction(ctx, instr)
	metrics.InstructionsIssued.Inc()

	e.logger.Info().
		Str("id", instr.ID).
		Str("instrument", instr.Instrument).
		Str("direction", string(instr.Direction)).
		Float64("volume", instr.Volume).
		Str("tier", string(verdict.Tier)).
		Float64("confidence", sig.Confidence).
		Msg("instruction issued")

	e.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventSignal,
		Instrument: instr.Instrument,
		Title:      "Instruction issued",
		Message:    string(instr.Direction) + " " + instr.Instrument,
	})
}

// monitorHeartbeat tracks terminal liveness. Crossing the timeout logs and
// notifies once; recovery logs once.
func (e *Engine) monitorHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	degraded := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			age := e.view.HeartbeatAge()
			metrics.HeartbeatAge.Set(age.Seconds())

			if age > e.cfg.HeartbeatTimeout && !degraded {
				degraded = true
				e.logger.Warn().Dur("age", age).Msg("terminal heartbeat lost, suspending new entries")
				e.notifier.Notify(ctx, notify.Event{
					Type:    notify.EventAlert,
					Title:   "Bridge degraded",
					Message: "no heartbeat from terminal, new entries suspended",
				})
			}
			if age <= e.cfg.HeartbeatTimeout && degraded {
				degraded = false
				e.logger.Info().Msg("terminal heartbeat recovered")
			}
		}
	}
}

func (e *Engine) onResult(env bridge.Envelope, msg interface{}) {
	res, ok := msg.(bridge.ResultMessage)
	if !ok {
		return
	}

	first := e.view.ResolvePending(res)
	if !first {
		// Duplicate acknowledgement of an instruction we already resolved.
		return
	}

	metrics.ResultsReceived.WithLabelValues(string(res.Status)).Inc()
	e.recorder.RecordResult(context.Background(), res)
	e.updateAccount(res.Account, 0, false)

	logEvent := e.logger.Info()
	if res.Status != bridge.StatusFilled {
		logEvent = e.logger.Warn()
	}
	logEvent.
		Str("id", res.ID).
		Str("status", string(res.Status)).
		Int64("ticket", res.Ticket).
		Str("message", res.Message).
		Msg("instruction result")

	if res.Status == bridge.StatusFilled && res.Ticket != 0 {
		e.notifier.Notify(context.Background(), notify.Event{
			Type:    notify.EventFill,
			Title:   "Position opened",
			Message: res.ID,
		})
	}
}

func (e *Engine) onStatus(env bridge.Envelope, msg interface{}) {
	st, ok := msg.(bridge.StatusMessage)
	if !ok {
		return
	}
	e.updateAccount(st.Account, len(st.OpenPositions), true)
	e.view.UpdateStatus(st)
}

// onTelemetry relays terminal-side ticks into the pipeline, useful when the
// primary feed lags or covers fewer instruments than the terminal.
func (e *Engine) onTelemetry(env bridge.Envelope, msg interface{}) {
	t, ok := msg.(bridge.TelemetryMessage)
	if !ok {
		return
	}
	e.Ingest(market.Tick{
		Instrument: t.Instrument,
		Bid:        t.Bid,
		Ask:        t.Ask,
		Spread:     t.Ask - t.Bid,
		Volume:     t.Volume,
		Timestamp:  t.Timestamp,
	})
}

func (e *Engine) updateAccount(info bridge.AccountInfo, openPositions int, fromStatus bool) {
	if info.Balance <= 0 {
		return
	}
	snap := account.Snapshot{
		Balance:    info.Balance,
		Equity:     info.Equity,
		Margin:     info.Margin,
		FreeMargin: info.FreeMargin,
		UpdatedAt:  time.Now().UTC(),
	}
	if fromStatus {
		snap.OpenPositionCount = openPositions
	} else {
		snap.OpenPositionCount = e.accounts.Get().OpenPositionCount
	}
	e.accounts.Update(snap)
}

// rejectionReason maps validator errors onto stable metric labels.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrDailyLimitReached):
		return "daily_limit"
	case errors.Is(err, risk.ErrDrawdownExceeded):
		return "drawdown"
	case errors.Is(err, risk.ErrNotTradable):
		return "not_tradable"
	case errors.Is(err, risk.ErrInvalidDirection):
		return "invalid_direction"
	case errors.Is(err, risk.ErrStopTooTight):
		return "stop_too_tight"
	case errors.Is(err, risk.ErrRiskExceeded):
		return "risk_exceeded"
	case errors.Is(err, risk.ErrBelowMinLot):
		return "below_min_lot"
	case errors.Is(err, risk.ErrNoAccountData):
		return "no_account_data"
	case errors.Is(err, risk.ErrDuplicate):
		return "duplicate"
	default:
		return "other"
	}
}
