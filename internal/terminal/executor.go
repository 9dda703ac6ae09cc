package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/market"
)

// ExecutorConfig bounds order-placement retries.
type ExecutorConfig struct {
	MaxRetries     uint          `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// DefaultExecutorConfig returns the retry defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:     4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Executor places orders against the broker with bounded backoff retry.
// Transient broker rejections are retried; exhausting the bound produces a
// failed Result, and an instruction is never retried past its expiry.
type Executor struct {
	cfg       ExecutorConfig
	broker    Broker
	lifecycle *LifecycleManager
	specs     map[string]market.InstrumentSpec
	logger    zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig, broker Broker, lifecycle *LifecycleManager, specs map[string]market.InstrumentSpec, logger zerolog.Logger) *Executor {
	if cfg.MaxRetries == 0 {
		cfg = DefaultExecutorConfig()
	}
	return &Executor{
		cfg:       cfg,
		broker:    broker,
		lifecycle: lifecycle,
		specs:     specs,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// ExecuteCreate opens a position for a create instruction and hands it to
// the lifecycle manager. The returned Result is always populated; the
// caller acknowledges it over the bridge.
func (e *Executor) ExecuteCreate(ctx context.Context, m bridge.InstructionMessage) bridge.ResultMessage {
	var (
		ticket int64
		fill   float64
	)

	operation := func() error {
		if !m.ExpiresAt.IsZero() && time.Now().After(m.ExpiresAt) {
			return backoff.Permanent(fmt.Errorf("instruction %s expired during retry", m.ID))
		}

		var err error
		ticket, fill, err = e.broker.Open(ctx, OrderRequest{
			Symbol:    m.Symbol,
			Direction: m.Direction,
			Volume:    m.Volume,
			Price:     m.Price,
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("id", m.ID).Msg("order placement failed")
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialBackoff
	policy.MaxInterval = e.cfg.MaxBackoff

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries)), ctx))
	if err != nil {
		return bridge.ResultMessage{
			ID:      m.ID,
			Status:  bridge.StatusFailed,
			Message: fmt.Sprintf("order placement exhausted retries: %v", err),
			Account: accountInfo(e.broker),
		}
	}

	e.lifecycle.Track(Position{
		Ticket:        ticket,
		InstructionID: m.ID,
		Symbol:        m.Symbol,
		Direction:     m.Direction,
		Volume:        m.Volume,
		OpenPrice:     fill,
		StopLoss:      m.StopLoss,
		TakeProfits:   takeProfitLadder(m),
	})

	e.logger.Info().
		Str("id", m.ID).
		Int64("ticket", ticket).
		Float64("fill", fill).
		Msg("position opened")

	return bridge.ResultMessage{
		ID:      m.ID,
		Status:  bridge.StatusFilled,
		Ticket:  ticket,
		Price:   fill,
		Account: accountInfo(e.broker),
	}
}

// takeProfitLadder collects the non-zero TP levels in order.
func takeProfitLadder(m bridge.InstructionMessage) []float64 {
	var out []float64
	for _, tp := range []float64{m.TakeProfit, m.TakeProfit2, m.TakeProfit3} {
		if tp > 0 {
			out = append(out, tp)
		}
	}
	return out
}

func accountInfo(b Broker) bridge.AccountInfo {
	snap := b.Account()
	return bridge.AccountInfo{
		Balance:    snap.Balance,
		Equity:     snap.Equity,
		Margin:     snap.Margin,
		FreeMargin: snap.FreeMargin,
	}
}
