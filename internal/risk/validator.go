// Package risk turns scored, shield-checked signals into sized trade
// instructions, enforcing the hard limits that no upstream component may
// bypass: the daily trade cap, the per-trade risk bound and broker lot
// constraints.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/shield"
)

// Rejection reasons. All are terminal for the signal, never for the pipeline.
var (
	ErrDailyLimitReached = errors.New("daily trade limit reached")
	ErrDrawdownExceeded  = errors.New("account drawdown limit exceeded")
	ErrNotTradable       = errors.New("instrument not tradable")
	ErrInvalidDirection  = errors.New("direction must be BUY or SELL")
	ErrStopTooTight      = errors.New("stop distance below broker minimum")
	ErrRiskExceeded      = errors.New("risk exceeds configured maximum")
	ErrBelowMinLot       = errors.New("size below minimum lot after rounding")
	ErrNoAccountData     = errors.New("no account snapshot available")
	ErrDuplicate         = errors.New("duplicate instruction within dedup window")
)

// TradeInstruction is the fully validated, sized order handed to the bridge.
// Its ID is a deterministic fingerprint; an instruction with the same ID is
// processed at most once.
type TradeInstruction struct {
	ID          string             `json:"id"`
	Instrument  string             `json:"instrument"`
	Direction   patterns.Direction `json:"direction"`
	Volume      float64            `json:"volume"`
	Entry       float64            `json:"entry"`
	StopLoss    float64            `json:"stop_loss"`
	TakeProfits []float64          `json:"take_profits"`
	IssuedAt    time.Time          `json:"issued_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// Config holds the execution-safety limits.
type Config struct {
	MaxRiskPercent     float64       `json:"max_risk_percent"`     // hard per-trade risk bound
	MaxDailyTrades     int           `json:"max_daily_trades"`
	MaxDrawdownPercent float64       `json:"max_drawdown_percent"` // equity drop vs balance that halts new entries
	InstructionTTL     time.Duration `json:"instruction_ttl"`
	DedupWindow        time.Duration `json:"dedup_window"`
	DailyResetTimezone string        `json:"daily_reset_timezone"` // IANA name for the counter's day boundary
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		MaxRiskPercent:     1.0,
		MaxDailyTrades:     10,
		MaxDrawdownPercent: 5.0,
		InstructionTTL:     2 * time.Minute,
		DedupWindow:        5 * time.Minute,
		DailyResetTimezone: "UTC",
	}
}

// Validator applies the ordered safety checks and position sizing.
type Validator struct {
	cfg     Config
	counter DailyCounter
	dedup   DedupStore
	logger  zerolog.Logger
}

// NewValidator creates a validator sharing the given daily counter and
// dedup store across all instrument workers.
func NewValidator(cfg Config, counter DailyCounter, dedup DedupStore, logger zerolog.Logger) *Validator {
	return &Validator{
		cfg:     cfg,
		counter: counter,
		dedup:   dedup,
		logger:  logger.With().Str("component", "validator").Logger(),
	}
}

// Validate runs the safety checks in order, first failure short-circuits:
//
//  1. daily instruction count below the cap
//  2. instrument tradable, direction known
//  3. stop distance positive and at least the broker minimum
//  4. resulting risk within the configured bound
//
// On success it returns a sized instruction with a deterministic ID and
// registers the execution against the daily counter and dedup window.
func (v *Validator) Validate(
	ctx context.Context,
	sig confluence.ScoredSignal,
	verdict shield.Verdict,
	snap account.Snapshot,
	spec market.InstrumentSpec,
) (TradeInstruction, error) {
	count, err := v.counter.Count(ctx)
	if err != nil {
		return TradeInstruction{}, fmt.Errorf("daily counter: %w", err)
	}
	if count >= v.cfg.MaxDailyTrades {
		return TradeInstruction{}, fmt.Errorf("%w: %d/%d", ErrDailyLimitReached, count, v.cfg.MaxDailyTrades)
	}

	if snap.Balance <= 0 {
		return TradeInstruction{}, ErrNoAccountData
	}
	if v.cfg.MaxDrawdownPercent > 0 && snap.Equity > 0 {
		drawdown := (snap.Balance - snap.Equity) / snap.Balance * 100
		if drawdown >= v.cfg.MaxDrawdownPercent {
			return TradeInstruction{}, fmt.Errorf("%w: %.2f%%", ErrDrawdownExceeded, drawdown)
		}
	}

	if !spec.Tradable {
		return TradeInstruction{}, fmt.Errorf("%w: %s", ErrNotTradable, sig.Instrument)
	}
	if !sig.Direction.Valid() {
		return TradeInstruction{}, fmt.Errorf("%w: %q", ErrInvalidDirection, sig.Direction)
	}

	stopPips := spec.Pips(sig.Entry - sig.StopLoss)
	if stopPips <= 0 {
		return TradeInstruction{}, fmt.Errorf("%w: zero stop distance", ErrStopTooTight)
	}
	if stopPips < spec.MinStopPips {
		return TradeInstruction{}, fmt.Errorf("%w: %.1f < %.1f pips", ErrStopTooTight, stopPips, spec.MinStopPips)
	}

	size, err := v.size(snap.Balance, stopPips, verdict.Multiplier, spec)
	if err != nil {
		return TradeInstruction{}, err
	}

	// Final risk bound check against the rounded size.
	riskPct := size * stopPips * spec.PipValue / snap.Balance * 100
	if riskPct > v.cfg.MaxRiskPercent+1e-9 {
		return TradeInstruction{}, fmt.Errorf("%w: %.3f%% > %.3f%%", ErrRiskExceeded, riskPct, v.cfg.MaxRiskPercent)
	}

	id := Fingerprint(sig.CandidateSignal, size)
	fresh, err := v.dedup.MarkIfNew(ctx, id)
	if err != nil {
		return TradeInstruction{}, fmt.Errorf("dedup store: %w", err)
	}
	if !fresh {
		return TradeInstruction{}, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}

	if _, err := v.counter.Increment(ctx); err != nil {
		return TradeInstruction{}, fmt.Errorf("daily counter: %w", err)
	}

	now := time.Now().UTC()
	instr := TradeInstruction{
		ID:          id,
		Instrument:  sig.Instrument,
		Direction:   sig.Direction,
		Volume:      size,
		Entry:       sig.Entry,
		StopLoss:    sig.StopLoss,
		TakeProfits: sig.TakeProfits,
		IssuedAt:    now,
		ExpiresAt:   now.Add(v.cfg.InstructionTTL),
	}

	v.logger.Info().
		Str("id", id).
		Str("instrument", instr.Instrument).
		Str("direction", string(instr.Direction)).
		Float64("volume", size).
		Float64("risk_pct", riskPct).
		Str("tier", string(verdict.Tier)).
		Msg("instruction validated")

	return instr, nil
}

// size computes the position size from the risk budget and stop distance.
// The shield multiplier scales the budget, but the hard risk bound always
// wins: a boosting tier can never push risk past MaxRiskPercent. The result
// is floored to the lot step and clamped to broker bounds; flooring below
// the minimum lot rejects rather than rounding up past the risk bound.
func (v *Validator) size(balance, stopPips, multiplier float64, spec market.InstrumentSpec) (float64, error) {
	if multiplier <= 0 {
		multiplier = shield.MultiplierUnverified
	}

	riskAmount := balance * v.cfg.MaxRiskPercent / 100 * multiplier
	if riskCap := balance * v.cfg.MaxRiskPercent / 100; riskAmount > riskCap {
		riskAmount = riskCap
	}

	stopValuePerLot := stopPips * spec.PipValue
	if stopValuePerLot <= 0 {
		return 0, fmt.Errorf("%w: zero stop value", ErrStopTooTight)
	}

	raw := riskAmount / stopValuePerLot
	size := math.Floor(raw/spec.LotStep+1e-9) * spec.LotStep

	if size > spec.MaxLot {
		size = spec.MaxLot
	}
	if size < spec.MinLot {
		return 0, fmt.Errorf("%w: %.4f < %.4f", ErrBelowMinLot, size, spec.MinLot)
	}
	return size, nil
}
