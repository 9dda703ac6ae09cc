package terminal

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/market"
)

// Position is terminal-owned position state. The lifecycle manager is the
// exclusive owner; everything else sees only published snapshots.
type Position struct {
	Ticket        int64
	InstructionID string
	Symbol        string
	Direction     string
	Volume        float64
	InitialVolume float64
	OpenPrice     float64
	StopLoss      float64
	TakeProfits   []float64
	OpenedAt      time.Time

	BreakEvenSet     bool
	PartialCloseStep int
	TrailingActive   bool
	TrailingDistance float64 // price distance behind the water mark

	highWaterMark float64
	lowWaterMark  float64
}

// LifecycleConfig holds the position management rules.
type LifecycleConfig struct {
	BreakEvenTriggerPips float64       `json:"break_even_trigger_pips"`
	BreakEvenBufferPips  float64       `json:"break_even_buffer_pips"`
	TrailingDistancePips float64       `json:"trailing_distance_pips"`
	PartialFractions     []float64     `json:"partial_fractions"` // applied to remaining volume per TP step
	CycleInterval        time.Duration `json:"cycle_interval"`
}

// DefaultLifecycleConfig returns the standard 30/30/40 ladder.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		BreakEvenTriggerPips: 10,
		BreakEvenBufferPips:  1,
		TrailingDistancePips: 15,
		PartialFractions:     []float64{0.30, 0.30, 0.40},
		CycleInterval:        time.Second,
	}
}

// PriceFunc supplies the current price for a symbol.
type PriceFunc func(symbol string) (float64, bool)

// LifecycleManager owns every open position and applies break-even,
// multi-step take-profit and trailing-stop rules on a fixed timer,
// independent of instruction arrival.
type LifecycleManager struct {
	mu sync.Mutex

	cfg       LifecycleConfig
	specs     map[string]market.InstrumentSpec
	broker    Broker
	priceFn   PriceFunc
	logger    zerolog.Logger
	positions map[int64]*Position
}

// NewLifecycleManager creates the manager.
func NewLifecycleManager(cfg LifecycleConfig, specs map[string]market.InstrumentSpec, broker Broker, priceFn PriceFunc, logger zerolog.Logger) *LifecycleManager {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Second
	}
	if len(cfg.PartialFractions) == 0 {
		cfg.PartialFractions = DefaultLifecycleConfig().PartialFractions
	}
	return &LifecycleManager{
		cfg:       cfg,
		specs:     specs,
		broker:    broker,
		priceFn:   priceFn,
		logger:    logger.With().Str("component", "lifecycle").Logger(),
		positions: make(map[int64]*Position),
	}
}

// Track takes ownership of a freshly opened position.
func (m *LifecycleManager) Track(pos Position) {
	pos.InitialVolume = pos.Volume
	pos.highWaterMark = pos.OpenPrice
	pos.lowWaterMark = pos.OpenPrice
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	m.mu.Lock()
	m.positions[pos.Ticket] = &pos
	m.mu.Unlock()

	m.logger.Info().
		Int64("ticket", pos.Ticket).
		Str("symbol", pos.Symbol).
		Str("direction", pos.Direction).
		Float64("volume", pos.Volume).
		Msg("position tracked")
}

// Run drives Cycle on the configured interval until ctx is cancelled.
func (m *LifecycleManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle evaluates every position against the current price: stop hit,
// take-profit ladder, break-even and trailing, in that order.
func (m *LifecycleManager) Cycle(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ticket, pos := range m.positions {
		price, ok := m.priceFn(pos.Symbol)
		if !ok || price <= 0 {
			continue
		}

		if m.stopHit(pos, price) {
			if err := m.closeFullLocked(ctx, ticket, pos, price, "stop loss hit"); err != nil {
				m.logger.Error().Err(err).Int64("ticket", ticket).Msg("stop-loss close failed, retrying next cycle")
			}
			continue
		}

		if m.applyTakeProfits(ctx, ticket, pos, price) {
			continue // fully closed by the final ladder step
		}

		m.applyBreakEven(pos, price)
		m.applyTrailing(pos, price)
	}
}

func (m *LifecycleManager) stopHit(pos *Position, price float64) bool {
	if pos.StopLoss <= 0 {
		return false
	}
	if pos.Direction == "BUY" {
		return price <= pos.StopLoss
	}
	return price >= pos.StopLoss
}

// applyTakeProfits walks the ladder. Each step closes its fraction of the
// *remaining* volume; the final level closes everything left. Returns true
// if the position was fully closed. Caller must hold m.mu.
func (m *LifecycleManager) applyTakeProfits(ctx context.Context, ticket int64, pos *Position, price float64) bool {
	spec := m.spec(pos.Symbol)

	for pos.PartialCloseStep < len(pos.TakeProfits) {
		level := pos.TakeProfits[pos.PartialCloseStep]
		reached := price >= level
		if pos.Direction == "SELL" {
			reached = price <= level
		}
		if !reached {
			return false
		}

		lastStep := pos.PartialCloseStep == len(pos.TakeProfits)-1
		fraction := 1.0
		if pos.PartialCloseStep < len(m.cfg.PartialFractions) {
			fraction = m.cfg.PartialFractions[pos.PartialCloseStep]
		}

		if lastStep {
			if err := m.closeFullLocked(ctx, ticket, pos, price, fmt.Sprintf("final take profit %d", pos.PartialCloseStep+1)); err != nil {
				m.logger.Error().Err(err).Int64("ticket", ticket).Msg("final take-profit close failed, retrying next cycle")
				return false
			}
			return true
		}

		closeVol := math.Floor(pos.Volume*fraction/spec.LotStep+1e-9) * spec.LotStep
		remainder := pos.Volume - closeVol

		// Both legs must respect the minimum lot; otherwise close fully.
		if closeVol < spec.MinLot || remainder < spec.MinLot {
			if err := m.closeFullLocked(ctx, ticket, pos, price, fmt.Sprintf("take profit %d, remainder below min lot", pos.PartialCloseStep+1)); err != nil {
				m.logger.Error().Err(err).Int64("ticket", ticket).Msg("take-profit close failed, retrying next cycle")
				return false
			}
			return true
		}

		if err := m.broker.ClosePartial(ctx, ticket, closeVol, price); err != nil {
			m.logger.Error().Err(err).Int64("ticket", ticket).Msg("partial close failed, retrying next cycle")
			return false
		}

		pos.Volume = remainder
		pos.PartialCloseStep++
		m.logger.Info().
			Int64("ticket", ticket).
			Int("step", pos.PartialCloseStep).
			Float64("closed", closeVol).
			Float64("remaining", pos.Volume).
			Msg("partial close")
	}
	return false
}

// applyBreakEven moves the stop to entry plus a direction-aware buffer once
// profit reaches the trigger. Applied at most once per position.
func (m *LifecycleManager) applyBreakEven(pos *Position, price float64) {
	if pos.BreakEvenSet || m.cfg.BreakEvenTriggerPips <= 0 {
		return
	}
	spec := m.spec(pos.Symbol)
	if m.profitPips(pos, price, spec) < m.cfg.BreakEvenTriggerPips {
		return
	}

	buffer := m.cfg.BreakEvenBufferPips * spec.PipSize
	if pos.Direction == "BUY" {
		pos.StopLoss = pos.OpenPrice + buffer
	} else {
		pos.StopLoss = pos.OpenPrice - buffer
	}
	pos.BreakEvenSet = true
	m.logger.Info().Int64("ticket", pos.Ticket).Float64("sl", pos.StopLoss).Msg("break-even set")
}

// applyTrailing advances the stop behind the favorable water mark. The stop
// only ever moves in the profitable direction.
func (m *LifecycleManager) applyTrailing(pos *Position, price float64) {
	if !pos.TrailingActive {
		return
	}
	distance := pos.TrailingDistance
	if distance <= 0 {
		distance = m.cfg.TrailingDistancePips * m.spec(pos.Symbol).PipSize
	}

	if pos.Direction == "BUY" {
		if price > pos.highWaterMark {
			pos.highWaterMark = price
		}
		if candidate := pos.highWaterMark - distance; candidate > pos.StopLoss {
			pos.StopLoss = candidate
		}
		return
	}

	if price < pos.lowWaterMark || pos.lowWaterMark == 0 {
		pos.lowWaterMark = price
	}
	if candidate := pos.lowWaterMark + distance; pos.StopLoss == 0 || candidate < pos.StopLoss {
		pos.StopLoss = candidate
	}
}

// closeFullLocked closes the remaining volume and stops tracking the
// position. The broker error is returned so commanded closes surface it in
// their Result; the position stays tracked. Caller must hold m.mu.
func (m *LifecycleManager) closeFullLocked(ctx context.Context, ticket int64, pos *Position, price float64, reason string) error {
	if err := m.broker.Close(ctx, ticket, price); err != nil {
		return fmt.Errorf("close ticket %d (%s): %w", ticket, reason, err)
	}
	delete(m.positions, ticket)
	m.logger.Info().
		Int64("ticket", ticket).
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Msg("position closed")
	return nil
}

// EnableTrailing activates the trailing stop for a position.
func (m *LifecycleManager) EnableTrailing(ticket int64, distancePips float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	pos.TrailingActive = true
	if distancePips > 0 {
		pos.TrailingDistance = distancePips * m.spec(pos.Symbol).PipSize
	}
	return nil
}

// ForceBreakEven applies the break-even move on command, same
// at-most-once rule as the automatic trigger.
func (m *LifecycleManager) ForceBreakEven(ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	if pos.BreakEvenSet {
		return nil
	}
	spec := m.spec(pos.Symbol)
	buffer := m.cfg.BreakEvenBufferPips * spec.PipSize
	if pos.Direction == "BUY" {
		pos.StopLoss = pos.OpenPrice + buffer
	} else {
		pos.StopLoss = pos.OpenPrice - buffer
	}
	pos.BreakEvenSet = true
	return nil
}

// ModifyStops updates stop and final take-profit on command.
func (m *LifecycleManager) ModifyStops(ticket int64, sl, tp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	if sl > 0 {
		pos.StopLoss = sl
	}
	if tp > 0 && len(pos.TakeProfits) > 0 {
		pos.TakeProfits[len(pos.TakeProfits)-1] = tp
	}
	return nil
}

// ClosePartial closes part of a position on command, honoring the min-lot
// remainder rule.
func (m *LifecycleManager) ClosePartial(ctx context.Context, ticket int64, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	price, ok := m.priceFn(pos.Symbol)
	if !ok {
		return fmt.Errorf("no price for %s", pos.Symbol)
	}

	spec := m.spec(pos.Symbol)
	remainder := pos.Volume - volume
	if volume < spec.MinLot || remainder < spec.MinLot {
		return m.closeFullLocked(ctx, ticket, pos, price, "commanded partial close below min lot")
	}
	if err := m.broker.ClosePartial(ctx, ticket, volume, price); err != nil {
		return err
	}
	pos.Volume = remainder
	return nil
}

// Close closes a position fully on command.
func (m *LifecycleManager) Close(ctx context.Context, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	price, ok := m.priceFn(pos.Symbol)
	if !ok {
		return fmt.Errorf("no price for %s", pos.Symbol)
	}
	return m.closeFullLocked(ctx, ticket, pos, price, "commanded close")
}

// Snapshots publishes the full position state for the Status heartbeat.
func (m *LifecycleManager) Snapshots() []bridge.PositionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]bridge.PositionSnapshot, 0, len(m.positions))
	for _, pos := range m.positions {
		spec := m.spec(pos.Symbol)
		snap := bridge.PositionSnapshot{
			Ticket:           pos.Ticket,
			Symbol:           pos.Symbol,
			Direction:        pos.Direction,
			Volume:           pos.Volume,
			InitialVolume:    pos.InitialVolume,
			OpenPrice:        pos.OpenPrice,
			StopLoss:         pos.StopLoss,
			BreakEvenSet:     pos.BreakEvenSet,
			PartialCloseStep: pos.PartialCloseStep,
			TrailingActive:   pos.TrailingActive,
		}
		if len(pos.TakeProfits) > 0 {
			snap.TakeProfit = pos.TakeProfits[len(pos.TakeProfits)-1]
		}
		if price, ok := m.priceFn(pos.Symbol); ok && price > 0 {
			pips := m.profitPips(pos, price, spec)
			snap.Profit = pips * spec.PipValue * pos.Volume
			if pos.OpenPrice > 0 {
				snap.PnLPercent = (price - pos.OpenPrice) / pos.OpenPrice * 100
				if pos.Direction == "SELL" {
					snap.PnLPercent = -snap.PnLPercent
				}
			}
		}
		out = append(out, snap)
	}
	return out
}

// Count returns the number of tracked positions.
func (m *LifecycleManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

func (m *LifecycleManager) spec(symbol string) market.InstrumentSpec {
	if s, ok := m.specs[symbol]; ok {
		return s
	}
	return market.DefaultInstrumentSpec(symbol)
}

// profitPips returns the signed unrealized profit in pips.
func (m *LifecycleManager) profitPips(pos *Position, price float64, spec market.InstrumentSpec) float64 {
	if spec.PipSize <= 0 {
		return 0
	}
	pips := (price - pos.OpenPrice) / spec.PipSize
	if pos.Direction == "SELL" {
		pips = -pips
	}
	return pips
}
