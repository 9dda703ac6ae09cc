// Package patterns detects smart-money price structures on buffered candle
// history: liquidity sweeps, order blocks and fair value gaps. Detection is
// pure over the buffer; candidates carry a base score that the confluence
// layer refines.
package patterns

import (
	"time"

	"smc-trading-bot/internal/market"
)

// Direction is the trade side implied by a pattern.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Valid reports whether the direction is a known side.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Kind names the detected pattern.
type Kind string

const (
	LiquiditySweep Kind = "liquidity_sweep"
	OrderBlock     Kind = "order_block"
	FairValueGap   Kind = "fair_value_gap"
)

// Base scores per pattern kind. Sweeps carry the strongest standalone edge.
const (
	BaseScoreLiquiditySweep = 55.0
	BaseScoreOrderBlock     = 45.0
	BaseScoreFairValueGap   = 35.0
)

// CandidateSignal is a raw pattern detection before confluence scoring.
type CandidateSignal struct {
	Instrument  string             `json:"instrument"`
	Direction   Direction          `json:"direction"`
	Kind        Kind               `json:"kind"`
	Timeframe   market.Timeframe   `json:"timeframe"`
	BaseScore   float64            `json:"base_score"`
	DetectedAt  time.Time          `json:"detected_at"`
	Entry       float64            `json:"entry"`
	StopLoss    float64            `json:"stop_loss"`
	TakeProfits []float64          `json:"take_profits"`
	Features    map[string]float64 `json:"features,omitempty"`
}

// Config holds the detection thresholds.
type Config struct {
	SweepLookback      int     `json:"sweep_lookback"`       // bars defining the liquidity level
	SweepThresholdPips float64 `json:"sweep_threshold_pips"` // minimum excursion past the level
	SweepReversalBars  int     `json:"sweep_reversal_bars"`  // bars allowed for the reversal
	VolumeSurgeRatio   float64 `json:"volume_surge_ratio"`   // sweep bar volume vs window average

	ConsolidationBars     int     `json:"consolidation_bars"`
	ConsolidationMaxRange float64 `json:"consolidation_max_range"` // candle range vs average marking "quiet"
	OrderBlockBandPct     float64 `json:"order_block_band_pct"`    // re-entry band around the boundary

	FVGThresholdPips float64 `json:"fvg_threshold_pips"` // minimum gap size
	FVGApproachPips  float64 `json:"fvg_approach_pips"`  // distance to midpoint that fires

	MinBaseScore float64 `json:"min_base_score"` // candidates below this are discarded
}

// DefaultConfig returns the detection defaults.
func DefaultConfig() Config {
	return Config{
		SweepLookback:         20,
		SweepThresholdPips:    3,
		SweepReversalBars:     3,
		VolumeSurgeRatio:      1.3,
		ConsolidationBars:     6,
		ConsolidationMaxRange: 0.6,
		OrderBlockBandPct:     0.15,
		FVGThresholdPips:      5,
		FVGApproachPips:       2,
		MinBaseScore:          30,
	}
}

// withDefaults fills zero-valued fields from the defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SweepLookback <= 0 {
		c.SweepLookback = def.SweepLookback
	}
	if c.SweepThresholdPips <= 0 {
		c.SweepThresholdPips = def.SweepThresholdPips
	}
	if c.SweepReversalBars <= 0 {
		c.SweepReversalBars = def.SweepReversalBars
	}
	if c.VolumeSurgeRatio <= 0 {
		c.VolumeSurgeRatio = def.VolumeSurgeRatio
	}
	if c.ConsolidationBars <= 0 {
		c.ConsolidationBars = def.ConsolidationBars
	}
	if c.ConsolidationMaxRange <= 0 {
		c.ConsolidationMaxRange = def.ConsolidationMaxRange
	}
	if c.OrderBlockBandPct <= 0 {
		c.OrderBlockBandPct = def.OrderBlockBandPct
	}
	if c.FVGThresholdPips <= 0 {
		c.FVGThresholdPips = def.FVGThresholdPips
	}
	if c.FVGApproachPips <= 0 {
		c.FVGApproachPips = def.FVGApproachPips
	}
	if c.MinBaseScore <= 0 {
		c.MinBaseScore = def.MinBaseScore
	}
	return c
}
