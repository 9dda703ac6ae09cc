package patterns

import (
	"time"

	"smc-trading-bot/internal/market"
)

// Detector evaluates buffered candle history for one instrument and emits
// candidate signals. Rules are stateless; the buffer is the only shared input.
// A rule whose minimum depth exceeds the buffer is skipped, never an error.
type Detector struct {
	cfg  Config
	spec market.InstrumentSpec
}

// NewDetector creates a detector for one instrument.
func NewDetector(cfg Config, spec market.InstrumentSpec) *Detector {
	return &Detector{cfg: cfg.withDefaults(), spec: spec}
}

// rule is one detection strategy over the shared buffer.
type rule struct {
	minDepth int
	detect   func(candles []market.Candle, now time.Time) []CandidateSignal
}

// Detect runs every rule with sufficient buffer depth and resolves ties:
// when several patterns fire for the same direction in one cycle, only the
// highest-base-score candidate survives. Candidates below the configured
// base-score floor are discarded.
func (d *Detector) Detect(candles []market.Candle, now time.Time) []CandidateSignal {
	rules := []rule{
		{minDepth: d.cfg.SweepLookback + d.cfg.SweepReversalBars + 1, detect: d.detectLiquiditySweep},
		{minDepth: d.cfg.ConsolidationBars + 5, detect: d.detectOrderBlock},
		{minDepth: 3, detect: d.detectFairValueGap},
	}

	var all []CandidateSignal
	for _, r := range rules {
		if len(candles) < r.minDepth {
			continue // DataGap: rule skipped
		}
		all = append(all, r.detect(candles, now)...)
	}

	best := make(map[Direction]CandidateSignal)
	for _, c := range all {
		if c.BaseScore < d.cfg.MinBaseScore {
			continue
		}
		if cur, ok := best[c.Direction]; !ok || c.BaseScore > cur.BaseScore {
			best[c.Direction] = c
		}
	}

	out := make([]CandidateSignal, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out
}

// pipsToPrice converts a pip distance into a price distance.
func (d *Detector) pipsToPrice(pips float64) float64 {
	return pips * d.spec.PipSize
}

// averageVolume returns the mean volume over the given candles.
func averageVolume(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	return total / float64(len(candles))
}

// averageRange returns the mean high-low range over the given candles.
func averageRange(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Range()
	}
	return total / float64(len(candles))
}

// riskMultipleTargets builds three take-profit levels at 1R, 2R and 3R from
// the entry, direction-aware.
func riskMultipleTargets(entry, stop float64, dir Direction) []float64 {
	risk := entry - stop
	if dir == Sell {
		risk = stop - entry
	}
	if risk <= 0 {
		return nil
	}
	if dir == Buy {
		return []float64{entry + risk, entry + 2*risk, entry + 3*risk}
	}
	return []float64{entry - risk, entry - 2*risk, entry - 3*risk}
}
