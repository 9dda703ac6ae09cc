package patterns

import (
	"time"

	"smc-trading-bot/internal/market"
)

// detectOrderBlock looks for price re-entering the boundary of a prior
// consolidation that launched an impulsive move. The boundary in the
// direction of the departure acted as support (after a rally) or resistance
// (after a drop); a re-test inside the configured percentage band fires.
func (d *Detector) detectOrderBlock(candles []market.Candle, now time.Time) []CandidateSignal {
	n := len(candles)
	current := candles[n-1]
	avgRange := averageRange(candles)
	if avgRange <= 0 {
		return nil
	}

	block, departure, ok := d.findConsolidation(candles[:n-1], avgRange)
	if !ok {
		return nil
	}

	band := block.high * d.cfg.OrderBlockBandPct / 100
	price := current.Close

	var out []CandidateSignal

	if departure > 0 {
		// Impulse left upward: the block top is support on the way back down.
		if price >= block.high-band && price <= block.high+band {
			entry := price
			stop := block.low - d.pipsToPrice(1)
			out = append(out, CandidateSignal{
				Instrument:  current.Instrument,
				Direction:   Buy,
				Kind:        OrderBlock,
				Timeframe:   current.Timeframe,
				BaseScore:   BaseScoreOrderBlock,
				DetectedAt:  now,
				Entry:       entry,
				StopLoss:    stop,
				TakeProfits: riskMultipleTargets(entry, stop, Buy),
				Features: map[string]float64{
					"block_high":   block.high,
					"block_low":    block.low,
					"volume_ratio": 1,
				},
			})
		}
	} else {
		// Impulse left downward: the block bottom is resistance on the retest.
		if price >= block.low-band && price <= block.low+band {
			entry := price
			stop := block.high + d.pipsToPrice(1)
			out = append(out, CandidateSignal{
				Instrument:  current.Instrument,
				Direction:   Sell,
				Kind:        OrderBlock,
				Timeframe:   current.Timeframe,
				BaseScore:   BaseScoreOrderBlock,
				DetectedAt:  now,
				Entry:       entry,
				StopLoss:    stop,
				TakeProfits: riskMultipleTargets(entry, stop, Sell),
				Features: map[string]float64{
					"block_high":   block.high,
					"block_low":    block.low,
					"volume_ratio": 1,
				},
			})
		}
	}

	return out
}

type consolidation struct {
	high float64
	low  float64
}

// findConsolidation scans backwards for the most recent run of
// ConsolidationBars quiet candles followed by an impulsive departure.
// Returns the block boundaries and the departure direction (+1 up, -1 down).
func (d *Detector) findConsolidation(candles []market.Candle, avgRange float64) (consolidation, int, bool) {
	bars := d.cfg.ConsolidationBars
	maxRange := avgRange * d.cfg.ConsolidationMaxRange

	// Leave at least one candle after the block for the departure.
	for end := len(candles) - 2; end >= bars; end-- {
		run := candles[end-bars : end]
		if !allQuiet(run, maxRange) {
			continue
		}

		block := consolidation{high: run[0].High, low: run[0].Low}
		for _, c := range run {
			if c.High > block.high {
				block.high = c.High
			}
			if c.Low < block.low {
				block.low = c.Low
			}
		}

		departure := candles[end]
		if departure.Close > block.high+avgRange {
			return block, 1, true
		}
		if departure.Close < block.low-avgRange {
			return block, -1, true
		}
	}
	return consolidation{}, 0, false
}

func allQuiet(run []market.Candle, maxRange float64) bool {
	for _, c := range run {
		if c.Range() > maxRange {
			return false
		}
	}
	return true
}
