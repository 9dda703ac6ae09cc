package patterns

import (
	"time"

	"smc-trading-bot/internal/market"
)

// detectFairValueGap looks for a three-candle imbalance: an impulsive middle
// candle leaves a gap between the first candle's extreme and the third's.
// The signal fires when current price approaches the gap midpoint, trading
// back into the imbalance in the direction the gap implies.
func (d *Detector) detectFairValueGap(candles []market.Candle, now time.Time) []CandidateSignal {
	n := len(candles)
	current := candles[n-1]
	price := current.Close

	minGap := d.pipsToPrice(d.cfg.FVGThresholdPips)
	approach := d.pipsToPrice(d.cfg.FVGApproachPips)

	// Scan the most recent completed triples, newest first, skipping the
	// current candle. The first qualifying gap wins.
	for i := n - 4; i >= 0; i-- {
		first, third := candles[i], candles[i+2]

		// Bullish imbalance: gap between first.High and third.Low.
		if gap := third.Low - first.High; gap >= minGap {
			mid := first.High + gap/2
			// Price above the gap pulling back down toward the midpoint.
			if price > mid && price-mid <= approach {
				entry := price
				stop := first.High - d.pipsToPrice(1)
				return []CandidateSignal{{
					Instrument:  current.Instrument,
					Direction:   Buy,
					Kind:        FairValueGap,
					Timeframe:   current.Timeframe,
					BaseScore:   BaseScoreFairValueGap,
					DetectedAt:  now,
					Entry:       entry,
					StopLoss:    stop,
					TakeProfits: riskMultipleTargets(entry, stop, Buy),
					Features: map[string]float64{
						"gap_pips":     d.spec.Pips(gap),
						"gap_midpoint": mid,
						"volume_ratio": 1,
					},
				}}
			}
		}

		// Bearish imbalance: gap between third.High and first.Low.
		if gap := first.Low - third.High; gap >= minGap {
			mid := third.High + gap/2
			// Price below the gap rallying up toward the midpoint.
			if price < mid && mid-price <= approach {
				entry := price
				stop := first.Low + d.pipsToPrice(1)
				return []CandidateSignal{{
					Instrument:  current.Instrument,
					Direction:   Sell,
					Kind:        FairValueGap,
					Timeframe:   current.Timeframe,
					BaseScore:   BaseScoreFairValueGap,
					DetectedAt:  now,
					Entry:       entry,
					StopLoss:    stop,
					TakeProfits: riskMultipleTargets(entry, stop, Sell),
					Features: map[string]float64{
						"gap_pips":     d.spec.Pips(gap),
						"gap_midpoint": mid,
						"volume_ratio": 1,
					},
				}}
			}
		}
	}

	return nil
}
