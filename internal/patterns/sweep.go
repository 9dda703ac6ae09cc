package patterns

import (
	"time"

	"smc-trading-bot/internal/market"
)

// detectLiquiditySweep looks for a stop-hunt: price pushes beyond a recent
// extreme by at least the configured pip threshold on a volume surge, then
// reverses back through the extreme within a few bars. A sweep of the highs
// is a SELL candidate; a sweep of the lows is a BUY candidate.
func (d *Detector) detectLiquiditySweep(candles []market.Candle, now time.Time) []CandidateSignal {
	n := len(candles)
	lookback := d.cfg.SweepLookback
	reversal := d.cfg.SweepReversalBars

	// Window that defines the liquidity level, ending before the sweep bars.
	window := candles[n-lookback-reversal : n-reversal]
	recent := candles[n-reversal:]
	current := candles[n-1]

	var windowHigh, windowLow float64
	windowLow = window[0].Low
	for _, c := range window {
		if c.High > windowHigh {
			windowHigh = c.High
		}
		if c.Low < windowLow {
			windowLow = c.Low
		}
	}

	avgVol := averageVolume(window)
	threshold := d.pipsToPrice(d.cfg.SweepThresholdPips)

	var out []CandidateSignal

	// Sweep of the highs: excursion above windowHigh, close back below it.
	if sweep, ok := d.findSweepBar(recent, windowHigh+threshold, avgVol, true); ok {
		if current.Close < windowHigh && current.IsBearish() {
			entry := current.Close
			stop := sweep.High + d.pipsToPrice(1)
			out = append(out, CandidateSignal{
				Instrument:  current.Instrument,
				Direction:   Sell,
				Kind:        LiquiditySweep,
				Timeframe:   current.Timeframe,
				BaseScore:   BaseScoreLiquiditySweep,
				DetectedAt:  now,
				Entry:       entry,
				StopLoss:    stop,
				TakeProfits: riskMultipleTargets(entry, stop, Sell),
				Features: map[string]float64{
					"sweep_pips":   d.spec.Pips(sweep.High - windowHigh),
					"volume_ratio": volumeRatio(sweep, avgVol),
				},
			})
		}
	}

	// Sweep of the lows: excursion below windowLow, close back above it.
	if sweep, ok := d.findSweepBar(recent, windowLow-threshold, avgVol, false); ok {
		if current.Close > windowLow && current.IsBullish() {
			entry := current.Close
			stop := sweep.Low - d.pipsToPrice(1)
			out = append(out, CandidateSignal{
				Instrument:  current.Instrument,
				Direction:   Buy,
				Kind:        LiquiditySweep,
				Timeframe:   current.Timeframe,
				BaseScore:   BaseScoreLiquiditySweep,
				DetectedAt:  now,
				Entry:       entry,
				StopLoss:    stop,
				TakeProfits: riskMultipleTargets(entry, stop, Buy),
				Features: map[string]float64{
					"sweep_pips":   d.spec.Pips(windowLow - sweep.Low),
					"volume_ratio": volumeRatio(sweep, avgVol),
				},
			})
		}
	}

	return out
}

// findSweepBar returns the bar inside the reversal window that pierced the
// level on sufficient volume. above selects the direction of the excursion.
func (d *Detector) findSweepBar(recent []market.Candle, level, avgVol float64, above bool) (market.Candle, bool) {
	for _, c := range recent {
		pierced := c.High >= level
		if !above {
			pierced = c.Low <= level
		}
		if !pierced {
			continue
		}
		if avgVol > 0 && c.Volume < d.cfg.VolumeSurgeRatio*avgVol {
			continue // excursion without the volume surge is not a sweep
		}
		return c, true
	}
	return market.Candle{}, false
}

func volumeRatio(c market.Candle, avgVol float64) float64 {
	if avgVol <= 0 {
		return 1
	}
	return c.Volume / avgVol
}
