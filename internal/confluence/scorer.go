package confluence

import (
	"fmt"

	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/patterns"
)

// ScoredSignal is a candidate enriched with confluence context.
// Immutable once produced.
type ScoredSignal struct {
	patterns.CandidateSignal

	Confidence         float64 // 0-100
	TimeframeAlignment int     // higher timeframes agreeing with the direction
	SessionTag         market.Session
	Reasoning          []string
}

// Bonus caps per confluence factor. The total is capped at 100.
const (
	MaxSessionBonus    = 25.0
	MaxVolumeBonus     = 5.0
	MaxSpreadBonus     = 3.0
	MaxTimeframeBonus  = 15.0
	MaxVolatilityBonus = 5.0
)

// Config holds scorer settings.
type Config struct {
	ScoreFloor float64 `json:"score_floor"` // signals below this confidence are dropped
}

// DefaultConfig returns the scoring defaults.
func DefaultConfig() Config {
	return Config{ScoreFloor: 60.0}
}

// Scorer turns candidates into scored signals using session, volume, spread,
// higher-timeframe and volatility context from the shared history.
type Scorer struct {
	cfg     Config
	spec    market.InstrumentSpec
	history *market.History
}

// NewScorer creates a scorer for one instrument.
func NewScorer(cfg Config, spec market.InstrumentSpec, history *market.History) *Scorer {
	if cfg.ScoreFloor <= 0 {
		cfg.ScoreFloor = DefaultConfig().ScoreFloor
	}
	return &Scorer{cfg: cfg, spec: spec, history: history}
}

// Score enriches a candidate. The second return value is false when the
// signal falls below the configured floor and must be dropped.
func (s *Scorer) Score(c patterns.CandidateSignal) (ScoredSignal, bool) {
	out := ScoredSignal{
		CandidateSignal: c,
		SessionTag:      market.SessionAt(c.DetectedAt),
		Reasoning:       make([]string, 0, 4),
	}

	score := c.BaseScore

	sessionBonus := s.sessionBonus(out.SessionTag)
	score += sessionBonus
	if sessionBonus >= 20 {
		out.Reasoning = append(out.Reasoning, fmt.Sprintf("high-liquidity session (%s)", out.SessionTag))
	}

	if vb := s.volumeBonus(c); vb > 0 {
		score += vb
		out.Reasoning = append(out.Reasoning, fmt.Sprintf("volume surge %.1fx average", c.Features["volume_ratio"]))
	}

	score += s.spreadBonus(c.Instrument)

	tfBonus, aligned := s.timeframeBonus(c)
	score += tfBonus
	out.TimeframeAlignment = aligned
	if aligned > 0 {
		out.Reasoning = append(out.Reasoning, fmt.Sprintf("%d higher timeframe(s) aligned", aligned))
	}

	score += s.volatilityBonus(c)

	if score > 100 {
		score = 100
	}
	out.Confidence = score

	return out, score >= s.cfg.ScoreFloor
}

// sessionBonus is a deterministic function of the session tag. Overlaps
// carry the most institutional flow and earn the highest bonus.
func (s *Scorer) sessionBonus(tag market.Session) float64 {
	switch tag {
	case market.SessionLondonNY:
		return MaxSessionBonus
	case market.SessionLondon:
		return 20
	case market.SessionNewYork:
		return 18
	case market.SessionTokyoLondon:
		return 15
	case market.SessionTokyo:
		return 10
	case market.SessionSydney:
		return 5
	default:
		return 0
	}
}

func (s *Scorer) volumeBonus(c patterns.CandidateSignal) float64 {
	ratio := c.Features["volume_ratio"]
	switch {
	case ratio >= 2.0:
		return MaxVolumeBonus
	case ratio >= 1.5:
		return 3
	case ratio >= 1.3:
		return 2
	default:
		return 0
	}
}

// spreadBonus rewards tight current spreads; wide spreads earn nothing.
func (s *Scorer) spreadBonus(instrument string) float64 {
	tick, ok := s.history.LastTick(instrument)
	if !ok {
		return 0
	}
	pips := s.spec.Pips(tick.Spread)
	switch {
	case pips <= 1:
		return MaxSpreadBonus
	case pips <= 2:
		return 2
	case pips <= 3:
		return 1
	default:
		return 0
	}
}

// timeframeBonus checks directional agreement on the timeframes above the
// detection timeframe. Full credit needs at least two agreeing; a single
// agreeing timeframe earns partial credit. Timeframes without enough data
// are skipped, never counted against the signal.
func (s *Scorer) timeframeBonus(c patterns.CandidateSignal) (float64, int) {
	const trendBars = 10

	aligned := 0
	checked := 0
	for _, tf := range c.Timeframe.Higher() {
		candles := s.history.Candles(c.Instrument, tf)
		if len(candles) < trendBars {
			continue
		}
		checked++
		first := candles[len(candles)-trendBars]
		last := candles[len(candles)-1]

		rising := last.Close > first.Close
		if (c.Direction == patterns.Buy && rising) || (c.Direction == patterns.Sell && !rising) {
			aligned++
		}
		if checked == 3 {
			break
		}
	}

	switch {
	case aligned >= 2:
		return MaxTimeframeBonus, aligned
	case aligned == 1:
		return MaxTimeframeBonus / 2, aligned
	default:
		return 0, 0
	}
}

// volatilityBonus rewards a moderately expanding range on the detection
// timeframe. Dead markets and chaotic expansion both earn nothing.
func (s *Scorer) volatilityBonus(c patterns.CandidateSignal) float64 {
	const shortWindow, longWindow = 14, 50

	candles := s.history.Candles(c.Instrument, c.Timeframe)
	if len(candles) < longWindow {
		return 0
	}

	short := avgRange(candles[len(candles)-shortWindow:])
	long := avgRange(candles[len(candles)-longWindow:])
	if long <= 0 {
		return 0
	}

	ratio := short / long
	switch {
	case ratio >= 1.0 && ratio <= 2.0:
		return MaxVolatilityBonus
	case ratio >= 0.8:
		return 2
	default:
		return 0
	}
}

func avgRange(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Range()
	}
	return total / float64(len(candles))
}
