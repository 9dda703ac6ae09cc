// Package shield cross-checks signal prices against multiple independent
// sources before any risk is sized. It never rejects a signal outright:
// low agreement only scales exposure down, so a manipulated or broken feed
// reduces position size instead of halting the pipeline.
package shield

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"smc-trading-bot/internal/confluence"
)

// TrustTier classifies how much the consensus check trusts a signal.
type TrustTier string

const (
	TierApproved   TrustTier = "Approved"
	TierActive     TrustTier = "Active"
	TierCaution    TrustTier = "Caution"
	TierUnverified TrustTier = "Unverified"
)

// Position-size multipliers per tier.
const (
	MultiplierApproved   = 1.5
	MultiplierActive     = 1.0
	MultiplierCaution    = 0.5
	MultiplierUnverified = 0.25
)

// Verdict is the outcome of a consensus check.
type Verdict struct {
	Tier           TrustTier `json:"trust_tier"`
	ConsensusScore float64   `json:"consensus_score"` // 0-10
	Multiplier     float64   `json:"position_multiplier"`
	Rationale      string    `json:"rationale"`

	Agreement   float64 `json:"agreement"`    // (responded - outliers) / responded
	MedianPrice float64 `json:"median_price"`
	Responded   int     `json:"responded"`
	Outliers    int     `json:"outliers"`
}

// Config holds shield thresholds.
type Config struct {
	Timeout              time.Duration `json:"timeout"`                // overall budget for all source queries
	ManipulationPct      float64       `json:"manipulation_pct"`       // deviation from median marking an outlier
	MinSources           int           `json:"min_sources"`            // below this, degrade to Unverified
	ApprovedAgreement    float64       `json:"approved_agreement"`
	ApprovedScore        float64       `json:"approved_score"`
	ActiveAgreement      float64       `json:"active_agreement"`
	ActiveScore          float64       `json:"active_score"`
	CautionAgreement     float64       `json:"caution_agreement"`
	CautionScore         float64       `json:"caution_score"`
}

// DefaultConfig returns the consensus defaults from the shield design.
func DefaultConfig() Config {
	return Config{
		Timeout:           2 * time.Second,
		ManipulationPct:   0.5,
		MinSources:        2,
		ApprovedAgreement: 0.9,
		ApprovedScore:     8,
		ActiveAgreement:   0.75,
		ActiveScore:       6,
		CautionAgreement:  0.5,
		CautionScore:      4,
	}
}

// Shield runs the consensus check against a fixed set of price sources.
type Shield struct {
	cfg     Config
	sources []PriceSource
	logger  zerolog.Logger
}

// New creates a shield. At least three sources are expected for a
// meaningful consensus; fewer simply degrades every verdict.
func New(cfg Config, sources []PriceSource, logger zerolog.Logger) *Shield {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ManipulationPct <= 0 {
		cfg.ManipulationPct = DefaultConfig().ManipulationPct
	}
	if cfg.MinSources <= 0 {
		cfg.MinSources = DefaultConfig().MinSources
	}
	return &Shield{
		cfg:     cfg,
		sources: sources,
		logger:  logger.With().Str("component", "shield").Logger(),
	}
}

// Check queries every source concurrently under the configured timeout and
// classifies the signal. Partial responses are used as-is; fewer than
// MinSources responses degrades to Unverified rather than failing.
func (s *Shield) Check(ctx context.Context, sig confluence.ScoredSignal) Verdict {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		prices []float64
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range s.sources {
		src := src
		g.Go(func() error {
			price, err := src.Quote(gctx, sig.Instrument)
			if err != nil {
				s.logger.Debug().Err(err).Str("source", src.Name()).Msg("source query failed")
				return nil // a dead source is degradation, not failure
			}
			mu.Lock()
			prices = append(prices, price)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(prices) < s.cfg.MinSources {
		return Verdict{
			Tier:       TierUnverified,
			Multiplier: MultiplierUnverified,
			Responded:  len(prices),
			Rationale:  fmt.Sprintf("only %d/%d sources responded within %s", len(prices), len(s.sources), s.cfg.Timeout),
		}
	}

	median := medianOf(prices)
	outliers := 0
	for _, p := range prices {
		dev := (p - median) / median * 100
		if dev < 0 {
			dev = -dev
		}
		if dev > s.cfg.ManipulationPct {
			outliers++
		}
	}

	agreement := float64(len(prices)-outliers) / float64(len(prices))
	score := sig.Confidence / 10 * agreement

	verdict := Verdict{
		ConsensusScore: score,
		Agreement:      agreement,
		MedianPrice:    median,
		Responded:      len(prices),
		Outliers:       outliers,
	}

	switch {
	case agreement >= s.cfg.ApprovedAgreement && score >= s.cfg.ApprovedScore:
		verdict.Tier = TierApproved
		verdict.Multiplier = MultiplierApproved
	case agreement >= s.cfg.ActiveAgreement && score >= s.cfg.ActiveScore:
		verdict.Tier = TierActive
		verdict.Multiplier = MultiplierActive
	case agreement >= s.cfg.CautionAgreement && score >= s.cfg.CautionScore:
		verdict.Tier = TierCaution
		verdict.Multiplier = MultiplierCaution
	default:
		verdict.Tier = TierUnverified
		verdict.Multiplier = MultiplierUnverified
	}

	verdict.Rationale = fmt.Sprintf("%d/%d sources agree (%.0f%%), %d outlier(s) beyond %.2f%% of median %.5f",
		len(prices)-outliers, len(prices), agreement*100, outliers, s.cfg.ManipulationPct, median)

	s.logger.Info().
		Str("instrument", sig.Instrument).
		Str("tier", string(verdict.Tier)).
		Float64("agreement", agreement).
		Float64("multiplier", verdict.Multiplier).
		Msg("consensus verdict")

	return verdict
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
