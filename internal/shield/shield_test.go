package shield

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/patterns"
)

type stubSource struct {
	name  string
	price float64
	err   error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Quote(ctx context.Context, instrument string) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func scored(confidence float64) confluence.ScoredSignal {
	return confluence.ScoredSignal{
		CandidateSignal: patterns.CandidateSignal{
			Instrument: "EURUSD",
			Direction:  patterns.Buy,
			Kind:       patterns.LiquiditySweep,
			Entry:      1.0000,
		},
		Confidence: confidence,
	}
}

func newShield(t *testing.T, sources ...PriceSource) *Shield {
	t.Helper()
	return New(DefaultConfig(), sources, zerolog.Nop())
}

func TestCheckApprovedOnFullAgreement(t *testing.T) {
	s := newShield(t,
		stubSource{name: "a", price: 1.0000},
		stubSource{name: "b", price: 1.0001},
		stubSource{name: "c", price: 0.9999},
	)

	v := s.Check(context.Background(), scored(90))
	if v.Tier != TierApproved {
		t.Fatalf("Tier = %s, want %s (%s)", v.Tier, TierApproved, v.Rationale)
	}
	if v.Multiplier != MultiplierApproved {
		t.Errorf("Multiplier = %v, want %v", v.Multiplier, MultiplierApproved)
	}
	if v.Agreement != 1.0 {
		t.Errorf("Agreement = %v, want 1.0", v.Agreement)
	}
}

func TestCheckCautionOnOneOutlier(t *testing.T) {
	// Deviations from the 1.000 median: 0.1%, 0%, 2.0%. The third source
	// is an outlier, agreement 2/3.
	s := newShield(t,
		stubSource{name: "a", price: 0.9990},
		stubSource{name: "b", price: 1.0000},
		stubSource{name: "c", price: 1.0200},
	)

	v := s.Check(context.Background(), scored(75))
	if v.Tier != TierCaution {
		t.Fatalf("Tier = %s, want %s (%s)", v.Tier, TierCaution, v.Rationale)
	}
	if v.Multiplier != MultiplierCaution {
		t.Errorf("Multiplier = %v, want %v", v.Multiplier, MultiplierCaution)
	}
	if v.Outliers != 1 {
		t.Errorf("Outliers = %d, want 1", v.Outliers)
	}
	if v.Agreement < 0.66 || v.Agreement > 0.67 {
		t.Errorf("Agreement = %v, want 2/3", v.Agreement)
	}
}

func TestCheckUnverifiedBelowMinSources(t *testing.T) {
	s := newShield(t,
		stubSource{name: "a", price: 1.0000},
		stubSource{name: "b", err: errors.New("timeout")},
		stubSource{name: "c", err: errors.New("timeout")},
	)

	v := s.Check(context.Background(), scored(95))
	if v.Tier != TierUnverified {
		t.Fatalf("Tier = %s, want %s", v.Tier, TierUnverified)
	}
	if v.Multiplier != MultiplierUnverified {
		t.Errorf("Multiplier = %v, want %v", v.Multiplier, MultiplierUnverified)
	}
	if v.Responded != 1 {
		t.Errorf("Responded = %d, want 1", v.Responded)
	}
}

func TestCheckLowConfidenceNeverApproved(t *testing.T) {
	// Perfect agreement cannot lift a weak signal into a boosting tier:
	// the consensus score scales with confidence.
	s := newShield(t,
		stubSource{name: "a", price: 1.0000},
		stubSource{name: "b", price: 1.0000},
		stubSource{name: "c", price: 1.0000},
	)

	v := s.Check(context.Background(), scored(50))
	if v.Tier == TierApproved {
		t.Fatalf("confidence 50 reached %s", TierApproved)
	}
	if v.ConsensusScore != 5.0 {
		t.Errorf("ConsensusScore = %v, want 5.0", v.ConsensusScore)
	}
}

func TestCheckMultiplierMonotoneInAgreement(t *testing.T) {
	// Nine sources, 0..4 of them quoting 2% off the median. Sweeping the
	// outlier count from worst to best, the multiplier for a fixed signal
	// must never decrease as agreement rises.
	sig := scored(90)
	lastAgreement := -1.0
	lastMultiplier := 0.0

	for outliers := 4; outliers >= 0; outliers-- {
		var sources []PriceSource
		for i := 0; i < 9-outliers; i++ {
			sources = append(sources, stubSource{name: "good", price: 1.0000})
		}
		for i := 0; i < outliers; i++ {
			sources = append(sources, stubSource{name: "bad", price: 1.0200})
		}

		v := newShield(t, sources...).Check(context.Background(), sig)
		if v.Agreement <= lastAgreement {
			t.Fatalf("agreement did not rise: %v after %v", v.Agreement, lastAgreement)
		}
		if v.Multiplier < lastMultiplier {
			t.Fatalf("multiplier dropped from %v to %v as agreement rose to %v (%s)",
				lastMultiplier, v.Multiplier, v.Agreement, v.Rationale)
		}
		lastAgreement = v.Agreement
		lastMultiplier = v.Multiplier
	}

	if lastMultiplier != MultiplierApproved {
		t.Errorf("full agreement multiplier = %v, want %v", lastMultiplier, MultiplierApproved)
	}
}

func TestMedianOf(t *testing.T) {
	if got := medianOf([]float64{3, 1, 2}); got != 2 {
		t.Errorf("odd median = %v, want 2", got)
	}
	if got := medianOf([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("even median = %v, want 2.5", got)
	}
}
