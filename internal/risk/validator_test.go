package risk

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/shield"
)

var testSpec = market.InstrumentSpec{
	Symbol:      "EURUSD",
	PipSize:     0.0001,
	PipValue:    10,
	LotStep:     0.01,
	MinLot:      0.01,
	MaxLot:      100,
	MinStopPips: 5,
	Tradable:    true,
}

func testSignal(entry, stop float64) confluence.ScoredSignal {
	return confluence.ScoredSignal{
		CandidateSignal: patterns.CandidateSignal{
			Instrument:  "EURUSD",
			Direction:   patterns.Buy,
			Kind:        patterns.LiquiditySweep,
			Timeframe:   market.TF5m,
			Entry:       entry,
			StopLoss:    stop,
			TakeProfits: []float64{entry + 0.0010},
			DetectedAt:  time.Now().UTC(),
		},
		Confidence: 80,
	}
}

func verdict(tier shield.TrustTier, multiplier float64) shield.Verdict {
	return shield.Verdict{Tier: tier, Multiplier: multiplier}
}

func snapshot(balance, equity float64) account.Snapshot {
	return account.Snapshot{Balance: balance, Equity: equity, UpdatedAt: time.Now()}
}

func newValidator(cfg Config) *Validator {
	return NewValidator(cfg, NewMemoryCounter(time.UTC), NewMemoryDedup(cfg.DedupWindow), zerolog.Nop())
}

func TestValidateSizesFromRiskBudget(t *testing.T) {
	v := newValidator(DefaultConfig())

	// 10k balance, 1% risk, 5-pip stop at $10/pip: $100 budget over a $50
	// per-unit stop gives exactly 2.0 units.
	sig := testSignal(1.1000, 1.0995)
	instr, err := v.Validate(context.Background(), sig, verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if instr.Volume != 2.0 {
		t.Errorf("Volume = %v, want 2.0", instr.Volume)
	}
	if instr.ID == "" {
		t.Error("instruction has no fingerprint id")
	}
	if !instr.ExpiresAt.After(instr.IssuedAt) {
		t.Errorf("ExpiresAt %v not after IssuedAt %v", instr.ExpiresAt, instr.IssuedAt)
	}
}

func TestValidateBoostNeverExceedsRiskBound(t *testing.T) {
	cfg := DefaultConfig()
	v := newValidator(cfg)

	// An Approved 1.5x boost is capped by the hard per-trade bound: the
	// size must match the un-boosted budget.
	sig := testSignal(1.1000, 1.0995)
	instr, err := v.Validate(context.Background(), sig, verdict(shield.TierApproved, 1.5), snapshot(10000, 10000), testSpec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if instr.Volume != 2.0 {
		t.Errorf("boosted Volume = %v, want 2.0 (bound wins)", instr.Volume)
	}

	riskPct := instr.Volume * 5 * testSpec.PipValue / 10000 * 100
	if riskPct > cfg.MaxRiskPercent+1e-9 {
		t.Errorf("risk = %.3f%%, exceeds %.3f%%", riskPct, cfg.MaxRiskPercent)
	}
}

func TestRiskBoundHoldsForRandomizedInputs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 1 << 20
	v := newValidator(cfg)
	rng := rand.New(rand.NewSource(42))
	multipliers := []float64{shield.MultiplierUnverified, shield.MultiplierCaution, shield.MultiplierActive, shield.MultiplierApproved}

	// Sizing alone: for any balance, stop distance and tier multiplier the
	// monetary risk of the returned size stays within the per-trade bound.
	for i := 0; i < 1000; i++ {
		balance := 500 + rng.Float64()*99500
		stopPips := testSpec.MinStopPips + rng.Float64()*55
		multiplier := multipliers[rng.Intn(len(multipliers))]

		size, err := v.size(balance, stopPips, multiplier, testSpec)
		if errors.Is(err, ErrBelowMinLot) {
			continue
		}
		if err != nil {
			t.Fatalf("size(%v, %v, %v): %v", balance, stopPips, multiplier, err)
		}

		risk := size * stopPips * testSpec.PipValue
		if bound := balance * cfg.MaxRiskPercent / 100; risk > bound+1e-6 {
			t.Fatalf("size(%v, %v pips, %vx) risks $%.4f, bound $%.4f", balance, stopPips, multiplier, risk, bound)
		}
	}

	// Full validation path: accepted instructions never exceed the bound
	// either, whatever the verdict.
	tiers := []shield.Verdict{
		verdict(shield.TierUnverified, 0.25),
		verdict(shield.TierCaution, 0.5),
		verdict(shield.TierActive, 1.0),
		verdict(shield.TierApproved, 1.5),
	}
	for i := 0; i < 200; i++ {
		balance := 1000 + rng.Float64()*99000
		stopPips := testSpec.MinStopPips + float64(rng.Intn(50))
		sig := testSignal(1.1000, 1.1000-stopPips*testSpec.PipSize)

		instr, err := v.Validate(context.Background(), sig, tiers[rng.Intn(len(tiers))], snapshot(balance, balance), testSpec)
		if errors.Is(err, ErrBelowMinLot) || errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			t.Fatalf("Validate(balance %v, %v pips): %v", balance, stopPips, err)
		}

		riskPct := instr.Volume * stopPips * testSpec.PipValue / balance * 100
		if riskPct > cfg.MaxRiskPercent+1e-9 {
			t.Fatalf("accepted instruction risks %.4f%% of balance, max %.4f%%", riskPct, cfg.MaxRiskPercent)
		}
	}
}

func TestValidateCautionHalvesSize(t *testing.T) {
	v := newValidator(DefaultConfig())

	sig := testSignal(1.1000, 1.0995)
	instr, err := v.Validate(context.Background(), sig, verdict(shield.TierCaution, 0.5), snapshot(10000, 10000), testSpec)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if instr.Volume != 1.0 {
		t.Errorf("Caution Volume = %v, want 1.0", instr.Volume)
	}
}

func TestValidateDailyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 1
	v := newValidator(cfg)
	ctx := context.Background()

	if _, err := v.Validate(ctx, testSignal(1.1000, 1.0995), verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec); err != nil {
		t.Fatalf("first instruction: %v", err)
	}

	_, err := v.Validate(ctx, testSignal(1.2000, 1.1995), verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec)
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("err = %v, want ErrDailyLimitReached", err)
	}
}

func TestValidateDuplicateWithinWindow(t *testing.T) {
	v := newValidator(DefaultConfig())
	ctx := context.Background()
	sig := testSignal(1.1000, 1.0995)

	if _, err := v.Validate(ctx, sig, verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec); err != nil {
		t.Fatalf("first instruction: %v", err)
	}

	_, err := v.Validate(ctx, sig, verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		sig  confluence.ScoredSignal
		snap account.Snapshot
		spec market.InstrumentSpec
		want error
	}{
		{
			name: "no account data",
			sig:  testSignal(1.1000, 1.0995),
			snap: account.Snapshot{},
			spec: testSpec,
			want: ErrNoAccountData,
		},
		{
			name: "drawdown halt",
			sig:  testSignal(1.1000, 1.0995),
			snap: snapshot(10000, 9400),
			spec: testSpec,
			want: ErrDrawdownExceeded,
		},
		{
			name: "stop below broker minimum",
			sig:  testSignal(1.1000, 1.0998),
			snap: snapshot(10000, 10000),
			spec: testSpec,
			want: ErrStopTooTight,
		},
		{
			name: "size below min lot",
			sig:  testSignal(1.1000, 1.0950),
			snap: snapshot(100, 100),
			spec: testSpec,
			want: ErrBelowMinLot,
		},
		{
			name: "instrument not tradable",
			sig:  testSignal(1.1000, 1.0995),
			snap: snapshot(10000, 10000),
			spec: func() market.InstrumentSpec {
				s := testSpec
				s.Tradable = false
				return s
			}(),
			want: ErrNotTradable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newValidator(DefaultConfig())
			_, err := v.Validate(context.Background(), tc.sig, verdict(shield.TierActive, 1.0), tc.snap, tc.spec)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateInvalidDirection(t *testing.T) {
	v := newValidator(DefaultConfig())
	sig := testSignal(1.1000, 1.0995)
	sig.Direction = "HOLD"

	_, err := v.Validate(context.Background(), sig, verdict(shield.TierActive, 1.0), snapshot(10000, 10000), testSpec)
	if !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("err = %v, want ErrInvalidDirection", err)
	}
}

func TestSizeFloorsToLotStep(t *testing.T) {
	v := newValidator(DefaultConfig())

	// Budget $100, 7-pip stop: raw 1.42857 floors to 1.42.
	size, err := v.size(10000, 7, 1.0, testSpec)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1.42 {
		t.Errorf("size = %v, want 1.42", size)
	}
}

func TestSizeClampsToMaxLot(t *testing.T) {
	v := newValidator(DefaultConfig())

	spec := testSpec
	spec.MaxLot = 0.5
	size, err := v.size(10000, 5, 1.0, spec)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0.5 {
		t.Errorf("size = %v, want clamp to 0.5", size)
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	sig := testSignal(1.1000, 1.0995).CandidateSignal

	a := Fingerprint(sig, 2.0)
	b := Fingerprint(sig, 2.0)
	if a != b {
		t.Fatalf("identical inputs produced %s and %s", a, b)
	}

	if c := Fingerprint(sig, 2.01); c == a {
		t.Error("different size produced the same fingerprint")
	}

	other := sig
	other.Direction = patterns.Sell
	if d := Fingerprint(other, 2.0); d == a {
		t.Error("different direction produced the same fingerprint")
	}
}

func TestMemoryCounterDayRollover(t *testing.T) {
	c := NewMemoryCounter(time.UTC)
	now := time.Date(2026, 1, 5, 23, 50, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	c.Increment(ctx)
	c.Increment(ctx)
	if n, _ := c.Count(ctx); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}

	now = now.Add(20 * time.Minute) // crosses midnight UTC
	if n, _ := c.Count(ctx); n != 0 {
		t.Fatalf("Count after rollover = %d, want 0", n)
	}
}

func TestMemoryDedupWindowExpires(t *testing.T) {
	d := NewMemoryDedup(5 * time.Minute)
	now := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	ctx := context.Background()
	if fresh, _ := d.MarkIfNew(ctx, "fp1"); !fresh {
		t.Fatal("first mark not fresh")
	}
	if fresh, _ := d.MarkIfNew(ctx, "fp1"); fresh {
		t.Fatal("duplicate within window marked fresh")
	}

	now = now.Add(6 * time.Minute)
	if fresh, _ := d.MarkIfNew(ctx, "fp1"); !fresh {
		t.Fatal("mark after window expiry not fresh")
	}
}
