package patterns

import (
	"testing"
	"time"

	"smc-trading-bot/internal/market"
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

func flatCandle(open, high, low, close, volume float64) market.Candle {
	return market.Candle{
		Instrument: "EURUSD",
		Timeframe:  market.TF5m,
		Open:       open,
		High:       high,
		Low:        low,
		Close:      close,
		Volume:     volume,
	}
}

func TestDetectSkipsShallowBuffer(t *testing.T) {
	d := NewDetector(DefaultConfig(), testSpec)
	candles := []market.Candle{
		flatCandle(1.1, 1.101, 1.099, 1.1, 100),
		flatCandle(1.1, 1.101, 1.099, 1.1, 100),
	}
	if got := d.Detect(candles, time.Now()); len(got) != 0 {
		t.Fatalf("Detect on shallow buffer = %d signals, want 0", len(got))
	}
}

func TestDetectLiquiditySweepOfHighs(t *testing.T) {
	cfg := Config{
		SweepLookback:     10,
		SweepReversalBars: 2,
		VolumeSurgeRatio:  1.2,
	}
	d := NewDetector(cfg, testSpec)

	// 11 quiet candles defining the 1.1000 liquidity level, then a
	// high-volume excursion above it and a bearish close back inside.
	var candles []market.Candle
	for i := 0; i < 11; i++ {
		candles = append(candles, flatCandle(1.0995, 1.1000, 1.0990, 1.0995, 100))
	}
	candles = append(candles, flatCandle(1.0999, 1.1006, 1.0998, 1.1001, 250)) // sweep bar
	candles = append(candles, flatCandle(1.0999, 1.0999, 1.0992, 1.0993, 120)) // reversal bar

	now := time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)
	signals := d.Detect(candles, now)
	if len(signals) != 1 {
		t.Fatalf("Detect = %d signals, want 1", len(signals))
	}

	sig := signals[0]
	if sig.Kind != LiquiditySweep {
		t.Errorf("Kind = %s, want %s", sig.Kind, LiquiditySweep)
	}
	if sig.Direction != Sell {
		t.Errorf("Direction = %s, want %s", sig.Direction, Sell)
	}
	if sig.Entry != 1.0993 {
		t.Errorf("Entry = %v, want close of reversal bar", sig.Entry)
	}
	if sig.StopLoss <= 1.1006 {
		t.Errorf("StopLoss = %v, want beyond the sweep extreme", sig.StopLoss)
	}
	if len(sig.TakeProfits) != 3 {
		t.Fatalf("TakeProfits = %v, want 3 levels", sig.TakeProfits)
	}
	if !(sig.TakeProfits[0] > sig.TakeProfits[1] && sig.TakeProfits[1] > sig.TakeProfits[2]) {
		t.Errorf("sell targets not descending: %v", sig.TakeProfits)
	}
	if ratio := sig.Features["volume_ratio"]; ratio < 2.0 {
		t.Errorf("volume_ratio = %v, want >= 2.0", ratio)
	}
}

func TestDetectNoSweepWithoutVolumeSurge(t *testing.T) {
	cfg := Config{
		SweepLookback:     10,
		SweepReversalBars: 2,
		VolumeSurgeRatio:  1.2,
	}
	d := NewDetector(cfg, testSpec)

	var candles []market.Candle
	for i := 0; i < 11; i++ {
		candles = append(candles, flatCandle(1.0995, 1.1000, 1.0990, 1.0995, 100))
	}
	// Excursion on average volume: not a sweep.
	candles = append(candles, flatCandle(1.0999, 1.1006, 1.0998, 1.1001, 100))
	candles = append(candles, flatCandle(1.0999, 1.0999, 1.0992, 1.0993, 120))

	if got := d.Detect(candles, time.Now()); len(got) != 0 {
		t.Fatalf("Detect = %d signals, want 0 without volume surge", len(got))
	}
}

func TestDetectFairValueGap(t *testing.T) {
	d := NewDetector(DefaultConfig(), testSpec)

	candles := []market.Candle{
		flatCandle(1.0995, 1.1000, 1.0990, 1.0998, 100),
		flatCandle(1.1000, 1.1016, 1.0999, 1.1015, 300), // impulsive middle
		flatCandle(1.1014, 1.1018, 1.1010, 1.1016, 150), // leaves a 10-pip gap
		flatCandle(1.1010, 1.1012, 1.1005, 1.1006, 80),  // pullback toward the midpoint
	}

	signals := d.Detect(candles, time.Now())
	if len(signals) != 1 {
		t.Fatalf("Detect = %d signals, want 1", len(signals))
	}

	sig := signals[0]
	if sig.Kind != FairValueGap {
		t.Errorf("Kind = %s, want %s", sig.Kind, FairValueGap)
	}
	if sig.Direction != Buy {
		t.Errorf("Direction = %s, want %s", sig.Direction, Buy)
	}
	if sig.StopLoss >= 1.1000 {
		t.Errorf("StopLoss = %v, want beyond the far gap edge", sig.StopLoss)
	}
	if gap := sig.Features["gap_pips"]; gap != 10 {
		t.Errorf("gap_pips = %v, want 10", gap)
	}
}

func TestDetectTieBreakKeepsHighestBaseScore(t *testing.T) {
	d := NewDetector(DefaultConfig(), testSpec)

	candidates := []CandidateSignal{
		{Direction: Sell, Kind: FairValueGap, BaseScore: BaseScoreFairValueGap},
		{Direction: Sell, Kind: LiquiditySweep, BaseScore: BaseScoreLiquiditySweep},
		{Direction: Buy, Kind: OrderBlock, BaseScore: BaseScoreOrderBlock},
	}

	// Drive the tie-break through the same filter Detect uses.
	best := make(map[Direction]CandidateSignal)
	for _, c := range candidates {
		if c.BaseScore < d.cfg.MinBaseScore {
			continue
		}
		if cur, ok := best[c.Direction]; !ok || c.BaseScore > cur.BaseScore {
			best[c.Direction] = c
		}
	}

	if best[Sell].Kind != LiquiditySweep {
		t.Errorf("sell winner = %s, want %s", best[Sell].Kind, LiquiditySweep)
	}
	if best[Buy].Kind != OrderBlock {
		t.Errorf("buy winner = %s, want %s", best[Buy].Kind, OrderBlock)
	}
}

func TestRiskMultipleTargets(t *testing.T) {
	targets := riskMultipleTargets(1.1000, 1.0990, Buy)
	want := []float64{1.1010, 1.1020, 1.1030}
	for i := range want {
		if diff := targets[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("buy target %d = %v, want %v", i+1, targets[i], want[i])
		}
	}

	if got := riskMultipleTargets(1.1000, 1.1000, Buy); got != nil {
		t.Errorf("zero-risk targets = %v, want nil", got)
	}
}
