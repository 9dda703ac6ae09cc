package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/bridge"
	"smc-trading-bot/internal/confluence"
	"smc-trading-bot/internal/market"
	"smc-trading-bot/internal/patterns"
	"smc-trading-bot/internal/risk"
	"smc-trading-bot/internal/shield"
)

type nopTransport struct{}

func (nopTransport) Send(bridge.Envelope) error          { return nil }
func (nopTransport) Receive() ([]bridge.Envelope, error) { return nil, nil }
func (nopTransport) Close() error                        { return nil }

// meetSource answers only once two quote calls are in flight at the same
// time, so it distinguishes concurrent instrument workers from serial ones.
type meetSource struct {
	arrived int32
	both    chan struct{}
	overlap int32
}

func (s *meetSource) Name() string { return "meet" }

func (s *meetSource) Quote(ctx context.Context, instrument string) (float64, error) {
	if atomic.AddInt32(&s.arrived, 1) == 2 {
		close(s.both)
	}
	select {
	case <-s.both:
		atomic.StoreInt32(&s.overlap, 1)
		return 1.1, nil
	case <-time.After(500 * time.Millisecond):
		return 0, errors.New("no concurrent caller")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func sweepFixture(instrument string) []market.Candle {
	candle := func(open, high, low, close, volume float64) market.Candle {
		return market.Candle{
			Instrument: instrument,
			Timeframe:  market.TF5m,
			Open:       open,
			High:       high,
			Low:        low,
			Close:      close,
			Volume:     volume,
		}
	}

	var candles []market.Candle
	for i := 0; i < 11; i++ {
		candles = append(candles, candle(1.0995, 1.1000, 1.0990, 1.0995, 100))
	}
	candles = append(candles, candle(1.0999, 1.1006, 1.0998, 1.1001, 250))
	candles = append(candles, candle(1.0999, 1.0999, 1.0992, 1.0993, 120))
	return candles
}

func TestCycleRunsInstrumentsConcurrently(t *testing.T) {
	instruments := []string{"EURUSD", "GBPUSD"}
	patternCfg := patterns.Config{
		SweepLookback:     10,
		SweepReversalBars: 2,
		VolumeSurgeRatio:  1.2,
	}

	history := market.NewHistory(market.DefaultBufferSize)
	specs := make(map[string]market.InstrumentSpec)
	detectors := make(map[string]*patterns.Detector)
	scorers := make(map[string]*confluence.Scorer)
	for _, instrument := range instruments {
		spec := market.DefaultInstrumentSpec(instrument)
		spec.Tradable = true
		specs[instrument] = spec
		detectors[instrument] = patterns.NewDetector(patternCfg, spec)
		scorers[instrument] = confluence.NewScorer(confluence.Config{ScoreFloor: 1}, spec, history)
		for _, c := range sweepFixture(instrument) {
			history.Push(c)
		}
	}

	source := &meetSource{both: make(chan struct{})}
	accounts := account.NewState()
	accounts.Update(account.Snapshot{Balance: 10000, Equity: 10000, UpdatedAt: time.Now()})

	eng := New(DefaultConfig(), Deps{
		Specs:     specs,
		History:   history,
		Detectors: detectors,
		Scorers:   scorers,
		Shield:    shield.New(shield.DefaultConfig(), []shield.PriceSource{source}, zerolog.Nop()),
		Validator: risk.NewValidator(risk.DefaultConfig(), risk.NewMemoryCounter(time.UTC), risk.NewMemoryDedup(time.Minute), zerolog.Nop()),
		Accounts:  accounts,
		Client:    bridge.NewClient(nopTransport{}, 10*time.Millisecond, zerolog.Nop()),
	}, zerolog.Nop())
	eng.view.UpdateStatus(bridge.StatusMessage{})

	eng.cycle(context.Background(), time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC))

	if atomic.LoadInt32(&source.arrived) != 2 {
		t.Fatalf("shield queried %d times, want once per instrument", source.arrived)
	}
	if atomic.LoadInt32(&source.overlap) != 1 {
		t.Fatal("instrument workers ran serially: the two shield queries never overlapped")
	}
}
