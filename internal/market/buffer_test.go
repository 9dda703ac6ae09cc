package market

import (
	"testing"
	"time"
)

func tick(instrument string, bid, ask, volume float64, ts time.Time) Tick {
	return Tick{Instrument: instrument, Bid: bid, Ask: ask, Spread: ask - bid, Volume: volume, Timestamp: ts}
}

func TestCandleBufferEvictsOldest(t *testing.T) {
	buf := NewCandleBuffer(3)
	for i := 0; i < 4; i++ {
		buf.Append(Candle{Open: float64(i)})
	}

	if buf.Len() != 3 {
		t.Fatalf("Len = %d, want 3", buf.Len())
	}
	candles := buf.Candles()
	if candles[0].Open != 1 || candles[2].Open != 3 {
		t.Fatalf("eviction kept wrong candles: first=%v last=%v", candles[0].Open, candles[2].Open)
	}
}

func TestAggregatorFoldsTicksIntoCandles(t *testing.T) {
	history := NewHistory(50)
	agg := NewAggregator(history, []Timeframe{TF1m})

	base := time.Date(2026, 1, 5, 13, 0, 5, 0, time.UTC)
	agg.Ingest(tick("EURUSD", 1.0999, 1.1001, 10, base))
	agg.Ingest(tick("EURUSD", 1.1009, 1.1011, 20, base.Add(25*time.Second)))
	// Next minute bucket closes the first candle.
	agg.Ingest(tick("EURUSD", 1.1004, 1.1006, 5, base.Add(65*time.Second)))

	candles := history.Candles("EURUSD", TF1m)
	if len(candles) != 1 {
		t.Fatalf("completed candles = %d, want 1", len(candles))
	}

	c := candles[0]
	if c.Open != 1.1000 {
		t.Errorf("Open = %v, want 1.1000", c.Open)
	}
	if c.High != 1.1010 {
		t.Errorf("High = %v, want 1.1010", c.High)
	}
	if c.Low != 1.1000 {
		t.Errorf("Low = %v, want 1.1000", c.Low)
	}
	if c.Close != 1.1010 {
		t.Errorf("Close = %v, want 1.1010", c.Close)
	}
	if c.Volume != 30 {
		t.Errorf("Volume = %v, want 30", c.Volume)
	}
	if !c.OpenTime.Equal(time.Date(2026, 1, 5, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("OpenTime = %v, not truncated to the minute", c.OpenTime)
	}
}

func TestAggregatorFlushBefore(t *testing.T) {
	history := NewHistory(50)
	agg := NewAggregator(history, []Timeframe{TF1m})

	base := time.Date(2026, 1, 5, 13, 0, 5, 0, time.UTC)
	agg.Ingest(tick("EURUSD", 1.0999, 1.1001, 10, base))

	// Bucket not over yet: nothing published.
	agg.FlushBefore(base.Add(30 * time.Second))
	if got := history.Depth("EURUSD", TF1m); got != 0 {
		t.Fatalf("Depth after early flush = %d, want 0", got)
	}

	agg.FlushBefore(base.Add(2 * time.Minute))
	if got := history.Depth("EURUSD", TF1m); got != 1 {
		t.Fatalf("Depth after flush = %d, want 1", got)
	}
}

func TestHistoryLastTick(t *testing.T) {
	history := NewHistory(50)
	agg := NewAggregator(history, []Timeframe{TF1m})

	ts := time.Date(2026, 1, 5, 13, 0, 5, 0, time.UTC)
	agg.Ingest(tick("GBPUSD", 1.2500, 1.2502, 1, ts))

	last, ok := history.LastTick("GBPUSD")
	if !ok {
		t.Fatal("LastTick not recorded")
	}
	if last.Bid != 1.2500 || last.Ask != 1.2502 {
		t.Errorf("LastTick = %+v", last)
	}
	if _, ok := history.LastTick("USDJPY"); ok {
		t.Error("LastTick returned data for unknown instrument")
	}
}

func TestTimeframeHigher(t *testing.T) {
	higher := TF5m.Higher()
	want := []Timeframe{TF15m, TF1h, TF4h}
	if len(higher) != len(want) {
		t.Fatalf("Higher(5m) = %v", higher)
	}
	for i, tf := range want {
		if higher[i] != tf {
			t.Errorf("Higher(5m)[%d] = %v, want %v", i, higher[i], tf)
		}
	}
	if got := TF4h.Higher(); len(got) != 0 {
		t.Errorf("Higher(4h) = %v, want empty", got)
	}
}
