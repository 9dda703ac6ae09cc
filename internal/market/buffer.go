package market

import (
	"sync"
	"time"
)

// DefaultBufferSize is the number of candles kept per instrument per timeframe.
// Oldest entries are evicted on overflow.
const DefaultBufferSize = 200

// CandleBuffer is a capped rolling window of candles for one
// instrument/timeframe pair.
type CandleBuffer struct {
	candles []Candle
	cap     int
}

// NewCandleBuffer creates a buffer with the given capacity.
func NewCandleBuffer(capacity int) *CandleBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &CandleBuffer{
		candles: make([]Candle, 0, capacity),
		cap:     capacity,
	}
}

// Append adds a candle, evicting the oldest entry when full.
func (b *CandleBuffer) Append(c Candle) {
	if len(b.candles) >= b.cap {
		copy(b.candles, b.candles[1:])
		b.candles[len(b.candles)-1] = c
		return
	}
	b.candles = append(b.candles, c)
}

// Len returns the number of buffered candles.
func (b *CandleBuffer) Len() int {
	return len(b.candles)
}

// Candles returns a copy of the buffered candles, oldest first.
func (b *CandleBuffer) Candles() []Candle {
	out := make([]Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

// Last returns the most recent n candles, oldest first.
// Returns fewer than n if the buffer is shallower.
func (b *CandleBuffer) Last(n int) []Candle {
	if n > len(b.candles) {
		n = len(b.candles)
	}
	out := make([]Candle, n)
	copy(out, b.candles[len(b.candles)-n:])
	return out
}

// History holds rolling multi-timeframe candle buffers per instrument.
// The aggregator is the single writer; pipeline workers read snapshots.
type History struct {
	mu         sync.RWMutex
	bufferSize int
	buffers    map[string]map[Timeframe]*CandleBuffer
	lastTick   map[string]Tick
}

// NewHistory creates an empty history with the given per-buffer capacity.
func NewHistory(bufferSize int) *History {
	return &History{
		bufferSize: bufferSize,
		buffers:    make(map[string]map[Timeframe]*CandleBuffer),
		lastTick:   make(map[string]Tick),
	}
}

// Push appends a completed candle to the matching buffer.
func (h *History) Push(c Candle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byTF, ok := h.buffers[c.Instrument]
	if !ok {
		byTF = make(map[Timeframe]*CandleBuffer)
		h.buffers[c.Instrument] = byTF
	}
	buf, ok := byTF[c.Timeframe]
	if !ok {
		buf = NewCandleBuffer(h.bufferSize)
		byTF[c.Timeframe] = buf
	}
	buf.Append(c)
}

// SetLastTick records the most recent tick for an instrument.
func (h *History) SetLastTick(t Tick) {
	h.mu.Lock()
	h.lastTick[t.Instrument] = t
	h.mu.Unlock()
}

// LastTick returns the most recent tick for an instrument.
func (h *History) LastTick(instrument string) (Tick, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.lastTick[instrument]
	return t, ok
}

// Candles returns a snapshot of the buffer for instrument/timeframe,
// oldest first. Returns nil if no candles exist yet.
func (h *History) Candles(instrument string, tf Timeframe) []Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	byTF, ok := h.buffers[instrument]
	if !ok {
		return nil
	}
	buf, ok := byTF[tf]
	if !ok {
		return nil
	}
	return buf.Candles()
}

// Depth returns the number of buffered candles for instrument/timeframe.
func (h *History) Depth(instrument string, tf Timeframe) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if byTF, ok := h.buffers[instrument]; ok {
		if buf, ok := byTF[tf]; ok {
			return buf.Len()
		}
	}
	return 0
}

// Instruments returns the instruments with buffered data.
func (h *History) Instruments() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.buffers))
	for inst := range h.buffers {
		out = append(out, inst)
	}
	return out
}

// Aggregator folds ticks into candles across all configured timeframes
// and publishes completed candles into a History.
type Aggregator struct {
	history    *History
	timeframes []Timeframe

	// open candle per instrument per timeframe
	working map[string]map[Timeframe]*workingCandle
}

type workingCandle struct {
	candle      Candle
	tickCount   int
	spreadTotal float64
}

// NewAggregator creates an aggregator writing into history.
func NewAggregator(history *History, timeframes []Timeframe) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = DefaultTimeframes
	}
	return &Aggregator{
		history:    history,
		timeframes: timeframes,
		working:    make(map[string]map[Timeframe]*workingCandle),
	}
}

// Ingest processes one tick: updates the last-tick cache, folds the tick
// into every open candle, and closes candles whose bucket has elapsed.
func (a *Aggregator) Ingest(t Tick) {
	a.history.SetLastTick(t)

	byTF, ok := a.working[t.Instrument]
	if !ok {
		byTF = make(map[Timeframe]*workingCandle)
		a.working[t.Instrument] = byTF
	}

	mid := t.Mid()
	for _, tf := range a.timeframes {
		bucket := t.Timestamp.Truncate(tf.Duration())

		wc, ok := byTF[tf]
		if ok && !wc.candle.OpenTime.Equal(bucket) {
			// bucket rolled over: close out the previous candle
			a.history.Push(a.finish(wc))
			ok = false
		}
		if !ok {
			byTF[tf] = &workingCandle{
				candle: Candle{
					Instrument: t.Instrument,
					Timeframe:  tf,
					Open:       mid,
					High:       mid,
					Low:        mid,
					Close:      mid,
					Volume:     t.Volume,
					OpenTime:   bucket,
					CloseTime:  bucket.Add(tf.Duration()),
				},
				tickCount:   1,
				spreadTotal: t.Spread,
			}
			continue
		}

		if mid > wc.candle.High {
			wc.candle.High = mid
		}
		if mid < wc.candle.Low {
			wc.candle.Low = mid
		}
		wc.candle.Close = mid
		wc.candle.Volume += t.Volume
		wc.tickCount++
		wc.spreadTotal += t.Spread
	}
}

// Flush closes and publishes every open candle. Used on shutdown and in tests.
func (a *Aggregator) Flush() {
	for _, byTF := range a.working {
		for tf, wc := range byTF {
			a.history.Push(a.finish(wc))
			delete(byTF, tf)
		}
	}
}

func (a *Aggregator) finish(wc *workingCandle) Candle {
	c := wc.candle
	if wc.tickCount > 0 {
		c.AvgSpread = wc.spreadTotal / float64(wc.tickCount)
	}
	return c
}

// FlushBefore closes open candles whose bucket ended at or before cutoff.
// Lets the pipeline see completed candles even when no new tick has arrived
// to roll the bucket over.
func (a *Aggregator) FlushBefore(cutoff time.Time) {
	for _, byTF := range a.working {
		for tf, wc := range byTF {
			if !wc.candle.CloseTime.After(cutoff) {
				a.history.Push(a.finish(wc))
				delete(byTF, tf)
			}
		}
	}
}
