package market

import "time"

// Tick is a single bid/ask/volume observation for an instrument.
// Ticks are immutable once ingested.
type Tick struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Spread     float64   `json:"spread"`
	Volume     float64   `json:"volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// Mid returns the mid price of the tick.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candle is an OHLC aggregate of ticks for one timeframe bucket.
type Candle struct {
	Instrument string
	Timeframe  Timeframe
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	AvgSpread  float64
	OpenTime   time.Time
	CloseTime  time.Time
}

// IsBullish returns true if the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish returns true if the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Body returns the absolute body size of the candle.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Range returns the high-low range of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// DefaultTimeframes is the set of timeframes maintained per instrument,
// ordered from lowest to highest.
var DefaultTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF1h, TF4h}

// Duration returns the bucket length of the timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	default:
		return time.Minute
	}
}

// Higher returns the timeframes above tf in DefaultTimeframes order.
func (tf Timeframe) Higher() []Timeframe {
	for i, t := range DefaultTimeframes {
		if t == tf {
			return DefaultTimeframes[i+1:]
		}
	}
	return nil
}
