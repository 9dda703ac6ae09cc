package market

// InstrumentSpec holds the broker contract parameters for one instrument.
// All sizing and stop validation derives from these values.
type InstrumentSpec struct {
	Symbol       string  `json:"symbol"`
	PipSize      float64 `json:"pip_size"`       // smallest standardized price increment
	PipValue     float64 `json:"pip_value"`      // account-currency value of one pip for one lot
	LotStep      float64 `json:"lot_step"`       // volume granularity
	MinLot       float64 `json:"min_lot"`
	MaxLot       float64 `json:"max_lot"`
	MinStopPips  float64 `json:"min_stop_pips"`  // broker minimum stop distance
	Tradable     bool    `json:"tradable"`
}

// Pips converts a price distance into pips for this instrument.
func (s InstrumentSpec) Pips(priceDistance float64) float64 {
	if s.PipSize <= 0 {
		return 0
	}
	if priceDistance < 0 {
		priceDistance = -priceDistance
	}
	return priceDistance / s.PipSize
}

// DefaultInstrumentSpec returns conservative defaults for an unknown forex
// symbol. Used only when configuration does not list the instrument.
func DefaultInstrumentSpec(symbol string) InstrumentSpec {
	return InstrumentSpec{
		Symbol:      symbol,
		PipSize:     0.0001,
		PipValue:    10.0,
		LotStep:     0.01,
		MinLot:      0.01,
		MaxLot:      100.0,
		MinStopPips: 5.0,
		Tradable:    true,
	}
}
