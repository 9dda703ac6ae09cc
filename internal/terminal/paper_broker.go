package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"smc-trading-bot/internal/account"
	"smc-trading-bot/internal/market"
)

// PaperBroker simulates a venue so the whole loop runs without live money.
// It tracks cash, per-ticket exposure and mark-to-market equity from the
// prices pushed into it.
type PaperBroker struct {
	mu sync.Mutex

	balance    float64
	specs      map[string]market.InstrumentSpec
	lastPrice  map[string]float64
	open       map[int64]*paperPosition
	nextTicket int64
}

type paperPosition struct {
	symbol    string
	direction string
	volume    float64
	openPrice float64
}

// NewPaperBroker creates a simulated broker with starting cash.
func NewPaperBroker(startingBalance float64, specs map[string]market.InstrumentSpec) *PaperBroker {
	return &PaperBroker{
		balance:    startingBalance,
		specs:      specs,
		lastPrice:  make(map[string]float64),
		open:       make(map[int64]*paperPosition),
		nextTicket: time.Now().Unix() * 1000, // tickets survive restarts without colliding
	}
}

// UpdatePrice marks a symbol to market.
func (b *PaperBroker) UpdatePrice(symbol string, price float64) {
	b.mu.Lock()
	b.lastPrice[symbol] = price
	b.mu.Unlock()
}

// LastPrice returns the most recent mark for a symbol.
func (b *PaperBroker) LastPrice(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	price, ok := b.lastPrice[symbol]
	return price, ok && price > 0
}

// Open fills a market order at the last known price, falling back to the
// requested price before the first tick arrives.
func (b *PaperBroker) Open(ctx context.Context, req OrderRequest) (int64, float64, error) {
	if req.Volume <= 0 {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidVolume, req.Volume)
	}
	spec, ok := b.specs[req.Symbol]
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown symbol %s", ErrOrderRejected, req.Symbol)
	}
	if req.Volume < spec.MinLot || req.Volume > spec.MaxLot {
		return 0, 0, fmt.Errorf("%w: volume %v outside [%v, %v]", ErrOrderRejected, req.Volume, spec.MinLot, spec.MaxLot)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fill := b.lastPrice[req.Symbol]
	if fill <= 0 {
		fill = req.Price
	}
	if fill <= 0 {
		return 0, 0, fmt.Errorf("%w: no price for %s", ErrOrderRejected, req.Symbol)
	}

	b.nextTicket++
	ticket := b.nextTicket
	b.open[ticket] = &paperPosition{
		symbol:    req.Symbol,
		direction: req.Direction,
		volume:    req.Volume,
		openPrice: fill,
	}
	return ticket, fill, nil
}

// ClosePartial realizes PnL on part of a position.
func (b *PaperBroker) ClosePartial(ctx context.Context, ticket int64, volume, price float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[ticket]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	if volume <= 0 || volume > pos.volume+1e-9 {
		return fmt.Errorf("%w: close %v of %v", ErrInvalidVolume, volume, pos.volume)
	}

	b.balance += b.profitLocked(pos, volume, price)
	pos.volume -= volume
	if pos.volume <= 1e-9 {
		delete(b.open, ticket)
	}
	return nil
}

// Close realizes PnL on the full remaining position.
func (b *PaperBroker) Close(ctx context.Context, ticket int64, price float64) error {
	b.mu.Lock()
	pos, ok := b.open[ticket]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownTicket, ticket)
	}
	volume := pos.volume
	b.mu.Unlock()
	return b.ClosePartial(ctx, ticket, volume, price)
}

// Account returns balance plus mark-to-market equity.
func (b *PaperBroker) Account() account.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	unrealized := 0.0
	margin := 0.0
	for _, pos := range b.open {
		price, ok := b.lastPrice[pos.symbol]
		if !ok {
			continue
		}
		unrealized += b.profitLocked(pos, pos.volume, price)
		// Flat 1% notional margin model, close enough for simulation.
		margin += pos.openPrice * pos.volume * 0.01
	}

	equity := b.balance + unrealized
	return account.Snapshot{
		Balance:           b.balance,
		Equity:            equity,
		Margin:            margin,
		FreeMargin:        equity - margin,
		OpenPositionCount: len(b.open),
		UpdatedAt:         time.Now().UTC(),
	}
}

// profitLocked computes realized/unrealized profit for a slice of a
// position at the given price. Caller must hold b.mu.
func (b *PaperBroker) profitLocked(pos *paperPosition, volume, price float64) float64 {
	spec, ok := b.specs[pos.symbol]
	if !ok || spec.PipSize <= 0 {
		return 0
	}
	pips := (price - pos.openPrice) / spec.PipSize
	if pos.direction == "SELL" {
		pips = -pips
	}
	return pips * spec.PipValue * volume
}
