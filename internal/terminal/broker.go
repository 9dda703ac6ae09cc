// Package terminal implements the trading-terminal side of the bridge:
// instruction intake, broker execution with bounded retry, the position
// lifecycle manager and the heartbeat Status emitter.
package terminal

import (
	"context"
	"errors"

	"smc-trading-bot/internal/account"
)

// OrderRequest is a broker-level market order.
type OrderRequest struct {
	Symbol    string
	Direction string // BUY or SELL
	Volume    float64
	Price     float64 // requested entry, advisory for market fills
}

// Broker is the venue the terminal executes against. The paper broker
// ships in-tree; a live adapter implements the same interface.
type Broker interface {
	// Open places a market order and returns the ticket and fill price.
	Open(ctx context.Context, req OrderRequest) (ticket int64, fillPrice float64, err error)
	// ClosePartial closes part of a position at the given market price.
	ClosePartial(ctx context.Context, ticket int64, volume, price float64) error
	// Close closes the full remaining position at the given market price.
	Close(ctx context.Context, ticket int64, price float64) error
	// Account returns the current account snapshot.
	Account() account.Snapshot
}

// Broker errors. ErrOrderRejected is transient from the protocol's point of
// view: placement is retried up to a bound before a failed Result is sent.
var (
	ErrOrderRejected  = errors.New("order rejected by broker")
	ErrUnknownTicket  = errors.New("unknown ticket")
	ErrInvalidVolume  = errors.New("invalid volume")
)
