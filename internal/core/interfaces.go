// Package core defines the core types and interfaces of the DLOB engine
package core

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"
)

// IOrderStateProvider supplies the full order state of all markets at a slot
type IOrderStateProvider interface {
	Fetch(ctx context.Context, slot uint64) (*OrderSnapshot, error)
}

// ISlotSource returns the current slot; values never decrease
type ISlotSource interface {
	CurrentSlot() uint64
}

// IMarketResolver resolves human-readable market names such as "SOL-PERP"
type IMarketResolver interface {
	Lookup(name string) (MarketInfo, bool)
}

// IOraclePriceProvider returns the current oracle price of a market
type IOraclePriceProvider interface {
	PriceFor(market MarketID) (OraclePrice, error)
}

// ILiquidityGenerator produces synthetic price levels for one side of a market.
// The returned sequence is lazy, finite, yields at most count levels and
// starts at the best price.
type ILiquidityGenerator interface {
	Levels(side Side, count int, referencePrice decimal.Decimal) iter.Seq[LiquidityLevel]
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
