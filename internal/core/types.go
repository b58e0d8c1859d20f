package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType distinguishes perpetual and spot markets
type MarketType int

const (
	MarketTypePerp MarketType = iota
	MarketTypeSpot
)

func (t MarketType) String() string {
	switch t {
	case MarketTypePerp:
		return "perp"
	case MarketTypeSpot:
		return "spot"
	default:
		return fmt.Sprintf("MarketType(%d)", int(t))
	}
}

// ParseMarketType parses "perp" or "spot" (case-insensitive)
func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToLower(s) {
	case "perp":
		return MarketTypePerp, nil
	case "spot":
		return MarketTypeSpot, nil
	default:
		return 0, fmt.Errorf("unknown market type %q", s)
	}
}

// MarketID is the partition key of the order book store
type MarketID struct {
	Index uint16
	Type  MarketType
}

func (m MarketID) String() string {
	return fmt.Sprintf("%s-%d", m.Type, m.Index)
}

// IsPerp reports whether the market is a perpetual market
func (m MarketID) IsPerp() bool {
	return m.Type == MarketTypePerp
}

// MarketInfo is what a market resolver returns for a human-readable name
type MarketInfo struct {
	Name string
	ID   MarketID
}

// Side is the side of the book an order rests on
type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// ParseSide accepts bid/buy/long and ask/sell/short
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy", "long":
		return SideBid, nil
	case "ask", "sell", "short":
		return SideAsk, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Better reports whether price a ranks ahead of price b on this side
func (s Side) Better(a, b decimal.Decimal) bool {
	if s == SideBid {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

// OrderKind separates resting limit orders from conditional orders
type OrderKind int

const (
	OrderKindLimit OrderKind = iota
	OrderKindTrigger
)

func (k OrderKind) String() string {
	if k == OrderKindTrigger {
		return "trigger"
	}
	return "limit"
}

// ParseOrderKind parses "limit" or "trigger"; empty means limit
func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToLower(s) {
	case "", "limit":
		return OrderKindLimit, nil
	case "trigger", "trigger_limit", "trigger_market":
		return OrderKindTrigger, nil
	default:
		return 0, fmt.Errorf("unknown order kind %q", s)
	}
}

// Order is a resting order as observed in one fetched snapshot
type Order struct {
	Market  MarketID
	Side    Side
	Kind    OrderKind
	Price   decimal.Decimal
	Size    decimal.Decimal // remaining, unfilled size
	Slot    uint64          // placement slot
	Owner   string
	OrderID uint32
}

// AMMState is the virtual AMM account of a perp market
type AMMState struct {
	MarketIndex         uint16
	BaseAssetReserve    decimal.Decimal
	QuoteAssetReserve   decimal.Decimal
	MinBaseAssetReserve decimal.Decimal
	MaxBaseAssetReserve decimal.Decimal
	BaseSpread          decimal.Decimal // fraction of price, e.g. 0.001 = 10bps
	OrderStepSize       decimal.Decimal
	OrderTickSize       decimal.Decimal
	MinOrderSize        decimal.Decimal
}

// OrderSnapshot is the full order state supplied by the order-state provider at a slot
type OrderSnapshot struct {
	Slot    uint64
	Markets []MarketID
	Orders  []Order
	AMMs    map[uint16]AMMState
}

// OraclePrice is a price observation for a market
type OraclePrice struct {
	Price      decimal.Decimal
	Slot       uint64
	ObservedAt time.Time
}

// LiquiditySource tags where a level's size came from
type LiquiditySource string

const (
	SourceDLOB LiquiditySource = "dlob"
	SourceVAMM LiquiditySource = "vamm"
)

// LiquidityLevel is a single price level emitted by a liquidity source
type LiquidityLevel struct {
	Price  decimal.Decimal
	Size   decimal.Decimal
	Source LiquiditySource
}

// L2Level is one aggregated price level of an L2 view
type L2Level struct {
	Price      decimal.Decimal                     `json:"price"`
	Size       decimal.Decimal                     `json:"size"`
	Cumulative decimal.Decimal                     `json:"cumulative"`
	Sources    map[LiquiditySource]decimal.Decimal `json:"sources"`
}

// L2OrderBook is the price-aggregated view of one market
type L2OrderBook struct {
	Market      MarketID        `json:"-"`
	Slot        uint64          `json:"slot"`
	OraclePrice decimal.Decimal `json:"oracle_price"`
	Bids        []L2Level       `json:"bids"`
	Asks        []L2Level       `json:"asks"`
}

// L3Level is a single order of an L3 view
type L3Level struct {
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Owner   string          `json:"owner"`
	OrderID uint32          `json:"order_id"`
	Slot    uint64          `json:"slot"`
}

// L3OrderBook is the per-order view of one market
type L3OrderBook struct {
	Market      MarketID        `json:"-"`
	Slot        uint64          `json:"slot"`
	OraclePrice decimal.Decimal `json:"oracle_price"`
	Bids        []L3Level       `json:"bids"`
	Asks        []L3Level       `json:"asks"`
}
