package source

import (
	"dlob_engine/internal/core"
	"fmt"

	"github.com/shopspring/decimal"
)

// ordersResponse is the body of GET /markets/{type}/{index}/orders
type ordersResponse struct {
	Slot   uint64      `json:"slot"`
	Orders []orderWire `json:"orders"`
	AMM    *ammWire    `json:"amm,omitempty"`
}

type orderWire struct {
	Side    string          `json:"side"`
	Kind    string          `json:"kind"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Slot    uint64          `json:"slot"`
	Owner   string          `json:"owner"`
	OrderID uint32          `json:"order_id"`
}

type ammWire struct {
	BaseAssetReserve    decimal.Decimal `json:"base_asset_reserve"`
	QuoteAssetReserve   decimal.Decimal `json:"quote_asset_reserve"`
	MinBaseAssetReserve decimal.Decimal `json:"min_base_asset_reserve"`
	MaxBaseAssetReserve decimal.Decimal `json:"max_base_asset_reserve"`
	BaseSpread          decimal.Decimal `json:"base_spread"`
	OrderStepSize       decimal.Decimal `json:"order_step_size"`
	OrderTickSize       decimal.Decimal `json:"order_tick_size"`
	MinOrderSize        decimal.Decimal `json:"min_order_size"`
}

// oracleResponse is the body of GET /oracle/{type}/{index}
type oracleResponse struct {
	Price decimal.Decimal `json:"price"`
	Slot  uint64          `json:"slot"`
}

// slotMessage accepts both a bare {"slot":N} frame and a JSON-RPC slot notification
type slotMessage struct {
	Slot   uint64 `json:"slot"`
	Params *struct {
		Result struct {
			Slot uint64 `json:"slot"`
		} `json:"result"`
	} `json:"params,omitempty"`
}

func (m slotMessage) value() uint64 {
	if m.Params != nil && m.Params.Result.Slot > m.Slot {
		return m.Params.Result.Slot
	}
	return m.Slot
}

func (o orderWire) toOrder(market core.MarketID) (core.Order, error) {
	side, err := core.ParseSide(o.Side)
	if err != nil {
		return core.Order{}, err
	}
	kind, err := core.ParseOrderKind(o.Kind)
	if err != nil {
		return core.Order{}, err
	}
	return core.Order{
		Market:  market,
		Side:    side,
		Kind:    kind,
		Price:   o.Price,
		Size:    o.Size,
		Slot:    o.Slot,
		Owner:   o.Owner,
		OrderID: o.OrderID,
	}, nil
}

func (a ammWire) toState(index uint16) core.AMMState {
	return core.AMMState{
		MarketIndex:         index,
		BaseAssetReserve:    a.BaseAssetReserve,
		QuoteAssetReserve:   a.QuoteAssetReserve,
		MinBaseAssetReserve: a.MinBaseAssetReserve,
		MaxBaseAssetReserve: a.MaxBaseAssetReserve,
		BaseSpread:          a.BaseSpread,
		OrderStepSize:       a.OrderStepSize,
		OrderTickSize:       a.OrderTickSize,
		MinOrderSize:        a.MinOrderSize,
	}
}

func marketPath(id core.MarketID, suffix string) string {
	return fmt.Sprintf("/markets/%s/%d/%s", id.Type, id.Index, suffix)
}

func oraclePath(id core.MarketID) string {
	return fmt.Sprintf("/oracle/%s/%d", id.Type, id.Index)
}
