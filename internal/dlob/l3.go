package dlob

import (
	"dlob_engine/internal/core"

	"github.com/shopspring/decimal"
)

// BuildL3 projects every resting order of book into a per-order view, in book order.
// Nothing synthetic is added.
func BuildL3(book *MarketBook, slot uint64, oraclePrice decimal.Decimal) *core.L3OrderBook {
	out := &core.L3OrderBook{
		Slot:        slot,
		OraclePrice: oraclePrice,
		Bids:        toL3(book.Bids()),
		Asks:        toL3(book.Asks()),
	}
	if book != nil {
		out.Market = book.id
	}
	return out
}

func toL3(orders []core.Order) []core.L3Level {
	out := make([]core.L3Level, 0, len(orders))
	for _, o := range orders {
		out = append(out, core.L3Level{
			Price:   o.Price,
			Size:    o.Size,
			Owner:   o.Owner,
			OrderID: o.OrderID,
			Slot:    o.Slot,
		})
	}
	return out
}
