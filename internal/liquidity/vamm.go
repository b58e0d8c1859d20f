// Package liquidity provides synthetic liquidity generators that fill L2 depth
// beyond the resting orders of the book.
package liquidity

import (
	"dlob_engine/internal/core"
	apperrors "dlob_engine/pkg/apperrors"
	"dlob_engine/pkg/tradingutils"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"
)

// DefaultTopOfBookQuoteAmounts sizes the first VAMM levels in quote units
var DefaultTopOfBookQuoteAmounts = []decimal.Decimal{
	decimal.NewFromInt(500),
	decimal.NewFromInt(1000),
	decimal.NewFromInt(2000),
	decimal.NewFromInt(5000),
}

// VAMMGenerator walks a constant-product curve to present AMM liquidity as price levels.
// Prices are anchored to the reference price so that the curve's mid maps onto it.
type VAMMGenerator struct {
	amm       core.AMMState
	numOrders int
	topOfBook []decimal.Decimal
}

// NewVAMMGenerator validates the AMM state and returns a generator emitting at most
// numOrders levels per side. A nil topOfBook uses DefaultTopOfBookQuoteAmounts.
func NewVAMMGenerator(amm *core.AMMState, numOrders int, topOfBook []decimal.Decimal) (*VAMMGenerator, error) {
	if amm == nil {
		return nil, fmt.Errorf("%w: no amm state", apperrors.ErrInvalidMarketState)
	}
	if numOrders <= 0 {
		return nil, fmt.Errorf("%w: vamm num orders must be positive, got %d", apperrors.ErrInvalidConfiguration, numOrders)
	}
	if !amm.BaseAssetReserve.IsPositive() || !amm.QuoteAssetReserve.IsPositive() {
		return nil, fmt.Errorf("%w: amm %d has empty reserves", apperrors.ErrInvalidMarketState, amm.MarketIndex)
	}
	if amm.MaxBaseAssetReserve.LessThan(amm.MinBaseAssetReserve) {
		return nil, fmt.Errorf("%w: amm %d max base reserve below min", apperrors.ErrInvalidMarketState, amm.MarketIndex)
	}
	if topOfBook == nil {
		topOfBook = DefaultTopOfBookQuoteAmounts
	}
	return &VAMMGenerator{amm: *amm, numOrders: numOrders, topOfBook: topOfBook}, nil
}

// Levels implements core.ILiquidityGenerator
func (g *VAMMGenerator) Levels(side core.Side, count int, referencePrice decimal.Decimal) iter.Seq[core.LiquidityLevel] {
	n := min(count, g.numOrders)
	return func(yield func(core.LiquidityLevel) bool) {
		if n <= 0 {
			return
		}
		g.walk(side, n, referencePrice, yield)
	}
}

func (g *VAMMGenerator) walk(side core.Side, n int, ref decimal.Decimal, yield func(core.LiquidityLevel) bool) {
	isAsk := side == core.SideAsk
	base := g.amm.BaseAssetReserve
	quote := g.amm.QuoteAssetReserve
	k := base.Mul(quote)
	mid := quote.Div(base)

	// asks remove base from the pool, bids add it
	open := g.amm.MaxBaseAssetReserve.Sub(base)
	if isAsk {
		open = base.Sub(g.amm.MinBaseAssetReserve)
	}
	if !open.IsPositive() {
		return
	}

	topCount := min(len(g.topOfBook), n)
	var evenSize decimal.Decimal
	if n > topCount {
		evenSize = tradingutils.FloorToStep(open.Div(decimal.NewFromInt(int64(n-topCount))), g.amm.OrderStepSize)
	}

	for i := 0; i < n; i++ {
		size := evenSize
		if i < topCount {
			size = g.sizeForQuote(isAsk, base, quote, k, g.topOfBook[i])
		}
		size = tradingutils.FloorToStep(decimal.Min(size, open), g.amm.OrderStepSize)
		if !size.IsPositive() || size.LessThan(g.amm.MinOrderSize) {
			return
		}

		var newBase, quoteSwapped decimal.Decimal
		if isAsk {
			newBase = base.Sub(size)
			if !newBase.IsPositive() {
				return
			}
			newQuote := k.Div(newBase)
			quoteSwapped = newQuote.Sub(quote)
			quote = newQuote
		} else {
			newBase = base.Add(size)
			newQuote := k.Div(newBase)
			quoteSwapped = quote.Sub(newQuote)
			quote = newQuote
		}
		base = newBase
		open = open.Sub(size)

		price := quoteSwapped.Div(size)
		if ref.IsPositive() {
			price = ref.Mul(price).Div(mid)
		}
		price = tradingutils.ApplySpread(price, g.amm.BaseSpread, isAsk)
		if isAsk {
			price = tradingutils.CeilToStep(price, g.amm.OrderTickSize)
		} else {
			price = tradingutils.FloorToStep(price, g.amm.OrderTickSize)
		}
		if !price.IsPositive() {
			return
		}

		if !yield(core.LiquidityLevel{Price: price, Size: size, Source: core.SourceVAMM}) {
			return
		}
	}
}

// sizeForQuote returns the base amount swapped for quoteAmount at the current reserves
func (g *VAMMGenerator) sizeForQuote(isAsk bool, base, quote, k, quoteAmount decimal.Decimal) decimal.Decimal {
	if isAsk {
		return base.Sub(k.Div(quote.Add(quoteAmount)))
	}
	remaining := quote.Sub(quoteAmount)
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	return k.Div(remaining).Sub(base)
}
