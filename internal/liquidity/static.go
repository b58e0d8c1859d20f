package liquidity

import (
	"dlob_engine/internal/core"
	"iter"
	"slices"

	"github.com/shopspring/decimal"
)

// StaticGenerator replays a caller-supplied ladder. The reference price is ignored.
type StaticGenerator struct {
	source core.LiquiditySource
	bids   []core.LiquidityLevel
	asks   []core.LiquidityLevel
}

// NewStaticGenerator sorts both sides best-first and tags every level with source
func NewStaticGenerator(source core.LiquiditySource, bids, asks []core.LiquidityLevel) *StaticGenerator {
	g := &StaticGenerator{
		source: source,
		bids:   slices.Clone(bids),
		asks:   slices.Clone(asks),
	}
	slices.SortStableFunc(g.bids, func(a, b core.LiquidityLevel) int { return b.Price.Cmp(a.Price) })
	slices.SortStableFunc(g.asks, func(a, b core.LiquidityLevel) int { return a.Price.Cmp(b.Price) })
	return g
}

// Levels implements core.ILiquidityGenerator
func (g *StaticGenerator) Levels(side core.Side, count int, _ decimal.Decimal) iter.Seq[core.LiquidityLevel] {
	levels := g.asks
	if side == core.SideBid {
		levels = g.bids
	}
	return func(yield func(core.LiquidityLevel) bool) {
		for i, l := range levels {
			if i >= count {
				return
			}
			l.Source = g.source
			if !yield(l) {
				return
			}
		}
	}
}
