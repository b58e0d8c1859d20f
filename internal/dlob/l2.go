package dlob

import (
	"dlob_engine/internal/core"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"
)

// L2Params controls an L2 build
type L2Params struct {
	Slot        uint64
	OraclePrice decimal.Decimal // reference price handed to generators
	Depth       int
	Generators  []core.ILiquidityGenerator
}

// BuildL2 merges the resting levels of book with every generator's levels into a
// price-aggregated view of at most Depth levels per side.
// A nil book builds a view from the generators alone. Depth < 0 panics.
func BuildL2(book *MarketBook, p L2Params) *core.L2OrderBook {
	out := &core.L2OrderBook{
		Slot:        p.Slot,
		OraclePrice: p.OraclePrice,
	}
	if book != nil {
		out.Market = book.id
	}
	out.Bids = BuildL2Side(core.SideBid, book.RestingLevels(core.SideBid), p.Depth, p.OraclePrice, p.Generators)
	out.Asks = BuildL2Side(core.SideAsk, book.RestingLevels(core.SideAsk), p.Depth, p.OraclePrice, p.Generators)
	return out
}

// BuildL2Side runs a k-way merge over the resting levels and the generators' levels of
// one side. Sources are consulted in order (resting first); levels at an equal price
// are summed into one output level and their per-source sizes kept.
func BuildL2Side(
	side core.Side,
	resting iter.Seq[core.LiquidityLevel],
	depth int,
	referencePrice decimal.Decimal,
	generators []core.ILiquidityGenerator,
) []core.L2Level {
	if depth < 0 {
		panic(fmt.Sprintf("dlob: negative L2 depth %d", depth))
	}
	levels := make([]core.L2Level, 0, depth)
	if depth == 0 {
		return levels
	}

	sources := make([]iter.Seq[core.LiquidityLevel], 0, 1+len(generators))
	if resting != nil {
		sources = append(sources, resting)
	}
	for _, g := range generators {
		sources = append(sources, g.Levels(side, depth, referencePrice))
	}

	heads := make([]*cursor, 0, len(sources))
	for _, src := range sources {
		c := newCursor(src)
		defer c.stop()
		heads = append(heads, c)
	}

	cumulative := decimal.Zero
	var last *decimal.Decimal
	for len(levels) < depth {
		// drop levels not strictly worse than the last emitted price
		if last != nil {
			for _, c := range heads {
				for c.valid && !side.Better(*last, c.cur.Price) {
					c.advance()
				}
			}
		}

		var bestPrice decimal.Decimal
		found := false
		for _, c := range heads {
			if c.valid && (!found || side.Better(c.cur.Price, bestPrice)) {
				bestPrice = c.cur.Price
				found = true
			}
		}
		if !found {
			break
		}

		lvl := core.L2Level{
			Price:   bestPrice,
			Size:    decimal.Zero,
			Sources: make(map[core.LiquiditySource]decimal.Decimal),
		}
		for _, c := range heads {
			for c.valid && c.cur.Price.Equal(bestPrice) {
				lvl.Size = lvl.Size.Add(c.cur.Size)
				lvl.Sources[c.cur.Source] = lvl.Sources[c.cur.Source].Add(c.cur.Size)
				c.advance()
			}
		}
		cumulative = cumulative.Add(lvl.Size)
		lvl.Cumulative = cumulative
		levels = append(levels, lvl)
		p := bestPrice
		last = &p
	}
	return levels
}

// cursor is a pull-style head over one liquidity source. Non-positive sizes are skipped.
type cursor struct {
	next  func() (core.LiquidityLevel, bool)
	stop  func()
	cur   core.LiquidityLevel
	valid bool
}

func newCursor(seq iter.Seq[core.LiquidityLevel]) *cursor {
	next, stop := iter.Pull(seq)
	c := &cursor{next: next, stop: stop}
	c.advance()
	return c
}

func (c *cursor) advance() {
	for {
		lvl, ok := c.next()
		if !ok {
			c.valid = false
			return
		}
		if lvl.Size.IsPositive() {
			c.cur = lvl
			c.valid = true
			return
		}
	}
}
