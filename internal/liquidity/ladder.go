package liquidity

import (
	"dlob_engine/internal/core"
	apperrors "dlob_engine/pkg/apperrors"
	"dlob_engine/pkg/tradingutils"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"
)

// SourceLadder tags levels produced by a LadderGenerator
const SourceLadder core.LiquiditySource = "ladder"

// LadderGenerator quotes a fixed size at fixed price steps on both sides of the reference price
type LadderGenerator struct {
	step       decimal.Decimal
	size       decimal.Decimal
	halfSpread decimal.Decimal
}

// NewLadderGenerator returns a ladder stepping by step from reference ± halfSpread
func NewLadderGenerator(step, size, halfSpread decimal.Decimal) (*LadderGenerator, error) {
	if !step.IsPositive() || !size.IsPositive() || halfSpread.IsNegative() {
		return nil, fmt.Errorf("%w: ladder step and size must be positive, half spread non-negative", apperrors.ErrInvalidConfiguration)
	}
	return &LadderGenerator{step: step, size: size, halfSpread: halfSpread}, nil
}

// Levels implements core.ILiquidityGenerator. Nothing is emitted without a positive reference price.
func (g *LadderGenerator) Levels(side core.Side, count int, referencePrice decimal.Decimal) iter.Seq[core.LiquidityLevel] {
	return func(yield func(core.LiquidityLevel) bool) {
		if count <= 0 || !referencePrice.IsPositive() {
			return
		}
		anchor := tradingutils.CeilToStep(referencePrice.Add(g.halfSpread), g.step).Sub(g.step)
		interval := g.step
		if side == core.SideBid {
			anchor = tradingutils.FloorToStep(referencePrice.Sub(g.halfSpread), g.step).Add(g.step)
			interval = g.step.Neg()
		}
		for _, price := range tradingutils.CalculatePriceLevels(anchor, interval, count) {
			if !price.IsPositive() {
				return
			}
			if !yield(core.LiquidityLevel{Price: price, Size: g.size, Source: SourceLadder}) {
				return
			}
		}
	}
}
