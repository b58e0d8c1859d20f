package tradingutils

import (
	"github.com/shopspring/decimal"
)

// FloorToStep rounds a value down to a multiple of step. A non-positive step returns the value unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// CeilToStep rounds a value up to a multiple of step. A non-positive step returns the value unchanged.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// CalculatePriceLevels generates a sequence of price levels stepping away from an anchor.
// A negative interval walks down.
func CalculatePriceLevels(anchorPrice, interval decimal.Decimal, count int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	prices := make([]decimal.Decimal, 0, count)
	for i := 1; i <= count; i++ {
		prices = append(prices, anchorPrice.Add(interval.Mul(decimal.NewFromInt(int64(i)))))
	}
	return prices
}

// ApplySpread widens a price by a fractional spread: up for asks, down for bids
func ApplySpread(price, spread decimal.Decimal, isAsk bool) decimal.Decimal {
	if spread.IsZero() {
		return price
	}
	one := decimal.NewFromInt(1)
	if isAsk {
		return price.Mul(one.Add(spread))
	}
	return price.Mul(one.Sub(spread))
}
