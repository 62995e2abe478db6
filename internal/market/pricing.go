// Package market holds the pricing rules: trade impact, random drift,
// rounding and the price floor.
package market

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PricePlaces is the number of decimal places kept for prices and amounts.
const PricePlaces = 3

var (
	// MinPrice is the floor applied after every price change.
	MinPrice = decimal.NewFromInt(1)

	impactPerUnit     = decimal.RequireFromString("0.01")
	significantChange = decimal.NewFromInt(5)
	hundred           = decimal.NewFromInt(100)

	// DriftBound is the half-width of the uniform drift interval, 2.5%.
	DriftBound = 0.025
)

// Source is the randomness used for drift. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Round rounds half away from zero to PricePlaces.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(PricePlaces)
}

func floor(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(MinPrice) {
		return MinPrice
	}
	return v
}

// Notional is price × quantity rounded to PricePlaces.
func Notional(price decimal.Decimal, quantity int64) decimal.Decimal {
	return Round(price.Mul(decimal.NewFromInt(quantity)))
}

// ApplyTradeImpact moves price by 1% per unit traded, up for buys and down for
// sells. The result is rounded and then floored at MinPrice; the pre-floor
// value is unbounded below for large sells.
func ApplyTradeImpact(price decimal.Decimal, quantity int64, side Side) decimal.Decimal {
	step := impactPerUnit.Mul(decimal.NewFromInt(quantity))
	factor := decimal.NewFromInt(1)
	if side == SideSell {
		factor = factor.Sub(step)
	} else {
		factor = factor.Add(step)
	}
	return floor(Round(price.Mul(factor)))
}

// PercentChange returns (new-old)/old*100. A zero old price yields zero.
func PercentChange(oldPrice, newPrice decimal.Decimal) decimal.Decimal {
	if oldPrice.IsZero() {
		return decimal.Zero
	}
	return newPrice.Sub(oldPrice).Div(oldPrice).Mul(hundred)
}

// ClassifyChange reports whether the move from oldPrice to newPrice is at
// least 5% in either direction.
func ClassifyChange(oldPrice, newPrice decimal.Decimal) bool {
	return PercentChange(oldPrice, newPrice).Abs().GreaterThanOrEqual(significantChange)
}

// ApplyDrift returns max(1, price × (1+u)) rounded to PricePlaces.
func ApplyDrift(price decimal.Decimal, u float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(u))
	return floor(Round(price.Mul(factor)))
}

// DrawDrift draws u uniformly from [-DriftBound, +DriftBound).
func DrawDrift(src Source) float64 {
	return src.Float64()*2*DriftBound - DriftBound
}
