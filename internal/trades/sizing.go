package trades

import "github.com/shopspring/decimal"

var (
	sizeRound = decimal.NewFromInt(500)
	sizeBase  = decimal.NewFromInt(1000)
	minSize   = decimal.NewFromFloat(0.5)
)

// SizeFromBalance stakes 1 per 1000 of balance above the first 500, rounded
// down to 500 steps, never below 0.5.
func SizeFromBalance(balance float64) float64 {
	b := decimal.NewFromFloat(balance)
	steps := b.Div(sizeRound).Floor()
	size := steps.Mul(sizeRound).Sub(sizeRound).Div(sizeBase)
	if size.LessThan(minSize) {
		size = minSize
	}
	f, _ := size.Float64()
	return f
}
