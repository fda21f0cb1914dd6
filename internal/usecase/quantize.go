package usecase

import "github.com/shopspring/decimal"

type RoundDir int

const (
	RoundDown RoundDir = iota
	RoundUp
)

// RoundToStep quantizes value to a multiple of step using exact decimal
// arithmetic. Binary float division drifts at step boundaries and the venue
// rejects quantities that are off the lot filter. Direction is RoundDown for
// order quantities, configurable for stop prices.
func RoundToStep(value, step float64, dir RoundDir) float64 {
	if step <= 0 || value <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	q := v.Div(s)
	if dir == RoundUp {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	out, _ := q.Mul(s).Float64()
	return out
}
