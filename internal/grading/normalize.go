package grading

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput reports arguments the engine cannot compute with.
var ErrInvalidInput = errors.New("grading: invalid input")

// Normalize converts score/maxScore onto the target scale. No rounding is applied.
func Normalize(score, maxScore, scale float64) (float64, error) {
	if maxScore <= 0 {
		return 0, fmt.Errorf("%w: max score must be positive, got %v", ErrInvalidInput, maxScore)
	}
	return score / maxScore * scale, nil
}

// Round2 rounds half-up to two decimals. Used only when presenting values.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round2Ptr(v float64) *float64 {
	r := Round2(v)
	return &r
}
