// Package safemath provides int64 arithmetic that reports overflow
// instead of wrapping. Filled quantity and notional totals are built
// on it so a corrupt total can never be produced silently.
package safemath

import (
	"math"

	"github.com/cockroachdb/errors"
)

// ErrOverflow is returned when a result does not fit in an int64.
var ErrOverflow = errors.New("safemath: int64 overflow")

// Add returns a+b or ErrOverflow.
func Add(a, b int64) (int64, error) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, errors.Wrapf(ErrOverflow, "%d + %d", a, b)
	}
	return c, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, errors.Wrapf(ErrOverflow, "%d * %d", a, b)
	}
	c := a * b
	if c/b != a {
		return 0, errors.Wrapf(ErrOverflow, "%d * %d", a, b)
	}
	return c, nil
}

// MulAdd returns acc + a*b, failing if either step overflows.
func MulAdd(acc, a, b int64) (int64, error) {
	p, err := Mul(a, b)
	if err != nil {
		return 0, err
	}
	return Add(acc, p)
}
