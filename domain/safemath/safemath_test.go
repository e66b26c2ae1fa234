package safemath

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd(t *testing.T) {
	cases := []struct {
		name     string
		a, b     int64
		want     int64
		overflow bool
	}{
		{"small", 2, 3, 5, false},
		{"negative", -7, 3, -4, false},
		{"max edge", math.MaxInt64 - 1, 1, math.MaxInt64, false},
		{"max overflow", math.MaxInt64, 1, 0, true},
		{"min edge", math.MinInt64 + 1, -1, math.MinInt64, false},
		{"min overflow", math.MinInt64, -1, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Add(tc.a, tc.b)
			if tc.overflow {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOverflow))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMul(t *testing.T) {
	cases := []struct {
		name     string
		a, b     int64
		want     int64
		overflow bool
	}{
		{"zero", 0, math.MaxInt64, 0, false},
		{"plain", 250, 10, 2500, false},
		{"signs", -4, 5, -20, false},
		{"near boundary", math.MaxInt64 / 2, 2, math.MaxInt64 - 1, false},
		{"over boundary", math.MaxInt64/2 + 1, 2, 0, true},
		{"min times minus one", math.MinInt64, -1, 0, true},
		{"minus one times min", -1, math.MinInt64, 0, true},
		{"large square", 1 << 32, 1 << 32, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Mul(tc.a, tc.b)
			if tc.overflow {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrOverflow))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMulAddNeverWraps(t *testing.T) {
	acc, err := MulAdd(0, math.MaxInt64/10, 10)
	require.NoError(t, err)

	_, err = MulAdd(acc, 1, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverflow))
}
