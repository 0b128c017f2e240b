package safeconv_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/pkg/safeconv"
)

func TestMustIntToInt32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int32(0), safeconv.MustIntToInt32(0))
	assert.Equal(t, int32(math.MaxInt32), safeconv.MustIntToInt32(math.MaxInt32))
	assert.Equal(t, int32(math.MinInt32), safeconv.MustIntToInt32(math.MinInt32))
}

func TestMustIntToInt32PanicsOnOverflow(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		safeconv.MustIntToInt32(math.MaxInt32 + 1)
	})

	require.Panics(t, func() {
		safeconv.MustIntToInt32(math.MinInt32 - 1)
	})
}

func TestMustUintToInt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, safeconv.MustUintToInt(0))
	assert.Equal(t, 42, safeconv.MustUintToInt(42))

	require.Panics(t, func() {
		safeconv.MustUintToInt(uint(safeconv.MaxInt) + 1)
	})
}

func TestMustInt64ToInt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 42, safeconv.MustInt64ToInt(42))
	assert.Equal(t, -42, safeconv.MustInt64ToInt(-42))
}
