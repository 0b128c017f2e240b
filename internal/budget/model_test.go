package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/budget"
)

func TestSchedule_TemporalFirst(t *testing.T) {
	t.Parallel()

	steps := budget.Schedule()
	require.Len(t, steps, 4)

	assert.True(t, steps[0].IsBase())
	assert.Equal(t, budget.Step{DtMult: 2, DxMult: 1}, steps[1])
	assert.Equal(t, budget.Step{DtMult: 4, DxMult: 1}, steps[2])
	assert.Equal(t, budget.Step{DtMult: 4, DxMult: 2}, steps[3])
}

func TestEstimate(t *testing.T) {
	t.Parallel()

	grids := []budget.Grid{
		{LengthKm: 0.9, Windows: 100}, // 9 spatial bins at 0.1 km
		{LengthKm: 0.04, Windows: 100}, // shorter than dx: one bin
	}

	assert.Equal(t, 9*100+1*100, budget.Estimate(grids, 0.1, budget.Step{DtMult: 1, DxMult: 1}))
	assert.Equal(t, 9*50+1*50, budget.Estimate(grids, 0.1, budget.Step{DtMult: 2, DxMult: 1}))
	assert.Equal(t, 5*25+1*25, budget.Estimate(grids, 0.1, budget.Step{DtMult: 4, DxMult: 2}))
}

func TestFit(t *testing.T) {
	t.Parallel()

	grids := []budget.Grid{{LengthKm: 1.0, Windows: 400}} // 4000 bins at base

	step, ok := budget.Fit(grids, 0.1, 10000)
	require.True(t, ok)
	assert.True(t, step.IsBase())

	step, ok = budget.Fit(grids, 0.1, 2100)
	require.True(t, ok)
	assert.Equal(t, budget.Step{DtMult: 2, DxMult: 1}, step)

	step, ok = budget.Fit(grids, 0.1, 600)
	require.True(t, ok)
	assert.Equal(t, budget.Step{DtMult: 4, DxMult: 2}, step)

	_, ok = budget.Fit(grids, 0.1, 100)
	assert.False(t, ok)
}

func TestNextTemporal(t *testing.T) {
	t.Parallel()

	next, ok := budget.NextTemporal(budget.Step{DtMult: 1, DxMult: 1})
	require.True(t, ok)
	assert.Equal(t, budget.Step{DtMult: 2, DxMult: 1}, next)

	next, ok = budget.NextTemporal(budget.Step{DtMult: 2, DxMult: 1})
	require.True(t, ok)
	assert.Equal(t, budget.Step{DtMult: 4, DxMult: 1}, next)

	_, ok = budget.NextTemporal(budget.Step{DtMult: 4, DxMult: 2})
	assert.False(t, ok)
}
