package fault_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceops/courseflow/internal/fault"
)

func TestKindHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind fault.Kind
		want int
	}{
		{fault.KindConfig, http.StatusUnprocessableEntity},
		{fault.KindData, http.StatusUnprocessableEntity},
		{fault.KindBudget, http.StatusInternalServerError},
		{fault.KindReconcile, http.StatusInternalServerError},
		{fault.KindTimeout, http.StatusServiceUnavailable},
		{fault.KindUnknown, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.kind.HTTPStatus(), tc.kind.String())
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := fault.Data("missing runner file %q", "half_runners.csv").WithDay("sun").WithSegment("A1")

	assert.Equal(t, `DataError day=sun seg=A1: missing runner file "half_runners.csv"`, err.Error())
}

func TestKindOfWalksWrapChain(t *testing.T) {
	t.Parallel()

	inner := fault.Budget("still %d bins over ceiling", 420)
	wrapped := fmt.Errorf("bin day: %w", inner)

	assert.Equal(t, fault.KindBudget, fault.KindOf(wrapped))
	assert.True(t, fault.IsKind(wrapped, fault.KindBudget))
	assert.False(t, fault.IsKind(wrapped, fault.KindConfig))
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fault.KindUnknown, fault.KindOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("open segments.csv: no such file")
	err := fault.Wrap(fault.KindConfig, cause, "load course")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, fault.KindConfig, fault.KindOf(err))
}
