package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := Wrap(errors.New("boom"), KindTimeout, "shot row").
		WithStep("admin-create-and-verify", "verify shot visible").
		WithObserved("0 rows")

	assert.Equal(t,
		"Timeout [admin-create-and-verify/verify shot visible]: shot row: boom (last observed: 0 rows)",
		err.Error())
}

func TestIsComparesKind(t *testing.T) {
	err := fmt.Errorf("step: %w", New(KindMissingFixture, "shot.name"))

	assert.ErrorIs(t, err, ErrMissingFixture)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindMissingFixture, KindOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindAction, "ignored"))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestClassification(t *testing.T) {
	assert.True(t, IsRetryable(New(KindNoMatch, "x")))
	assert.False(t, IsRetryable(New(KindTimeout, "x")))

	for _, k := range []Kind{KindSetupFailure, KindMissingFixture, KindConfig, KindPermission} {
		assert.True(t, IsFatal(New(k, "x")), k)
	}
	assert.False(t, IsFatal(New(KindNoMatch, "x")))
	assert.False(t, IsFatal(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cause")
	assert.ErrorIs(t, Wrap(cause, KindSetupFailure, "api"), cause)
}
