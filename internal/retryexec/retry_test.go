package retryexec

import (
	"errors"
	"testing"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result := Run(Options[int]{Description: "noop", MaxAttempts: 3}, func(attempt int) (int, error) {
		calls++
		return 42, nil
	})
	assert.True(t, result.Success)
	assert.Equal(t, 42, result.Value)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.RecoveryUsed)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesAndRecovers(t *testing.T) {
	fixCalls := 0
	attemptCount := 0
	result := Run(Options[string]{
		Description: "flaky",
		MaxAttempts: 3,
		OnFixNeeded: func(attempt int, failure error) error {
			fixCalls++
			return nil
		},
	}, func(attempt int) (string, error) {
		attemptCount++
		if attempt < 3 {
			return "", errors.New("transient failure")
		}
		return "ok", nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, result.Attempts)
	assert.True(t, result.RecoveryUsed)
	assert.Equal(t, 2, fixCalls)
	assert.Equal(t, 3, attemptCount)
}

func TestRunExhaustsAttempts(t *testing.T) {
	result := Run(Options[int]{Description: "always fails", MaxAttempts: 2}, func(attempt int) (int, error) {
		return 0, errors.New("permanent failure")
	})
	assert.False(t, result.Success)
	require.Error(t, result.Err)
	assert.Equal(t, 2, result.Attempts)
}

func TestRunDoesNotInvokeOnFixNeededOnFinalAttempt(t *testing.T) {
	fixCalls := 0
	Run(Options[int]{
		Description: "always fails",
		MaxAttempts: 2,
		OnFixNeeded: func(attempt int, failure error) error {
			fixCalls++
			return nil
		},
	}, func(attempt int) (int, error) {
		return 0, errors.New("permanent failure")
	})
	assert.Equal(t, 1, fixCalls)
}

func TestRunSurfacesValidationErrors(t *testing.T) {
	var verrs cadreerrors.ValidationErrors
	verrs.Add("tasks[0].id", "missing required field")

	result := Run(Options[int]{Description: "schema check", MaxAttempts: 1}, func(attempt int) (int, error) {
		return 0, &verrs
	})
	assert.False(t, result.Success)
	require.Error(t, result.Err)
}

func TestRunDefaultsMaxAttemptsToOne(t *testing.T) {
	calls := 0
	Run(Options[int]{Description: "zero configured"}, func(attempt int) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	assert.Equal(t, 1, calls)
}
