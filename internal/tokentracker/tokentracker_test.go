package tokentracker

import (
	"testing"

	cadreerrors "github.com/randalmurphal/cadre/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccumulatesByAgentAndPhase(t *testing.T) {
	tr := New(Budget{})
	_, err := tr.Record("code-writer", 3, 100)
	require.NoError(t, err)
	_, err = tr.Record("test-writer", 3, 50)
	require.NoError(t, err)
	_, err = tr.Record("code-writer", 4, 25)
	require.NoError(t, err)

	assert.Equal(t, 175, tr.Total())
	assert.Equal(t, 150, tr.ByAgent()["code-writer"])
	assert.Equal(t, 50, tr.ByAgent()["test-writer"])
	assert.Equal(t, 150, tr.ByPhase()[3])
	assert.Equal(t, 25, tr.ByPhase()[4])
	assert.True(t, tr.Consistent())
}

func TestRecordRejectsNegativeTokens(t *testing.T) {
	tr := New(Budget{})
	_, err := tr.Record("agent", 1, -5)
	require.Error(t, err)
}

func TestRecordWarnsAtThreshold(t *testing.T) {
	tr := New(Budget{WarnAt: 100})
	warn, err := tr.Record("agent", 1, 50)
	require.NoError(t, err)
	assert.False(t, warn)

	warn, err = tr.Record("agent", 1, 60)
	require.NoError(t, err)
	assert.True(t, warn)
}

func TestRecordRaisesBudgetExceeded(t *testing.T) {
	tr := New(Budget{Total: 100})
	_, err := tr.Record("agent", 1, 80)
	require.NoError(t, err)

	_, err = tr.Record("agent", 1, 30)
	require.Error(t, err)
	var be *cadreerrors.BudgetExceeded
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 110, be.Current)
	assert.Equal(t, 100, be.Budget)
}

func TestZeroBudgetDisablesEnforcement(t *testing.T) {
	tr := New(Budget{})
	_, err := tr.Record("agent", 1, 1_000_000)
	require.NoError(t, err)
}
