package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/config"
)

func TestParsePhaseListParsesAndTrims(t *testing.T) {
	phases, err := parsePhaseList(" 3, 4,5 ")
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, phases)
}

func TestParsePhaseListRejectsGarbage(t *testing.T) {
	_, err := parsePhaseList("3,x,5")
	require.Error(t, err)
}

func TestRunResetClearsNamedPhases(t *testing.T) {
	dir := t.TempDir()
	opts := config.Defaults()
	opts.ProgressRoot = dir

	path := checkpointPath(opts, 42)
	store, err := checkpoint.Open(path)
	require.NoError(t, err)
	for p := 1; p <= 5; p++ {
		require.NoError(t, store.StartPhase(p))
		require.NoError(t, store.RecordGateResult(p, checkpoint.GateResult{Status: checkpoint.GateStatusPass}))
		require.NoError(t, store.CompletePhase(p))
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("progressRoot: %q\n", dir)), 0o644))

	origCfgFile := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = origCfgFile })

	cmd := newResetCmd()
	require.NoError(t, cmd.Flags().Set("phases", "3,4,5"))
	require.NoError(t, runReset(cmd, []string{"42"}))

	reopened, err := checkpoint.Open(path)
	require.NoError(t, err)
	snap := reopened.Snapshot()
	require.True(t, snap.CompletedPhases[1])
	require.True(t, snap.CompletedPhases[2])
	require.False(t, snap.CompletedPhases[3])
	require.False(t, snap.CompletedPhases[4])
	require.False(t, snap.CompletedPhases[5])
}

func TestRunResetRejectsNonNumericIssue(t *testing.T) {
	cmd := newResetCmd()
	err := runReset(cmd, []string{"not-a-number"})
	require.Error(t, err)
}
