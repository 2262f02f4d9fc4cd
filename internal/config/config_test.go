package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFiles(t *testing.T) {
	dir := t.TempDir()
	opts, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, opts.MaxParallelIssues)
	assert.Equal(t, "main", opts.Hosting.BaseBranch)
}

func TestLoadProjectOverlayOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
maxParallelIssues: 7
hosting:
  provider: github
  owner: acme
  repo: widgets
`), 0o644))

	opts, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, opts.MaxParallelIssues)
	assert.Equal(t, 2, opts.MaxParallelAgents, "unset fields keep their default")
	assert.Equal(t, "github", opts.Hosting.Provider)
	assert.Equal(t, "acme", opts.Hosting.Owner)
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notAField: true\n"), 0o644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notAField")
}

func TestLoadRejectsUnknownNestedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosting:\n  bogus: true\n"), 0o644))

	_, err := Load(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hosting.bogus")
}

func TestApplyEnvOverridesField(t *testing.T) {
	t.Setenv("CADRE_MAX_PARALLEL_ISSUES", "9")
	t.Setenv("CADRE_DRY_RUN", "true")

	opts := Defaults()
	applyEnv(opts)
	assert.Equal(t, 9, opts.MaxParallelIssues)
	assert.True(t, opts.DryRun)
}
