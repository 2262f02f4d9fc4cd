package gate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestAnalysisToPlanningPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Requirements\nDo the thing.\n\n## Change Type\nFeature\n\n## Scope\nsrc/a.ts\n")
	writeFile(t, dir, "scout-report.md", "Found src/a.ts and src/b.ts\n")

	result := AnalysisToPlanning(dir)
	assert.Equal(t, checkpoint.GateStatusPass, result.Status)
}

func TestAnalysisToPlanningFailsOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Requirements\nx\n")

	result := AnalysisToPlanning(dir)
	assert.Equal(t, checkpoint.GateStatusFail, result.Status)
}

func TestAnalysisToPlanningFailsOnEmptySection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Requirements\n\n## Change Type\nFeature\n\n## Scope\nsrc/a.ts\n")
	writeFile(t, dir, "scout-report.md", "src/a.ts\n")

	result := AnalysisToPlanning(dir)
	assert.Equal(t, checkpoint.GateStatusFail, result.Status)
	assert.Contains(t, result.Errors[0], "Requirements")
}

func TestExtractAmbiguities(t *testing.T) {
	md := "# Analysis\n\n## Ambiguities\n- first thing\n- second thing\n\n## Next Section\nprose\n"
	items := ExtractAmbiguities(md)
	assert.Equal(t, []string{"first thing", "second thing"}, items)
}

func TestAmbiguityPassesUnderThreshold(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Ambiguities\n- one\n")
	result := Ambiguity(dir, 2, true)
	assert.Equal(t, checkpoint.GateStatusPass, result.Status)
}

func TestAmbiguityFailsOverThresholdWithHalt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Ambiguities\n- one\n- two\n- three\n")
	result := Ambiguity(dir, 2, true)
	assert.Equal(t, checkpoint.GateStatusFail, result.Status)
}

func TestAmbiguityWarnsOverThresholdWithoutHalt(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "analysis.md", "## Ambiguities\n- one\n- two\n- three\n")
	result := Ambiguity(dir, 2, false)
	assert.Equal(t, checkpoint.GateStatusWarn, result.Status)
}

func TestPlanningToImplFailsOnMissingPlan(t *testing.T) {
	dir := t.TempDir()
	result := PlanningToImpl(dir, "")
	assert.Equal(t, checkpoint.GateStatusFail, result.Status)
}

func TestPlanningToImplWarnsOnMissingReferencedFile(t *testing.T) {
	dir := t.TempDir()
	worktree := t.TempDir()
	plan := "```json cadre-tasks\n{\"tasks\":[{\"id\":\"t1\",\"description\":\"d\",\"files\":[\"missing.ts\"],\"acceptanceCriteria\":[\"c\"]}]}\n```"
	writeFile(t, dir, "implementation-plan.md", plan)

	result := PlanningToImpl(dir, worktree)
	assert.Equal(t, checkpoint.GateStatusWarn, result.Status)
}

func TestPlanningToImplPassesWhenFilesExist(t *testing.T) {
	dir := t.TempDir()
	worktree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(worktree, "a.ts"), []byte("x"), 0o644))
	plan := "```json cadre-tasks\n{\"tasks\":[{\"id\":\"t1\",\"description\":\"d\",\"files\":[\"a.ts\"],\"acceptanceCriteria\":[\"c\"]}]}\n```"
	writeFile(t, dir, "implementation-plan.md", plan)

	result := PlanningToImpl(dir, worktree)
	assert.Equal(t, checkpoint.GateStatusPass, result.Status)
}

func TestIntegrationToPRFailsOnRegressions(t *testing.T) {
	dir := t.TempDir()
	report := "## Build\n**Status:** pass\n\n## New Regressions\nTestFoo failed\n\n## Pre-existing Failures\n_None_\n"
	writeFile(t, dir, "integration-report.md", report)

	result := IntegrationToPR(dir)
	assert.Equal(t, checkpoint.GateStatusFail, result.Status)
}

func TestIntegrationToPRPassesWhenClean(t *testing.T) {
	dir := t.TempDir()
	report := "## Build\n**Status:** pass\n\n## New Regressions\n_None_\n\n## Pre-existing Failures\n_None_\n"
	writeFile(t, dir, "integration-report.md", report)

	result := IntegrationToPR(dir)
	assert.Equal(t, checkpoint.GateStatusPass, result.Status)
}

func TestIntegrationToPRWarnsOnPreexisting(t *testing.T) {
	dir := t.TempDir()
	report := "## Build\n**Status:** pass\n\n## New Regressions\n_None_\n\n## Pre-existing Failures\nTestBar\n"
	writeFile(t, dir, "integration-report.md", report)

	result := IntegrationToPR(dir)
	assert.Equal(t, checkpoint.GateStatusWarn, result.Status)
}

func TestMergeTakesWorstStatus(t *testing.T) {
	merged := Merge(pass(), warn("careful"), pass())
	assert.Equal(t, checkpoint.GateStatusWarn, merged.Status)
	assert.Contains(t, merged.Warnings, "careful")

	merged = Merge(pass(), warn("careful"), fail("bad"))
	assert.Equal(t, checkpoint.GateStatusFail, merged.Status)
	assert.Contains(t, merged.Warnings, "careful")
	assert.Contains(t, merged.Errors, "bad")
}
