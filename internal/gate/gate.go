// Package gate implements the Phase Gate Library: pure validators that
// read progress-dir artifacts and the worktree, returning a tagged
// pass/warn/fail result with messages.
package gate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/randalmurphal/cadre/internal/checkpoint"
	"github.com/randalmurphal/cadre/internal/git"
	"github.com/randalmurphal/cadre/internal/task"
)

// Result is the outcome of evaluating one gate, before merging with
// sibling gates attached to the same phase.
type Result struct {
	Status   checkpoint.GateStatus
	Warnings []string
	Errors   []string
}

func pass() Result { return Result{Status: checkpoint.GateStatusPass} }

func warn(msgs ...string) Result {
	return Result{Status: checkpoint.GateStatusWarn, Warnings: msgs}
}

func fail(msgs ...string) Result {
	return Result{Status: checkpoint.GateStatusFail, Errors: msgs}
}

// Merge combines results from all gates attached to one phase: fail if
// any fails, else warn if any warns, else pass. Warnings and errors from
// every result are concatenated regardless of the merged status, so a
// warn result can still carry errors aggregated from a sibling gate.
func Merge(results ...Result) checkpoint.GateResult {
	merged := checkpoint.GateResult{Status: checkpoint.GateStatusPass}
	for _, r := range results {
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		merged.Errors = append(merged.Errors, r.Errors...)
		switch r.Status {
		case checkpoint.GateStatusFail:
			merged.Status = checkpoint.GateStatusFail
		case checkpoint.GateStatusWarn:
			if merged.Status != checkpoint.GateStatusFail {
				merged.Status = checkpoint.GateStatusWarn
			}
		}
	}
	return merged
}

func readFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// --- Analysis -> Planning ---

// AnalysisToPlanning requires analysis.md and scout-report.md to exist,
// analysis.md to have non-empty requirements/change-type/scope sections,
// and scout-report.md to list at least one file path.
func AnalysisToPlanning(progressDir string) Result {
	analysis, ok := readFile(filepath.Join(progressDir, "analysis.md"))
	if !ok {
		return fail("analysis.md is missing")
	}
	scout, ok := readFile(filepath.Join(progressDir, "scout-report.md"))
	if !ok {
		return fail("scout-report.md is missing")
	}

	var errs []string
	for _, section := range []string{"Requirements", "Change Type", "Scope"} {
		if body := sectionBody(analysis, section); strings.TrimSpace(body) == "" {
			errs = append(errs, fmt.Sprintf("analysis.md has an empty or missing %q section", section))
		}
	}
	if !hasFilePath(scout) {
		errs = append(errs, "scout-report.md lists no file paths")
	}
	if len(errs) > 0 {
		return fail(errs...)
	}
	return pass()
}

var filePathPattern = regexp.MustCompile(`[\w./-]+\.\w+`)

func hasFilePath(text string) bool {
	return filePathPattern.MatchString(text)
}

// SectionBody exposes sectionBody for callers outside this package that
// need to read an analysis.md section directly, e.g. the orchestrator's
// scope lookup ahead of Phase 2 planning.
func SectionBody(markdown, name string) string {
	return sectionBody(markdown, name)
}

// --- Ambiguity ---

var sectionHeading = regexp.MustCompile(`(?m)^##\s+(.+)$`)

// sectionBody returns the text between a "## <name>" heading (matched
// case-insensitively, ignoring leading/trailing space) and the next
// "## " heading or end of document.
func sectionBody(markdown, name string) string {
	locs := sectionHeading.FindAllStringSubmatchIndex(markdown, -1)
	for i, loc := range locs {
		heading := strings.TrimSpace(markdown[loc[2]:loc[3]])
		if !strings.EqualFold(heading, name) {
			continue
		}
		start := loc[1]
		end := len(markdown)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		return markdown[start:end]
	}
	return ""
}

var bulletPattern = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)

// ExtractAmbiguities returns the bulleted items under "## Ambiguities" in
// analysis.md, used both by the Ambiguity gate and by the orchestrator's
// halt check.
func ExtractAmbiguities(analysisMarkdown string) []string {
	body := sectionBody(analysisMarkdown, "Ambiguities")
	if strings.TrimSpace(body) == "" {
		return nil
	}
	matches := bulletPattern.FindAllStringSubmatch(body, -1)
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		items = append(items, strings.TrimSpace(m[1]))
	}
	return items
}

// Ambiguity counts the items under analysis.md's "## Ambiguities"
// section. It passes when analysis.md is missing or the count is at most
// threshold; above threshold it fails when haltOnAmbiguity is set and
// warns otherwise.
func Ambiguity(progressDir string, threshold int, haltOnAmbiguity bool) Result {
	analysis, ok := readFile(filepath.Join(progressDir, "analysis.md"))
	if !ok {
		return pass()
	}
	items := ExtractAmbiguities(analysis)
	if len(items) <= threshold {
		return pass()
	}
	msg := fmt.Sprintf("%d ambiguities exceed threshold %d", len(items), threshold)
	if haltOnAmbiguity {
		return fail(msg)
	}
	return warn(msg)
}

// --- Planning -> Implementation ---

// PlanningToImpl parses implementation-plan.md's tagged task list and
// checks each task references files that exist in the worktree, warning
// (not failing) on missing referenced files.
func PlanningToImpl(progressDir, worktreePath string) Result {
	plan, ok := readFile(filepath.Join(progressDir, "implementation-plan.md"))
	if !ok {
		return fail("implementation-plan.md is missing")
	}

	tasks, err := task.ParsePlan(plan)
	if err != nil {
		return fail(err.Error())
	}

	var warnings []string
	for _, t := range tasks {
		for _, f := range t.Files {
			if worktreePath == "" {
				continue
			}
			if _, err := os.Stat(filepath.Join(worktreePath, f)); err != nil {
				warnings = append(warnings, fmt.Sprintf("task %s references missing file %s", t.ID, f))
			}
		}
	}
	if len(warnings) > 0 {
		return warn(warnings...)
	}
	return pass()
}

// --- Implementation -> Integration Verification ---

// ImplToIntegration fails when the diff since baseCommit is empty, and
// warns+passes when the diff command itself errors (a missing baseline
// is treated as advisory, not fatal).
func ImplToIntegration(repo *git.Repo, baseCommit string) Result {
	diff, err := repo.DiffSince(baseCommit)
	if err != nil {
		return warn(fmt.Sprintf("could not compute diff since %s: %v", baseCommit, err))
	}
	if strings.TrimSpace(diff) == "" {
		return fail("no changes since baseline commit")
	}
	return pass()
}

// --- Integration Verification -> Pull Request ---

// IntegrationToPR requires integration-report.md to exist with no content
// under "## New Regressions"; a missing build/test status section warns,
// and non-empty "## Pre-existing Failures" warns.
func IntegrationToPR(progressDir string) Result {
	report, ok := readFile(filepath.Join(progressDir, "integration-report.md"))
	if !ok {
		return fail("integration-report.md is missing")
	}

	var warnings, errs []string

	regressions := strings.TrimSpace(sectionBody(report, "New Regressions"))
	if regressions != "" && !isNoneMarker(regressions) {
		errs = append(errs, "new regressions present: "+regressions)
	}

	if !strings.Contains(report, "**Status:**") {
		warnings = append(warnings, "integration-report.md has no build/test status section")
	}

	preexisting := strings.TrimSpace(sectionBody(report, "Pre-existing Failures"))
	if preexisting != "" && !isNoneMarker(preexisting) {
		warnings = append(warnings, "pre-existing failures reported: "+preexisting)
	}

	if len(errs) > 0 {
		return Result{Status: checkpoint.GateStatusFail, Errors: errs, Warnings: warnings}
	}
	if len(warnings) > 0 {
		return warn(warnings...)
	}
	return pass()
}

func isNoneMarker(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), "_None_")
}
