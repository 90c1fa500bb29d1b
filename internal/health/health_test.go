package health

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/workspace"
)

func TestCheckAgentCLI(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		agentCmd   string
		wantPassed bool
	}{
		"binary on path": {agentCmd: "sh", wantPassed: true},
		"missing binary": {agentCmd: "definitely-not-a-real-binary-xyz", wantPassed: false},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			result := CheckAgentCLI(tc.agentCmd)
			assert.Equal(t, tc.wantPassed, result.Passed)
			assert.Equal(t, "Agent CLI", result.Name)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()

	ok := CheckConfig(&config.Session{AgentCmd: "sh"}, nil)
	assert.True(t, ok.Passed)

	failed := CheckConfig(nil, assert.AnError)
	assert.False(t, failed.Passed)
	assert.False(t, failed.Warning)
	assert.Contains(t, failed.Message, "configuration invalid")
}

func TestCheckWorkspaceOutsideRepo(t *testing.T) {
	t.Parallel()

	result := CheckWorkspace(workspace.Detect(t.TempDir()))
	assert.False(t, result.Passed)
	assert.True(t, result.Warning, "non-repo workspace must be a warning, not a failure")
}

func TestCheckSettingSourcesFootgun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	commandsDir := filepath.Join(dir, ".claude", "commands")
	require.NoError(t, os.MkdirAll(commandsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(commandsDir, "review.md"), []byte("# review"), 0o644))

	missing := CheckSettingSources([]string{"user"}, dir)
	assert.False(t, missing.Passed)
	assert.True(t, missing.Warning)
	assert.Contains(t, missing.Message, "silently ignore")

	covered := CheckSettingSources([]string{"user", "project"}, dir)
	assert.True(t, covered.Passed)
}

func TestRunHealthChecksStopsAfterConfigFailure(t *testing.T) {
	t.Parallel()

	report := RunHealthChecks(nil, assert.AnError)
	require.Len(t, report.Checks, 1)
	assert.False(t, report.Passed)
}

func TestRunHealthChecksWarningsDoNotFail(t *testing.T) {
	t.Parallel()

	cfg := &config.Session{
		AgentCmd:       "sh",
		WorkingDir:     t.TempDir(),
		SettingSources: []string{"project"},
	}
	report := RunHealthChecks(cfg, nil)

	assert.True(t, report.Passed)
	require.Len(t, report.Checks, 4)
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	report := &HealthReport{
		Checks: []CheckResult{
			{Name: "A", Passed: true, Message: "fine"},
			{Name: "B", Warning: true, Message: "heads up"},
			{Name: "C", Message: "broken"},
		},
	}

	output := FormatReport(report)
	assert.Contains(t, output, "✓ A: fine")
	assert.Contains(t, output, "! B: heads up")
	assert.Contains(t, output, "✗ C: broken")
}
