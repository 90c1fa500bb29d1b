// Package health runs environment diagnostics for the camcode CLI: the
// agent binary, the effective configuration, the workspace, and the
// project's agent setting sources.
package health

import (
	"fmt"
	"os/exec"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/settings"
	"github.com/cameron-labs/camcode/internal/workspace"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string
	Passed  bool
	Warning bool
	Message string
}

// HealthReport contains all health check results.
type HealthReport struct {
	Checks []CheckResult
	Passed bool
}

// RunHealthChecks runs all health checks and returns a report. cfg may be
// nil when configuration loading itself failed; cfgErr carries that error.
func RunHealthChecks(cfg *config.Session, cfgErr error) *HealthReport {
	report := &HealthReport{Passed: true}

	add := func(c CheckResult) {
		report.Checks = append(report.Checks, c)
		if !c.Passed && !c.Warning {
			report.Passed = false
		}
	}

	add(CheckConfig(cfg, cfgErr))
	if cfg == nil {
		return report
	}

	add(CheckAgentCLI(cfg.AgentCmd))

	ws := workspace.Detect(cfg.WorkingDir)
	add(CheckWorkspace(ws))
	add(CheckSettingSources(cfg.SettingSources, ws.Root))

	return report
}

// CheckConfig reports whether the configuration loaded and validated.
func CheckConfig(cfg *config.Session, cfgErr error) CheckResult {
	if cfgErr != nil {
		return CheckResult{
			Name:    "Configuration",
			Passed:  false,
			Message: fmt.Sprintf("configuration invalid: %v", cfgErr),
		}
	}
	return CheckResult{
		Name:    "Configuration",
		Passed:  true,
		Message: "configuration loaded",
	}
}

// CheckAgentCLI checks that the agent CLI binary is on PATH.
func CheckAgentCLI(agentCmd string) CheckResult {
	if _, err := exec.LookPath(agentCmd); err != nil {
		return CheckResult{
			Name:    "Agent CLI",
			Passed:  false,
			Message: fmt.Sprintf("agent CLI %q not found in PATH", agentCmd),
		}
	}
	return CheckResult{
		Name:    "Agent CLI",
		Passed:  true,
		Message: fmt.Sprintf("agent CLI %q found", agentCmd),
	}
}

// CheckWorkspace reports the detected workspace. A missing git repository
// is a warning, not a failure: sessions run fine outside version control.
func CheckWorkspace(ws workspace.Info) CheckResult {
	if !ws.IsRepo {
		return CheckResult{
			Name:    "Workspace",
			Passed:  false,
			Warning: true,
			Message: fmt.Sprintf("%s is not a git repository", ws.Root),
		}
	}
	return CheckResult{
		Name:    "Workspace",
		Passed:  true,
		Message: ws.Describe(),
	}
}

// CheckSettingSources surfaces the setting-sources footgun: project slash
// commands or settings exist but the session is not configured to load
// them. A warning, never a failure.
func CheckSettingSources(sources []string, projectDir string) CheckResult {
	warning := settings.CheckSources(sources, projectDir)
	if warning != nil {
		return CheckResult{
			Name:    "Setting sources",
			Passed:  false,
			Warning: true,
			Message: warning.Message,
		}
	}
	return CheckResult{
		Name:    "Setting sources",
		Passed:  true,
		Message: "setting sources cover the project configuration",
	}
}

// FormatReport formats the health report for console output.
func FormatReport(report *HealthReport) string {
	var output string

	for _, check := range report.Checks {
		switch {
		case check.Passed:
			output += fmt.Sprintf("✓ %s: %s\n", check.Name, check.Message)
		case check.Warning:
			output += fmt.Sprintf("! %s: %s\n", check.Name, check.Message)
		default:
			output += fmt.Sprintf("✗ %s: %s\n", check.Name, check.Message)
		}
	}

	return output
}
