package errors

import "fmt"

// AgentCliNotFound reports that the agent CLI binary is not on PATH.
func AgentCliNotFound(cmd string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("agent CLI %q not found in PATH", cmd),
		"Install the agent CLI (npm install -g @anthropic-ai/claude-code)",
		"Or point agent_cmd in your config at the correct binary",
	)
}

// AgentCliError wraps a failure reported by the agent subprocess.
func AgentCliError(err error) *CLIError {
	return WrapWithMessage(err, Runtime, "agent CLI failed")
}

// ConfigFileNotFound reports a missing config file.
func ConfigFileNotFound(path string) *CLIError {
	return NewConfigError(
		fmt.Sprintf("config file not found: %s", path),
		"Run 'camcode init' to create a default configuration",
	)
}

// ConfigParseError wraps a config parsing failure.
func ConfigParseError(path string, err error) *CLIError {
	cliErr := WrapWithMessage(err, Configuration, fmt.Sprintf("failed to parse %s", path))
	cliErr.Remediation = []string{
		"Check the file for JSON syntax errors",
		"Run 'camcode init --force' to regenerate the default config",
	}
	return cliErr
}

// UnknownProvider reports an unregistered provider name.
func UnknownProvider(name string) *CLIError {
	return NewArgumentError(
		fmt.Sprintf("unknown provider: %s", name),
		"Run 'camcode providers list' to see registered providers",
		"Custom providers can be added in the config file",
	)
}

// MissingAPIKey reports an absent auth-token environment variable.
func MissingAPIKey(provider, envVar string) *CLIError {
	return NewConfigError(
		fmt.Sprintf("provider %q requires an API key but %s is not set", provider, envVar),
		fmt.Sprintf("export %s=\"your-api-key\"", envVar),
		fmt.Sprintf("Run 'camcode providers env %s' for a full setup snippet", provider),
	)
}

// WorkspaceNotFound reports a missing working directory.
func WorkspaceNotFound(path string) *CLIError {
	return NewPrerequisiteError(
		fmt.Sprintf("working directory does not exist: %s", path),
		"Check the working_dir setting in your config",
	)
}

// SessionNotConnected reports an operation attempted before Connect.
func SessionNotConnected() *CLIError {
	return NewRuntimeError(
		"session is not connected",
		"Call Connect before sending queries",
	)
}

// InvalidFlagCombination reports mutually exclusive flags.
func InvalidFlagCombination(flags, reason string) *CLIError {
	return NewArgumentError(
		fmt.Sprintf("invalid flag combination %s: %s", flags, reason),
	)
}

// TimeoutError reports that an operation exceeded its deadline.
func TimeoutError(duration, operation string) *CLIError {
	return NewRuntimeError(
		fmt.Sprintf("timed out after %s: %s", duration, operation),
		"Increase the timeout in your config if the operation legitimately needs longer",
	)
}

// SettingSourcesUnset warns about the documented slash-command footgun.
func SettingSourcesUnset() *CLIError {
	return NewConfigError(
		"setting_sources is empty: slash commands and project settings are disabled",
		`Set setting_sources to ["user","project"] (or a subset) in your config`,
	)
}
