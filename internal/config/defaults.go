package config

// GetDefaults returns the default configuration values.
func GetDefaults() map[string]interface{} {
	return map[string]interface{}{
		"agent_cmd":             "claude",
		"agent_args":            []string{},
		"working_dir":           "",
		"setting_sources":       []string{"project"},
		"permission_mode":       "default",
		"max_turns":             20,
		"ask_timeout_seconds":   300,
		"close_timeout_seconds": 5,
		"notify_on_deny":        false,
		"audit_log_path":        "",
	}
}
