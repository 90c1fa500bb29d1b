// Package config loads and validates the camcode session configuration.
// Priority: environment variables > local config > global config > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Session is the effective configuration for one agent session. It is built
// once before the session starts and treated as immutable afterwards;
// switching providers at runtime produces a new Session via the provider
// overlay rather than mutating a live one.
type Session struct {
	// AgentCmd is the agent CLI binary launched as the subprocess.
	AgentCmd string `koanf:"agent_cmd" validate:"required"`
	// AgentArgs are extra arguments appended after the protocol flags.
	AgentArgs []string `koanf:"agent_args"`

	// WorkingDir is the session working directory. Empty means the
	// detected workspace root, falling back to the current directory.
	WorkingDir string `koanf:"working_dir"`

	// SettingSources lists the configuration locations the subprocess may
	// read ("user", "project", "local"). Leaving it empty is valid but
	// disables slash commands and project settings — a documented footgun,
	// not an error.
	SettingSources []string `koanf:"setting_sources" validate:"omitempty,dive,oneof=user project local"`

	PermissionMode string `koanf:"permission_mode" validate:"omitempty,oneof=default acceptEdits plan bypassPermissions"`

	// Model, BaseURL and AuthToken are the provider connection overrides.
	// They are usually populated by the provider overlay, not by hand.
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url" validate:"omitempty,url"`
	AuthToken string `koanf:"auth_token"`

	MaxTurns     int      `koanf:"max_turns" validate:"omitempty,min=1,max=1000"`
	AllowedTools []string `koanf:"allowed_tools"`

	// Env is passed through to the subprocess environment verbatim.
	Env map[string]string `koanf:"env"`

	// AskTimeoutSeconds bounds how long a permission "ask" may wait for a
	// decision before resolving to deny.
	AskTimeoutSeconds int `koanf:"ask_timeout_seconds" validate:"omitempty,min=1,max=3600"`

	// CloseTimeoutSeconds bounds the graceful-shutdown wait before the
	// subprocess is force-terminated.
	CloseTimeoutSeconds int `koanf:"close_timeout_seconds" validate:"omitempty,min=1,max=300"`

	// NotifyOnDeny enables a desktop notification post-hook for denied
	// tool invocations.
	NotifyOnDeny bool `koanf:"notify_on_deny"`

	// AuditLogPath, when set, persists audit records as JSON lines.
	AuditLogPath string `koanf:"audit_log_path"`
}

// ConfigDirName is the per-project and per-user configuration directory.
const ConfigDirName = ".camcode"

// ConfigFileName is the configuration file inside ConfigDirName.
const ConfigFileName = "config.json"

// Load reads configuration from global, local, and environment sources.
func Load(localConfigPath string) (*Session, error) {
	k := koanf.New(".")

	for key, value := range GetDefaults() {
		k.Set(key, value)
	}

	// Global config, if present.
	if homeDir, err := os.UserHomeDir(); err == nil {
		globalPath := filepath.Join(homeDir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(globalPath); err == nil {
			if err := k.Load(file.Provider(globalPath), json.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load global config: %w", err)
			}
		}
	}

	// Local config, if present.
	if localConfigPath != "" {
		if _, err := os.Stat(localConfigPath); err == nil {
			if err := k.Load(file.Provider(localConfigPath), json.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load local config: %w", err)
			}
		}
	}

	// Environment variables win.
	k.Load(env.Provider("CAMCODE_", ".", envTransform), nil)

	var cfg Session
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.WorkingDir = expandHomePath(cfg.WorkingDir)
	cfg.AuditLogPath = expandHomePath(cfg.AuditLogPath)

	return &cfg, nil
}

// Validate checks structural constraints on a Session.
func Validate(cfg *Session) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Clone returns a deep copy. The provider overlay builds on a clone so
// applying a provider never mutates the base configuration.
func (s Session) Clone() Session {
	out := s
	out.AgentArgs = append([]string(nil), s.AgentArgs...)
	out.SettingSources = append([]string(nil), s.SettingSources...)
	out.AllowedTools = append([]string(nil), s.AllowedTools...)
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}

// envTransform converts environment variable names to config keys.
// Example: CAMCODE_PERMISSION_MODE -> permission_mode
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, "CAMCODE_"))
}

// expandHomePath expands ~ to the user's home directory.
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
