// Package settings reads and edits the agent CLI's project settings under
// .claude/. The subprocess only consults these files when the session's
// setting_sources includes "project"; this package also detects the footgun
// where a project ships slash commands but the session has sources disabled.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SettingsDir is the directory the agent CLI reads project settings from.
const SettingsDir = ".claude"

// SettingsFileName is the local (non-committed) settings file.
const SettingsFileName = "settings.local.json"

// CommandsDir holds project slash-command definitions.
const CommandsDir = "commands"

// BuiltinToolPermissions are the allow-list entries camcode's bundled tools
// need so the agent can call them without prompting.
var BuiltinToolPermissions = []string{
	"mcp__cameron-tools__cameron_search",
	"mcp__cameron-tools__cameron_time",
}

// Settings is a loaded settings file. Unknown fields are preserved across
// load and save.
type Settings struct {
	data     map[string]any
	filePath string
}

// New creates empty settings for the given project directory.
func New(projectDir string) *Settings {
	return &Settings{
		data:     make(map[string]any),
		filePath: filepath.Join(projectDir, SettingsDir, SettingsFileName),
	}
}

// Load reads settings from the project directory. A missing file yields
// empty settings, not an error.
func Load(projectDir string) (*Settings, error) {
	s := New(projectDir)

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading settings file %s: %w", s.filePath, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", s.filePath, err)
	}
	return s, nil
}

// FilePath returns the path to the settings file.
func (s *Settings) FilePath() string {
	return s.filePath
}

// Exists reports whether the settings file is on disk.
func (s *Settings) Exists() bool {
	_, err := os.Stat(s.filePath)
	return err == nil
}

func (s *Settings) permissions() map[string]any {
	perms, ok := s.data["permissions"].(map[string]any)
	if !ok {
		perms = make(map[string]any)
		s.data["permissions"] = perms
	}
	return perms
}

// AllowList returns the permissions.allow entries.
func (s *Settings) AllowList() []string {
	return stringSlice(s.permissions()["allow"])
}

// DenyList returns the permissions.deny entries.
func (s *Settings) DenyList() []string {
	return stringSlice(s.permissions()["deny"])
}

func stringSlice(v any) []string {
	slice, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, item := range slice {
		if str, ok := item.(string); ok {
			result = append(result, str)
		}
	}
	return result
}

// HasPermission reports whether perm is in the allow list.
func (s *Settings) HasPermission(perm string) bool {
	for _, p := range s.AllowList() {
		if p == perm {
			return true
		}
	}
	return false
}

// IsDenied reports whether perm is explicitly denied.
func (s *Settings) IsDenied(perm string) bool {
	for _, p := range s.DenyList() {
		if p == perm {
			return true
		}
	}
	return false
}

// AddPermissions adds entries to the allow list, skipping duplicates and
// anything on the deny list. It returns the entries actually added.
func (s *Settings) AddPermissions(permissions []string) []string {
	var added []string
	for _, perm := range permissions {
		if s.HasPermission(perm) || s.IsDenied(perm) {
			continue
		}
		allow := s.AllowList()
		out := make([]any, 0, len(allow)+1)
		for _, p := range allow {
			out = append(out, p)
		}
		out = append(out, perm)
		s.permissions()["allow"] = out
		added = append(added, perm)
	}
	return added
}

// Save writes the settings atomically, creating .claude/ if needed.
func (s *Settings) Save() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing settings: %w", err)
	}
	data = append(data, '\n')

	return atomicWrite(s.filePath, data)
}

// ProjectSlashCommands lists the slash commands defined in the project's
// .claude/commands directory, without the .md extension, sorted.
func ProjectSlashCommands(projectDir string) []string {
	dir := filepath.Join(projectDir, SettingsDir, CommandsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var commands []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		commands = append(commands, "/"+strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(commands)
	return commands
}

// SourcesWarning describes a detected setting-sources hazard.
type SourcesWarning struct {
	Message string
}

// CheckSources detects the silent failure mode where the project defines
// slash commands or settings under .claude/ but the session's
// setting_sources excludes "project": the subprocess will ignore all of it
// without any error.
func CheckSources(settingSources []string, projectDir string) *SourcesWarning {
	for _, source := range settingSources {
		if source == "project" {
			return nil
		}
	}

	commands := ProjectSlashCommands(projectDir)
	hasSettings := New(projectDir).Exists()
	if len(commands) == 0 && !hasSettings {
		return nil
	}

	var what []string
	if len(commands) > 0 {
		what = append(what, fmt.Sprintf("%d slash command(s)", len(commands)))
	}
	if hasSettings {
		what = append(what, "project settings")
	}
	return &SourcesWarning{
		Message: fmt.Sprintf(
			"this project defines %s under %s/ but setting_sources does not include %q; the agent will silently ignore them",
			strings.Join(what, " and "), SettingsDir, "project",
		),
	}
}

// atomicWrite writes data via temp file + rename.
func atomicWrite(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	tmpFile, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", filePath, err)
	}
	tmpPath = ""
	return nil
}
