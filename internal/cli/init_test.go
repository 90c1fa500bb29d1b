package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/errors"
	"github.com/cameron-labs/camcode/internal/settings"
)

// execute runs the root command with args and restores the argument state.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

func TestInitCreatesConfigAndPermissions(t *testing.T) {
	// No t.Parallel() - changes the working directory
	tmp := t.TempDir()
	t.Chdir(tmp)
	cfgPath := filepath.Join(tmp, config.ConfigDirName, config.ConfigFileName)

	require.NoError(t, execute(t, "init", "--config", cfgPath))

	// The written config must load and validate.
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.AgentCmd)
	assert.Equal(t, []string{"project"}, cfg.SettingSources)

	// The built-in tools must be pre-authorized in the project settings.
	local, err := settings.Load(tmp)
	require.NoError(t, err)
	for _, perm := range settings.BuiltinToolPermissions {
		assert.True(t, local.HasPermission(perm), "missing permission %s", perm)
	}
}

func TestInitRefusesToOverwrite(t *testing.T) {
	// No t.Parallel() - changes the working directory
	tmp := t.TempDir()
	t.Chdir(tmp)
	cfgPath := filepath.Join(tmp, config.ConfigDirName, config.ConfigFileName)

	require.NoError(t, execute(t, "init", "--config", cfgPath))

	err := execute(t, "init", "--config", cfgPath)
	require.Error(t, err)
	cliErr := errors.AsCLIError(err)
	require.NotNil(t, cliErr)
	assert.Equal(t, errors.Configuration, cliErr.Category)

	require.NoError(t, execute(t, "init", "--config", cfgPath, "--force"))
}

func TestWriteDefaultConfigCreatesParentDirs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	require.NoError(t, writeDefaultConfig(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
