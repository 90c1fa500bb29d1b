// Package cli defines the camcode command-line interface: the interactive
// chat session, provider inspection commands, environment diagnostics, and
// configuration bootstrap.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/config"
)

// Command group IDs for organizing help output.
const (
	GroupSession       = "session"
	GroupConfiguration = "configuration"
)

var rootCmd = &cobra.Command{
	Use:   "camcode",
	Short: "camcode agent session harness",
	Long: `camcode agent session harness

Drives a stream-JSON CLI agent as a supervised subprocess: provider
redirection, hook and permission pipeline on every tool invocation,
in-process tools served over the control channel, and an append-only
audit trail.`,
	Example: `  # Start an interactive session against the default provider
  camcode chat

  # One-shot prompt through DeepSeek
  camcode chat --provider deepseek -p "Summarize this repo"

  # Inspect provider configuration
  camcode providers list
  camcode providers env glm

  # Verify the environment is ready
  camcode doctor`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: GroupSession, Title: "Session:"})
	rootCmd.AddGroup(&cobra.Group{ID: GroupConfiguration, Title: "Configuration:"})

	rootCmd.SetHelpCommandGroupID(GroupConfiguration)
	rootCmd.SetCompletionCommandGroupID(GroupConfiguration)

	rootCmd.PersistentFlags().StringP("config", "c",
		filepath.Join(config.ConfigDirName, config.ConfigFileName),
		"Path to config file")
}

// configPath reads the persistent --config flag.
func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}
