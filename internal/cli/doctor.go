package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/health"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run health checks for camcode prerequisites",
	GroupID: GroupConfiguration,
	Long: `Run health checks to verify the environment is ready for a session.

This command checks:
  - the effective configuration loads and validates
  - the agent CLI binary is on PATH
  - the workspace (git repository detection)
  - the setting-sources configuration against the project's .claude/ files

Each check displays ✓ if passed, ! for a warning, or ✗ with an error.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cfgErr := config.Load(configPath(cmd))

		report := health.RunHealthChecks(cfg, cfgErr)
		fmt.Fprint(cmd.OutOrStdout(), health.FormatReport(report))

		if !report.Passed {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
