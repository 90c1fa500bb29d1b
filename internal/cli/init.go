package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/errors"
	"github.com/cameron-labs/camcode/internal/settings"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create the default camcode configuration",
	GroupID: GroupConfiguration,
	Long: `Create .camcode/config.json with default values and pre-authorize the
built-in in-process tools in the project's agent settings so sessions do
not prompt for them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		cfgPath := configPath(cmd)

		if _, err := os.Stat(cfgPath); err == nil && !force {
			return errors.NewConfigError(
				fmt.Sprintf("config file already exists: %s", cfgPath),
				"Use --force to overwrite it with defaults",
			)
		}

		if err := writeDefaultConfig(cfgPath); err != nil {
			return errors.WrapWithMessage(err, errors.Configuration, "writing default config")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("Created"), cfgPath)

		local, err := settings.Load(".")
		if err != nil {
			return errors.WrapWithMessage(err, errors.Configuration, "reading project settings")
		}
		added := local.AddPermissions(settings.BuiltinToolPermissions)
		if len(added) > 0 {
			if err := local.Save(); err != nil {
				return errors.WrapWithMessage(err, errors.Configuration, "writing project settings")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d built-in tool permission(s) in %s\n",
				color.GreenString("Authorized"), len(added), local.FilePath())
		}

		return nil
	},
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config.GetDefaults(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
