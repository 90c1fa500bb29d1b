package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/errors"
	"github.com/cameron-labs/camcode/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:     "providers",
	Short:   "Inspect and configure agent backend providers",
	GroupID: GroupConfiguration,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		officialOnly, _ := cmd.Flags().GetBool("official")

		registry := provider.NewRegistry()
		name := color.New(color.Bold)
		official := color.New(color.FgGreen)
		community := color.New(color.FgYellow)

		for _, p := range registry.List(officialOnly) {
			badge := community.Sprint("community")
			if p.Official {
				badge = official.Sprint("official")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) — %s\n", name.Sprint(p.Name), badge, p.Description)
			if p.BaseURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    endpoint: %s\n", p.BaseURL)
			}
			if p.DefaultModel != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    default model: %s\n", p.DefaultModel)
			}
		}
		return nil
	},
}

var providersEnvCmd = &cobra.Command{
	Use:   "env <provider>",
	Short: "Print shell exports for configuring a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := provider.NewRegistry()
		snippet, err := registry.EnvExample(args[0])
		if err != nil {
			return errors.UnknownProvider(args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), snippet)
		return nil
	},
}

var providersCurrentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the provider the current environment selects",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := provider.NewRegistry()
		info := registry.CurrentFromEnv()

		fmt.Fprintf(cmd.OutOrStdout(), "Provider: %s (%s)\n", info.DisplayName, info.Name)
		if info.Description != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Description: %s\n", info.Description)
		}
		if info.BaseURL != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Endpoint: %s\n", info.BaseURL)
		}
		if info.Model != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Model: %s\n", info.Model)
		}
		return nil
	},
}

func init() {
	providersListCmd.Flags().Bool("official", false, "Show only first-party providers")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersEnvCmd)
	providersCmd.AddCommand(providersCurrentCmd)
	rootCmd.AddCommand(providersCmd)
}
