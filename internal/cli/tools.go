package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/errors"
	"github.com/cameron-labs/camcode/internal/toolkit"
)

var toolsCmd = &cobra.Command{
	Use:     "tools",
	Short:   "List the tools served over the in-process router",
	GroupID: GroupConfiguration,
	Long: `List the in-process tools a session exposes to the agent: the built-in
tools plus any attached MCP servers.

MCP servers are attached with --mcp name=command [args...], repeatable:

  camcode tools --mcp docs="mcp-docs-server --root ."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpSpecs, _ := cmd.Flags().GetStringArray("mcp")

		router := toolkit.NewRouter()
		if err := toolkit.RegisterBuiltins(router); err != nil {
			return errors.WrapWithMessage(err, errors.Runtime, "registering built-in tools")
		}

		for _, spec := range mcpSpecs {
			name, command, cmdArgs, err := parseMCPSpec(spec)
			if err != nil {
				return err
			}
			server, err := toolkit.AttachMCPServer(cmd.Context(), router, name, command, cmdArgs...)
			if err != nil {
				return errors.WrapWithMessage(err, errors.Prerequisite,
					fmt.Sprintf("attaching MCP server %q", name))
			}
			defer server.Close()
		}

		bold := color.New(color.Bold)
		for _, info := range router.List() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", bold.Sprint(info.QualifiedName))
			if info.Description != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", info.Description)
			}
		}
		return nil
	},
}

// parseMCPSpec splits "name=command arg1 arg2" into its parts.
func parseMCPSpec(spec string) (name, command string, args []string, err error) {
	name, rest, ok := strings.Cut(spec, "=")
	if !ok || name == "" || strings.TrimSpace(rest) == "" {
		return "", "", nil, errors.NewArgumentErrorWithUsage(
			fmt.Sprintf("invalid --mcp value %q", spec),
			"--mcp name=command [args...]",
		)
	}
	fields := strings.Fields(rest)
	return name, fields[0], fields[1:], nil
}

func init() {
	toolsCmd.Flags().StringArray("mcp", nil, "Attach an MCP server: name=command [args...]")
	rootCmd.AddCommand(toolsCmd)
}
