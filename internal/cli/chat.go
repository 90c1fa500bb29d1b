package cli

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cameron-labs/camcode/internal/audit"
	"github.com/cameron-labs/camcode/internal/client"
	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/errors"
	"github.com/cameron-labs/camcode/internal/notify"
	"github.com/cameron-labs/camcode/internal/pipeline"
	"github.com/cameron-labs/camcode/internal/progress"
	"github.com/cameron-labs/camcode/internal/protocol"
	"github.com/cameron-labs/camcode/internal/provider"
	"github.com/cameron-labs/camcode/internal/settings"
	"github.com/cameron-labs/camcode/internal/toolkit"
	"github.com/cameron-labs/camcode/internal/transport"
	"github.com/cameron-labs/camcode/internal/workspace"
)

var chatCmd = &cobra.Command{
	Use:     "chat",
	Short:   "Start an agent session",
	GroupID: GroupSession,
	Long: `Start a supervised agent session.

Without -p the command runs an interactive loop; each line is sent as a
prompt. In-session commands:

  /provider <name>   switch the backend provider mid-session
  /tools             list the in-process tools
  /commands          list the agent's slash commands
  /exit              end the session

With -p the prompt is sent once and the command exits after the response.`,
	Example: `  camcode chat
  camcode chat --provider glm
  camcode chat -p "Explain the build failure" --approve-tools`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("provider", "anthropic", "Backend provider name")
	chatCmd.Flags().String("model", "", "Model override")
	chatCmd.Flags().String("api-key", "", "API key (defaults to the provider's env var)")
	chatCmd.Flags().StringP("prompt", "p", "", "Send a single prompt and exit")
	chatCmd.Flags().Bool("approve-tools", false, "Prompt before each tool invocation")
	chatCmd.Flags().StringArray("mcp", nil, "Attach an MCP server: name=command [args...]")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	providerName, _ := cmd.Flags().GetString("provider")
	modelOverride, _ := cmd.Flags().GetString("model")
	apiKey, _ := cmd.Flags().GetString("api-key")
	oneShot, _ := cmd.Flags().GetString("prompt")
	approveTools, _ := cmd.Flags().GetBool("approve-tools")
	mcpSpecs, _ := cmd.Flags().GetStringArray("mcp")

	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return errors.Wrap(err, errors.Configuration,
			"Run 'camcode doctor' to diagnose the configuration")
	}

	ws := workspace.Detect(cfg.WorkingDir)
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = ws.Root
	}

	if warning := settings.CheckSources(cfg.SettingSources, cfg.WorkingDir); warning != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.YellowString("warning:"), warning.Message)
	}

	sink, closeAudit := newAuditSink(cfg)
	defer closeAudit()

	router := toolkit.NewRouter()
	if err := toolkit.RegisterBuiltins(router); err != nil {
		return errors.WrapWithMessage(err, errors.Runtime, "registering built-in tools")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	for _, spec := range mcpSpecs {
		name, command, cmdArgs, err := parseMCPSpec(spec)
		if err != nil {
			return err
		}
		server, err := toolkit.AttachMCPServer(ctx, router, name, command, cmdArgs...)
		if err != nil {
			return errors.WrapWithMessage(err, errors.Prerequisite,
				fmt.Sprintf("attaching MCP server %q", name))
		}
		defer server.Close()
	}

	display := progress.NewTurnDisplay(progress.DetectTerminalCapabilities())
	stdin := bufio.NewReader(cmd.InOrStdin())

	pipe := pipeline.New(sink, pipelineOptions(cfg, approveTools, display, stdin, cmd.ErrOrStderr())...)

	cl := client.New(*cfg, provider.NewRegistry(), router, sink, pipe)
	if err := cl.Connect(ctx, providerName, apiKey, modelOverride); err != nil {
		return connectError(providerName, cfg.AgentCmd, err)
	}
	defer cl.Close()

	printBanner(cmd.ErrOrStderr(), cl, ws)

	if oneShot != "" {
		return runTurn(ctx, cl, display, cmd.OutOrStdout(), oneShot)
	}

	return repl(ctx, cl, router, display, stdin, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// newAuditSink builds the session audit sink, persisting to JSONL when the
// configuration names a path.
func newAuditSink(cfg *config.Session) (*audit.Sink, func()) {
	if cfg.AuditLogPath == "" {
		return audit.NewSink(nil), func() {}
	}
	writer := audit.NewFileWriter(cfg.AuditLogPath)
	return audit.NewSink(writer), func() { writer.Close() }
}

// pipelineOptions assembles the session pipeline: the dangerous-command
// guard (optionally wrapping terminal approval), the ask timeout from
// config, and the deny notification post-hook.
func pipelineOptions(cfg *config.Session, approveTools bool, display *progress.TurnDisplay, stdin *bufio.Reader, errOut io.Writer) []pipeline.Option {
	var approval pipeline.PermissionFunc
	if approveTools {
		approval = terminalApproval(display, stdin, errOut)
	}

	opts := []pipeline.Option{
		pipeline.WithPermission(pipeline.GuardedPermission(approval)),
	}

	if cfg.AskTimeoutSeconds > 0 {
		opts = append(opts, pipeline.WithAskTimeout(time.Duration(cfg.AskTimeoutSeconds)*time.Second))
	}

	if cfg.NotifyOnDeny {
		handler := notify.NewHandler(notify.DefaultConfig())
		opts = append(opts, pipeline.WithPostHooks(func(ctx context.Context, inv *protocol.ToolInvocation, outcome string) {
			if strings.HasPrefix(outcome, "deny") || strings.HasPrefix(outcome, "denied") {
				handler.OnToolDenied(inv.ToolName, outcome)
			}
		}))
	}

	return opts
}

// terminalApproval prompts on the terminal for each tool invocation the
// guard passes. Prompts only occur mid-turn, while the REPL loop is not
// reading stdin; the mutex serializes concurrent invocations.
func terminalApproval(display *progress.TurnDisplay, stdin *bufio.Reader, out io.Writer) pipeline.PermissionFunc {
	var mu sync.Mutex
	return func(ctx context.Context, toolName string, input map[string]any) pipeline.PermissionDecision {
		mu.Lock()
		defer mu.Unlock()

		paused := display.Pause()
		defer func() {
			if paused {
				display.Start("waiting for agent")
			}
		}()

		fmt.Fprintf(out, "\n%s %s %s\n", color.CyanString("tool:"), toolName, formatToolInput(input))
		fmt.Fprint(out, "Allow this invocation? [y/N] ")

		line, err := stdin.ReadString('\n')
		if err != nil {
			return pipeline.DenyPermission("no interactive approval available")
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return pipeline.Allow()
		default:
			return pipeline.DenyPermission("rejected at the terminal")
		}
	}
}

// formatToolInput renders a tool input map deterministically for display.
func formatToolInput(input map[string]any) string {
	if len(input) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, input[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func printBanner(out io.Writer, cl *client.Client, ws workspace.Info) {
	prov := cl.Provider()
	cfg := cl.Config()

	bold := color.New(color.Bold)
	fmt.Fprintf(out, "%s %s", bold.Sprint("camcode"), prov.DisplayName)
	if cfg.Model != "" {
		fmt.Fprintf(out, " (%s)", cfg.Model)
	}
	fmt.Fprintf(out, "\nworkspace: %s\n", ws.Describe())

	if commands := cl.AvailableCommands(); len(commands) > 0 {
		names := make([]string, 0, len(commands))
		for _, c := range commands {
			names = append(names, c.Name)
		}
		fmt.Fprintf(out, "slash commands: %s\n", strings.Join(names, ", "))
	}
}

func repl(ctx context.Context, cl *client.Client, router *toolkit.Router, display *progress.TurnDisplay, stdin *bufio.Reader, out, errOut io.Writer) error {
	prompt := color.New(color.FgCyan).Sprint("you> ")

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(errOut, prompt)

		line, err := stdin.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.WrapWithMessage(err, errors.Runtime, "reading input")
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if handled, quit, err := replCommand(ctx, cl, router, out, line); handled {
			if err != nil {
				fmt.Fprintf(errOut, "%s %v\n", color.RedString("error:"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := runTurn(ctx, cl, display, out, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(errOut, "%s %v\n", color.RedString("error:"), err)
		}
	}
}

// replCommand handles in-session slash-prefixed commands. It reports
// whether the line was a command and whether the session should end.
func replCommand(ctx context.Context, cl *client.Client, router *toolkit.Router, out io.Writer, line string) (handled, quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, true, nil
	case "/provider":
		if len(fields) != 2 {
			return true, false, errors.NewArgumentErrorWithUsage("missing provider name", "/provider <name>")
		}
		if err := cl.SwitchProvider(ctx, fields[1], "", ""); err != nil {
			return true, false, err
		}
		fmt.Fprintf(out, "switched to %s\n", cl.Provider().DisplayName)
		return true, false, nil
	case "/tools":
		for _, info := range router.List() {
			fmt.Fprintf(out, "%s\t%s\n", info.QualifiedName, info.Description)
		}
		return true, false, nil
	case "/commands":
		for _, c := range cl.AvailableCommands() {
			fmt.Fprintf(out, "%s\t%s\n", c.Name, c.Description)
		}
		return true, false, nil
	default:
		// Unknown slash commands are forwarded to the agent verbatim:
		// it may know them from its setting sources.
		return false, false, nil
	}
}

func runTurn(ctx context.Context, cl *client.Client, display *progress.TurnDisplay, out io.Writer, prompt string) error {
	if err := cl.Query(ctx, prompt); err != nil {
		return err
	}

	display.Start("waiting for agent")
	envelopes, err := cl.ReceiveResponse(ctx)
	if err != nil {
		display.Fail(err)
		return err
	}

	var result *protocol.ResultMessage
	for _, env := range envelopes {
		switch env.Type {
		case protocol.TypeAssistant:
			if text := assistantText(env); text != "" {
				display.Pause()
				fmt.Fprintln(out, text)
			}
		case protocol.TypeResult:
			var msg protocol.ResultMessage
			if jsonErr := json.Unmarshal(env.Raw, &msg); jsonErr == nil {
				result = &msg
			}
		}
	}

	display.Complete(resultSummary(result))
	return nil
}

// assistantText extracts the concatenated text blocks of one assistant
// message envelope.
func assistantText(env protocol.Envelope) string {
	var msg struct {
		Message struct {
			Content []protocol.ContentBlock `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		return ""
	}

	var parts []string
	for _, block := range msg.Message.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func resultSummary(result *protocol.ResultMessage) string {
	if result == nil {
		return "turn complete"
	}
	summary := fmt.Sprintf("turn complete in %s", (time.Duration(result.DurationMS) * time.Millisecond).Round(time.Millisecond))
	if result.TotalCostUSD > 0 {
		summary += fmt.Sprintf(" ($%.4f)", result.TotalCostUSD)
	}
	if result.IsError {
		summary = "turn failed: " + strings.Join(result.Errors, "; ")
	}
	return summary
}

// connectError maps session startup failures onto CLI error categories.
func connectError(providerName, agentCmd string, err error) error {
	var unknown *provider.UnknownProviderError
	if stderrors.As(err, &unknown) {
		return errors.UnknownProvider(providerName)
	}

	var confErr *provider.ConfigurationError
	if stderrors.As(err, &confErr) {
		return errors.NewConfigError(confErr.Reason,
			fmt.Sprintf("Run 'camcode providers env %s' for a setup snippet", providerName))
	}

	var launch *transport.LaunchError
	if stderrors.As(err, &launch) {
		return errors.AgentCliNotFound(agentCmd)
	}

	return errors.WrapWithMessage(err, errors.Runtime, "connecting session")
}
