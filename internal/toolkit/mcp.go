package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer is a running external MCP server whose tools have been folded
// into a Router. Dispatches for its tools are proxied over the MCP
// connection.
type MCPServer struct {
	Name string

	cmd     *exec.Cmd
	session *mcpsdk.ClientSession
}

// AttachMCPServer launches an external MCP server subprocess, discovers its
// tools, and registers each one on the router under the server's name. The
// returned server must be closed when the session ends.
func AttachMCPServer(ctx context.Context, router *Router, name, command string, args ...string) (*MCPServer, error) {
	cmd := exec.Command(command, args...)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "camcode", Version: "0.1.0"}, nil)

	session, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil, fmt.Errorf("connecting to MCP server %q: %w", name, err)
	}

	server := &MCPServer{Name: name, cmd: cmd, session: session}

	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := session.ListTools(ctx, params)
		if err != nil {
			_ = server.Close()
			return nil, fmt.Errorf("listing tools from MCP server %q: %w", name, err)
		}
		for _, remote := range list.Tools {
			if err := router.Register(name, server.proxyTool(remote)); err != nil {
				_ = server.Close()
				return nil, err
			}
		}
		if list.NextCursor == "" {
			break
		}
		params.Cursor = list.NextCursor
	}

	return server, nil
}

// proxyTool wraps a remote tool declaration into a router Tool whose handler
// forwards the call over the MCP session. Input validation is left to the
// remote server, which owns the schema.
func (s *MCPServer) proxyTool(remote *mcpsdk.Tool) Tool {
	toolName := remote.Name
	return Tool{
		Name:        toolName,
		Description: remote.Description,
		Handler: func(ctx context.Context, input map[string]any) (*Result, error) {
			result, err := s.session.CallTool(ctx, &mcpsdk.CallToolParams{
				Name:      toolName,
				Arguments: input,
			})
			if err != nil {
				return nil, fmt.Errorf("calling MCP tool %q on %q: %w", toolName, s.Name, err)
			}
			return convertMCPResult(result), nil
		},
	}
}

func convertMCPResult(result *mcpsdk.CallToolResult) *Result {
	out := &Result{IsError: result.IsError}
	for _, content := range result.Content {
		switch block := content.(type) {
		case *mcpsdk.TextContent:
			out.Content = append(out.Content, TextContent(block.Text))
		default:
			raw, err := json.Marshal(block)
			if err != nil {
				continue
			}
			out.Content = append(out.Content, TextContent(string(raw)))
		}
	}
	return out
}

// Close ends the MCP session and stops the subprocess.
func (s *MCPServer) Close() error {
	if s.session != nil {
		_ = s.session.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Kill()
	}
	return nil
}
