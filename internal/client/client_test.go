package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameron-labs/camcode/internal/audit"
	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/pipeline"
	"github.com/cameron-labs/camcode/internal/protocol"
	"github.com/cameron-labs/camcode/internal/provider"
	"github.com/cameron-labs/camcode/internal/toolkit"
)

// scriptSession builds a session whose agent is a shell script. The script's
// stdout plays the role of the agent's protocol stream; a trailing `cat`
// keeps the process alive and echoes the engine's responses back so tests
// can observe them.
func scriptSession(script string) config.Session {
	return config.Session{
		AgentCmd:            "sh",
		AgentArgs:           []string{"-c", script, "--"},
		CloseTimeoutSeconds: 2,
	}
}

func newTestClient(t *testing.T, base config.Session, opts ...pipeline.Option) (*Client, *audit.Sink) {
	t.Helper()
	sink := audit.NewSink(nil)
	router := toolkit.NewRouter()
	require.NoError(t, toolkit.RegisterBuiltins(router))
	pipe := pipeline.New(sink, opts...)
	return New(base, provider.NewRegistry(), router, sink, pipe), sink
}

// awaitControlResponse reads the client's message stream until the echoed
// control response appears.
func awaitControlResponse(t *testing.T, c *Client) protocol.ControlResponse {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-c.Messages():
			require.True(t, ok, "stream ended before control response")
			if env.Type != protocol.TypeControlResponse {
				continue
			}
			var resp protocol.ControlResponse
			require.NoError(t, json.Unmarshal(env.Raw, &resp))
			return resp
		case <-deadline:
			t.Fatal("timed out waiting for control response")
		}
	}
}

func TestConnectUnknownProvider(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, scriptSession("cat"))
	err := c.Connect(context.Background(), "nonexistent", "key", "")

	var unknown *provider.UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, StateDisconnected, c.CurrentState())
}

func TestConnectMissingCredential(t *testing.T) {
	t.Setenv(provider.EnvAuthToken, "")

	c, _ := newTestClient(t, scriptSession("cat"))
	err := c.Connect(context.Background(), "deepseek", "", "")

	var confErr *provider.ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Equal(t, StateDisconnected, c.CurrentState())
}

func TestConnectAppliesProviderOverlay(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, scriptSession("cat"))
	require.NoError(t, c.Connect(context.Background(), "deepseek", "sk-test", ""))
	defer c.Close()

	cfg := c.Config()
	assert.Equal(t, "https://api.deepseek.com/anthropic", cfg.BaseURL)
	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Equal(t, "sk-test", cfg.AuthToken)
	assert.Equal(t, StateConnected, c.CurrentState())
}

func TestServerInfoAndSlashCommands(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"system","subtype":"init","session_id":"s-42","model":"deepseek-chat","permissionMode":"default","tools":["Bash","Read"],"slash_commands":[{"name":"/help"},{"name":"/compact"}]}'; cat`
	c, _ := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "deepseek", "sk-test", ""))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.ServerInfo() != nil
	}, 5*time.Second, 10*time.Millisecond)

	info := c.ServerInfo()
	assert.Equal(t, "s-42", info.SessionID)
	assert.Equal(t, []string{"Bash", "Read"}, info.Tools)

	commands := c.AvailableCommands()
	require.Len(t, commands, 2)
	assert.Equal(t, "/help", commands[0].Name)
}

func TestNoSettingSourcesMeansNoSlashCommands(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"system","subtype":"init","session_id":"s-1","slash_commands":[]}'; cat`
	c, _ := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	require.Eventually(t, func() bool {
		return c.ServerInfo() != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, c.AvailableCommands())
}

func TestDangerousBashIsDenied(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf / --force"},"tool_use_id":"toolu_1"}}'; cat`
	c, sink := newTestClient(t, scriptSession(script),
		pipeline.WithPermission(pipeline.GuardedPermission(nil)))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	assert.Equal(t, "success", resp.Response.Subtype)
	assert.Equal(t, "req-1", resp.Response.RequestID)
	assert.Equal(t, "deny", resp.Response.Response["behavior"])
	assert.Contains(t, resp.Response.Response["message"], "blocked dangerous command")

	var outcomes []string
	for _, rec := range sink.Snapshot() {
		outcomes = append(outcomes, rec.Outcome)
	}
	assert.Contains(t, outcomes, "denied")
}

func TestHarmlessToolIsAllowed(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-2","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"toolu_2"}}'; cat`
	c, _ := newTestClient(t, scriptSession(script),
		pipeline.WithPermission(pipeline.GuardedPermission(nil)))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	assert.Equal(t, "allow", resp.Response.Response["behavior"])
}

func TestHookModificationForwardsUpdatedInput(t *testing.T) {
	t.Parallel()

	rewrite := pipeline.HookFunc(func(_ context.Context, inv *protocol.ToolInvocation, _ pipeline.HookResult) (pipeline.HookResult, error) {
		if inv.ToolName == "Bash" {
			return pipeline.Modify(map[string]any{"command": "ls -la"}), nil
		}
		return pipeline.Continue(), nil
	})

	script := `echo '{"type":"control_request","request_id":"req-3","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"},"tool_use_id":"toolu_3"}}'; cat`
	c, _ := newTestClient(t, scriptSession(script), pipeline.WithPreHooks(rewrite))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	assert.Equal(t, "allow", resp.Response.Response["behavior"])

	updated, ok := resp.Response.Response["updatedInput"].(map[string]any)
	require.True(t, ok, "modified input must ride along with the allow")
	assert.Equal(t, "ls -la", updated["command"])
}

func TestLocalToolServedOverMCP(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-4","request":{"subtype":"mcp_message","server_name":"cameron-tools","message":{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"cameron_search","arguments":{"query":"coffee"}}}}}'; cat`
	c, _ := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	require.Equal(t, "success", resp.Response.Subtype)

	raw, err := json.Marshal(resp.Response.Response["mcp_response"])
	require.NoError(t, err)
	var rpc struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpc))
	assert.False(t, rpc.Result.IsError)
	require.NotEmpty(t, rpc.Result.Content)
	assert.Contains(t, rpc.Result.Content[0].Text, "oat milk lattes")
}

func TestSchemaInvalidInputNeverRuns(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-5","request":{"subtype":"mcp_message","server_name":"cameron-tools","message":{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"cameron_search","arguments":{}}}}}'; cat`
	c, sink := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	raw, err := json.Marshal(resp.Response.Response["mcp_response"])
	require.NoError(t, err)
	var rpc struct {
		Result struct {
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpc))
	assert.True(t, rpc.Result.IsError)

	count := 0
	for _, rec := range sink.Snapshot() {
		if rec.Outcome == "schema-invalid" {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one schema-invalid record")
}

func TestMCPToolsList(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-6","request":{"subtype":"mcp_message","server_name":"cameron-tools","message":{"jsonrpc":"2.0","id":3,"method":"tools/list"}}}'; cat`
	c, _ := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	raw, err := json.Marshal(resp.Response.Response["mcp_response"])
	require.NoError(t, err)
	var rpc struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpc))
	require.Len(t, rpc.Result.Tools, 2)
	assert.Equal(t, "cameron_search", rpc.Result.Tools[0].Name)
	assert.Equal(t, "cameron_time", rpc.Result.Tools[1].Name)
}

func TestSwitchProviderDeepseekToGLM(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, scriptSession("cat"))
	require.NoError(t, c.Connect(context.Background(), "deepseek", "sk-test", ""))
	defer c.Close()

	require.Equal(t, "deepseek-chat", c.Config().Model)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.SwitchProvider(ctx, "glm", "sk-glm", ""))

	cfg := c.Config()
	assert.Equal(t, "https://api.z.ai/api/anthropic", cfg.BaseURL)
	assert.Equal(t, "glm-4.5-air", cfg.Model)
	assert.Equal(t, StateConnected, c.CurrentState())
	assert.Equal(t, "glm", c.Provider().Name)

	// The new transport is live.
	require.NoError(t, c.Query(context.Background(), "hello"))
}

func TestSwitchProviderFailureKeepsOldSession(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, scriptSession("cat"))
	require.NoError(t, c.Connect(context.Background(), "deepseek", "sk-test", ""))
	defer c.Close()

	err := c.SwitchProvider(context.Background(), "no-such-provider", "", "")
	var unknown *provider.UnknownProviderError
	require.ErrorAs(t, err, &unknown)

	assert.Equal(t, StateConnected, c.CurrentState())
	assert.Equal(t, "deepseek", c.Provider().Name)
	require.NoError(t, c.Query(context.Background(), "still alive"))
}

func TestQueryRequiresConnection(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, scriptSession("cat"))
	assert.Error(t, c.Query(context.Background(), "hello"))
}

func TestCloseCancelsDanglingInvocations(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-7","request":{"subtype":"can_use_tool","tool_name":"Read","input":{"file_path":"/tmp/x"},"tool_use_id":"toolu_7"}}'; cat`
	c, sink := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))

	// Wait for the invocation to be approved and left pending.
	resp := awaitControlResponse(t, c)
	require.Equal(t, "allow", resp.Response.Response["behavior"])

	require.NoError(t, c.Close())

	var cancelled int
	for _, rec := range sink.Snapshot() {
		if rec.Kind == audit.KindToolResult && rec.Outcome == "cancelled" {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}

func TestDelegatedToolResultCompletesInvocation(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-8","request":{"subtype":"can_use_tool","tool_name":"Read","input":{"file_path":"/tmp/x"},"tool_use_id":"toolu_8"}}'
echo '{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_8","is_error":false}]}}'
cat`
	c, sink := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	resp := awaitControlResponse(t, c)
	require.Equal(t, "allow", resp.Response.Response["behavior"])

	require.Eventually(t, func() bool {
		for _, rec := range sink.Snapshot() {
			if rec.Kind == audit.KindToolResult && rec.Outcome == "ok" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMalformedLineAuditedAsTransportFault(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"system","subtype":"init","session_id":"s1"}'
echo 'not json at all'
cat`
	c, sink := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	// Stream faults are not invocation-scoped: they get their own kind
	// and an empty invocation ID, never a tool-result record.
	require.Eventually(t, func() bool {
		for _, rec := range sink.Snapshot() {
			if rec.Kind == audit.KindTransport && rec.Outcome == "protocol-error" {
				assert.Empty(t, rec.InvocationID)
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	for _, rec := range sink.Snapshot() {
		assert.NotEqual(t, audit.KindToolResult, rec.Kind)
	}
}

func TestReceiveResponseEndsAtResult(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}'
echo '{"type":"result","subtype":"success","is_error":false,"num_turns":1,"result":"done"}'
cat`
	c, _ := newTestClient(t, scriptSession(script))
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	turn, err := c.ReceiveResponse(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, turn)
	assert.Equal(t, protocol.TypeResult, turn[len(turn)-1].Type)
}

func TestResolveAskFromExternalDecision(t *testing.T) {
	t.Parallel()

	script := `echo '{"type":"control_request","request_id":"req-9","request":{"subtype":"can_use_tool","tool_name":"Write","input":{"file_path":"/tmp/y"},"tool_use_id":"toolu_9"}}'; cat`
	c, _ := newTestClient(t, scriptSession(script),
		pipeline.WithPermission(func(context.Context, string, map[string]any) pipeline.PermissionDecision {
			return pipeline.Ask()
		}),
		pipeline.WithAskTimeout(10*time.Second),
	)
	require.NoError(t, c.Connect(context.Background(), "anthropic", "sk-test", ""))
	defer c.Close()

	require.Eventually(t, func() bool {
		return len(c.PendingAsks()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, c.ResolveAsk("toolu_9", false, "user said no"))

	resp := awaitControlResponse(t, c)
	assert.Equal(t, "deny", resp.Response.Response["behavior"])
	assert.Contains(t, resp.Response.Response["message"], "user said no")
}
