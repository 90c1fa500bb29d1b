// Package client ties the engine together: it overlays a provider onto the
// session configuration, launches the transport, arbitrates tool use through
// the hook and permission pipeline, serves in-process tools, and exposes the
// content stream to the UI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cameron-labs/camcode/internal/audit"
	"github.com/cameron-labs/camcode/internal/config"
	"github.com/cameron-labs/camcode/internal/pipeline"
	"github.com/cameron-labs/camcode/internal/protocol"
	"github.com/cameron-labs/camcode/internal/provider"
	"github.com/cameron-labs/camcode/internal/toolkit"
	"github.com/cameron-labs/camcode/internal/transport"
)

// State is the client's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Client is one conversational session with the agent subprocess.
type Client struct {
	registry *provider.Registry
	router   *toolkit.Router
	sink     *audit.Sink
	pipe     *pipeline.Pipeline

	base config.Session

	mu        sync.Mutex
	state     State
	cfg       config.Session
	prov      provider.Config
	tr        *transport.Transport
	sessionID string
	init      *protocol.SystemInit

	pending  map[string]*protocol.ToolInvocation
	pendingC chan struct{} // closed and replaced whenever pending shrinks

	messages chan protocol.Envelope
	runDone  chan struct{}
	runQuit  chan struct{}
}

// New builds a client from its collaborators. The registry and router are
// injected so tests can isolate them per case.
func New(base config.Session, registry *provider.Registry, router *toolkit.Router, sink *audit.Sink, pipe *pipeline.Pipeline) *Client {
	return &Client{
		registry: registry,
		router:   router,
		sink:     sink,
		pipe:     pipe,
		base:     base,
		state:    StateDisconnected,
		pending:  make(map[string]*protocol.ToolInvocation),
		pendingC: make(chan struct{}),
	}
}

// Connect overlays the named provider onto the base configuration and
// launches the subprocess. An unknown provider or a missing credential fails
// before anything is spawned.
func (c *Client) Connect(ctx context.Context, providerName, apiKey, modelOverride string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return fmt.Errorf("already connected")
	}

	prov, err := c.registry.Lookup(providerName)
	if err != nil {
		return err
	}
	cfg, err := provider.Apply(c.base, prov, apiKey, modelOverride)
	if err != nil {
		return err
	}

	tr, err := c.launch(ctx, cfg)
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.prov = prov
	c.tr = tr
	c.state = StateConnected
	c.messages = make(chan protocol.Envelope, 64)
	c.runDone = make(chan struct{})
	c.runQuit = make(chan struct{})
	go c.run(tr, c.messages, c.runDone, c.runQuit)
	return nil
}

// launch starts a transport for cfg. Caller holds c.mu.
func (c *Client) launch(ctx context.Context, cfg config.Session) (*transport.Transport, error) {
	return transport.Start(ctx, cfg, sessionEnv(cfg), transport.Options{
		ControlHandler: c.handleControl,
	})
}

// sessionEnv converts the overlaid session fields into the environment the
// subprocess reads its provider connection from.
func sessionEnv(cfg config.Session) []string {
	var env []string
	if cfg.BaseURL != "" {
		env = append(env, provider.EnvBaseURL+"="+cfg.BaseURL)
	}
	if cfg.AuthToken != "" {
		env = append(env, provider.EnvAuthToken+"="+cfg.AuthToken)
	}
	if cfg.Model != "" {
		env = append(env, provider.EnvModel+"="+cfg.Model)
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// run pumps transport events until the stream ends. Control requests never
// appear here; the transport routes them to handleControl.
func (c *Client) run(tr *transport.Transport, messages chan protocol.Envelope, done, quit chan struct{}) {
	defer close(done)
	defer close(messages)

	for ev := range tr.Events() {
		if ev.Err != nil {
			c.sink.RecordDetail(audit.KindTransport, "", "protocol-error", map[string]any{"error": ev.Err.Error()})
			continue
		}

		switch ev.Envelope.Type {
		case protocol.TypeSystem:
			c.captureInit(ev.Envelope)
		case protocol.TypeUser:
			c.completeFromToolResults(ev.Envelope)
		}

		select {
		case messages <- ev.Envelope:
		case <-quit:
			return
		}
	}
}

func (c *Client) captureInit(env protocol.Envelope) {
	if env.Subtype != "init" {
		return
	}
	var init protocol.SystemInit
	if err := json.Unmarshal(env.Raw, &init); err != nil {
		return
	}
	c.mu.Lock()
	c.init = &init
	c.sessionID = init.SessionID
	c.mu.Unlock()
}

// completeFromToolResults matches echoed tool_result blocks in user messages
// to pending delegated invocations so post-hooks run with the real outcome.
func (c *Client) completeFromToolResults(env protocol.Envelope) {
	var msg struct {
		Message struct {
			Content []struct {
				Type      string `json:"type"`
				ToolUseID string `json:"tool_use_id"`
				IsError   bool   `json:"is_error"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(env.Raw, &msg); err != nil {
		return
	}
	for _, block := range msg.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		if inv := c.takePending(block.ToolUseID); inv != nil {
			outcome := "ok"
			if block.IsError {
				outcome = "error"
			}
			c.pipe.Complete(context.Background(), inv, outcome)
		}
	}
}

func (c *Client) addPending(inv *protocol.ToolInvocation) {
	c.mu.Lock()
	c.pending[inv.ID] = inv
	c.mu.Unlock()
}

func (c *Client) takePending(id string) *protocol.ToolInvocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	inv, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if len(c.pending) == 0 {
		close(c.pendingC)
		c.pendingC = make(chan struct{})
	}
	return inv
}

// waitDrained blocks until no tool invocations are in flight.
func (c *Client) waitDrained(ctx context.Context) error {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			return nil
		}
		wait := c.pendingC
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleControl arbitrates one control request from the subprocess. It runs
// on its own goroutine, so blocking on a permission prompt is safe.
func (c *Client) handleControl(ctx context.Context, req protocol.ControlRequest) {
	var body protocol.ControlRequestBody
	if err := json.Unmarshal(req.Request, &body); err != nil {
		c.send(protocol.ErrorResponse(req.RequestID, "malformed control request: "+err.Error()))
		return
	}

	switch body.Subtype {
	case protocol.SubtypeCanUseTool:
		c.handleCanUseTool(ctx, req.RequestID, body)
	case protocol.SubtypeMCPMessage:
		c.handleMCPMessage(ctx, req.RequestID, body)
	case protocol.SubtypeHookCallback:
		// CLI-side hooks are not registered by this engine; acknowledge so
		// the subprocess keeps going.
		c.send(protocol.ControlResponse{
			Type: protocol.TypeControlResponse,
			Response: protocol.ControlResponsePayload{
				Subtype:   "success",
				RequestID: req.RequestID,
				Response:  map[string]any{"continue": true},
			},
		})
	default:
		c.send(protocol.ErrorResponse(req.RequestID, "unsupported control subtype: "+body.Subtype))
	}
}

func (c *Client) handleCanUseTool(ctx context.Context, requestID string, body protocol.ControlRequestBody) {
	input := map[string]any{}
	if len(body.Input) > 0 {
		if err := json.Unmarshal(body.Input, &input); err != nil {
			c.send(protocol.ErrorResponse(requestID, "malformed tool input: "+err.Error()))
			return
		}
	}

	id := body.ToolUseID
	if id == "" {
		id = uuid.NewString()
	}
	inv := &protocol.ToolInvocation{
		ID:       id,
		ToolName: body.ToolName,
		Input:    input,
		TurnID:   body.TurnID,
		Time:     time.Now().UTC(),
	}

	verdict := c.pipe.Evaluate(ctx, inv)
	switch {
	case verdict.Cancelled:
		c.send(protocol.DenyResponse(requestID, "cancelled"))
	case !verdict.Allowed:
		c.pipe.Complete(ctx, inv, "denied")
		c.send(protocol.DenyResponse(requestID, verdict.Reason))
	default:
		var updated json.RawMessage
		if !sameInput(input, verdict.Input) {
			if raw, err := json.Marshal(verdict.Input); err == nil {
				updated = raw
			}
		}
		inv.Input = verdict.Input
		c.addPending(inv)
		c.send(protocol.AllowResponse(requestID, updated))
	}
}

func sameInput(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

// handleMCPMessage serves the in-process tool server: the subprocess speaks
// JSON-RPC at us for servers it believes are external.
func (c *Client) handleMCPMessage(ctx context.Context, requestID string, body protocol.ControlRequestBody) {
	var rpc struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      any            `json:"id"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
	}
	if err := json.Unmarshal(body.Message, &rpc); err != nil {
		c.send(protocol.ErrorResponse(requestID, "malformed mcp message: "+err.Error()))
		return
	}

	respond := func(result map[string]any) {
		c.send(protocol.ControlResponse{
			Type: protocol.TypeControlResponse,
			Response: protocol.ControlResponsePayload{
				Subtype:   "success",
				RequestID: requestID,
				Response: map[string]any{
					"mcp_response": map[string]any{
						"jsonrpc": "2.0",
						"id":      rpc.ID,
						"result":  result,
					},
				},
			},
		})
	}

	switch rpc.Method {
	case "initialize":
		respond(map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": body.ServerName, "version": "0.1.0"},
		})
	case "tools/list":
		var tools []map[string]any
		for _, info := range c.router.List() {
			if info.Server != body.ServerName {
				continue
			}
			tools = append(tools, map[string]any{
				"name":        info.Name,
				"description": info.Description,
			})
		}
		respond(map[string]any{"tools": tools})
	case "tools/call":
		name, _ := rpc.Params["name"].(string)
		args, _ := rpc.Params["arguments"].(map[string]any)
		respond(c.callLocalTool(ctx, body.ServerName, name, args))
	default:
		respond(map[string]any{})
	}
}

// callLocalTool dispatches a router-claimed tool and audits the outcome. A
// schema failure is a denial-equivalent result, never a crash.
func (c *Client) callLocalTool(ctx context.Context, serverName, name string, args map[string]any) map[string]any {
	qualified := toolkit.QualifiedName(serverName, name)
	inv := &protocol.ToolInvocation{
		ID:       uuid.NewString(),
		ToolName: qualified,
		Input:    args,
		Time:     time.Now().UTC(),
	}

	result, err := c.router.Dispatch(ctx, qualified, args)
	if err != nil {
		outcome := "error"
		if _, ok := err.(*toolkit.SchemaValidationError); ok {
			outcome = "schema-invalid"
		}
		c.pipe.Complete(ctx, inv, outcome)
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": err.Error()}},
			"isError": true,
		}
	}

	outcome := "ok"
	if result.IsError {
		outcome = "error"
	}
	c.pipe.Complete(ctx, inv, outcome)

	content := make([]map[string]any, 0, len(result.Content))
	for _, block := range result.Content {
		content = append(content, map[string]any{"type": block.Type, "text": block.Text})
	}
	return map[string]any{"content": content, "isError": result.IsError}
}

func (c *Client) send(msg any) {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return
	}
	_ = tr.Send(msg)
}

// Query sends a user prompt into the session.
func (c *Client) Query(ctx context.Context, prompt string) error {
	c.mu.Lock()
	tr, sessionID, state := c.tr, c.sessionID, c.state
	c.mu.Unlock()

	if state != StateConnected || tr == nil {
		return fmt.Errorf("session not connected")
	}
	return tr.Send(protocol.NewUserMessage(prompt, sessionID))
}

// Messages returns the inbound content stream. Control traffic is handled
// internally and never appears here. The channel closes when the session
// ends.
func (c *Client) Messages() <-chan protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// ReceiveResponse consumes messages until the current turn's result message
// and returns the envelopes seen, result included.
func (c *Client) ReceiveResponse(ctx context.Context) ([]protocol.Envelope, error) {
	messages := c.Messages()
	if messages == nil {
		return nil, fmt.Errorf("session not connected")
	}

	var turn []protocol.Envelope
	for {
		select {
		case env, ok := <-messages:
			if !ok {
				return turn, fmt.Errorf("session ended before turn completed")
			}
			turn = append(turn, env)
			if env.Type == protocol.TypeResult {
				return turn, nil
			}
		case <-ctx.Done():
			return turn, ctx.Err()
		}
	}
}

// Interrupt aborts the current turn.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return fmt.Errorf("session not connected")
	}
	return tr.Send(protocol.NewInterrupt(uuid.NewString()))
}

// ResolveAsk answers a pending permission escalation. It reports false when
// the invocation is no longer waiting.
func (c *Client) ResolveAsk(invocationID string, allow bool, reason string) bool {
	return c.pipe.Asks().Resolve(invocationID, pipeline.AskDecision{Allow: allow, Reason: reason})
}

// PendingAsks lists invocations awaiting a permission decision.
func (c *Client) PendingAsks() []string {
	return c.pipe.Asks().Pending()
}

// ServerInfo returns the subprocess's init announcement, if received.
func (c *Client) ServerInfo() *protocol.SystemInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init
}

// AvailableCommands lists the slash commands the subprocess announced.
// Empty when setting sources are disabled.
func (c *Client) AvailableCommands() []protocol.SlashCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.init == nil {
		return nil
	}
	return append([]protocol.SlashCommand(nil), c.init.SlashCommands...)
}

// Config returns the effective session configuration.
func (c *Client) Config() config.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

// Provider returns the active provider.
func (c *Client) Provider() provider.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prov
}

// State reports the connection state.
func (c *Client) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SwitchProvider moves the session to a different provider. In-flight tool
// invocations on the old transport are drained first, and the old transport
// stays live until the new one has launched, so a failed switch leaves the
// original session connected.
func (c *Client) SwitchProvider(ctx context.Context, providerName, apiKey, modelOverride string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("cannot switch provider: session not connected")
	}

	prov, err := c.registry.Lookup(providerName)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	cfg, err := provider.Apply(c.base, prov, apiKey, modelOverride)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	oldTr := c.tr
	oldDone := c.runDone
	c.state = StateReconnecting
	c.mu.Unlock()

	restore := func() {
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()
	}

	if err := c.waitDrained(ctx); err != nil {
		restore()
		return fmt.Errorf("draining in-flight invocations: %w", err)
	}
	if err := oldTr.Flush(ctx); err != nil {
		restore()
		return fmt.Errorf("flushing outbound queue: %w", err)
	}

	newTr, err := c.launch(ctx, cfg)
	if err != nil {
		restore()
		return err
	}

	c.mu.Lock()
	oldQuit := c.runQuit
	c.mu.Unlock()

	close(oldQuit)
	_ = oldTr.Close()
	<-oldDone

	c.mu.Lock()
	c.cfg = cfg
	c.prov = prov
	c.tr = newTr
	c.init = nil
	c.sessionID = ""
	c.state = StateConnected
	c.messages = make(chan protocol.Envelope, 64)
	c.runDone = make(chan struct{})
	c.runQuit = make(chan struct{})
	go c.run(newTr, c.messages, c.runDone, c.runQuit)
	c.mu.Unlock()
	return nil
}

// Close shuts the session down. Dangling invocations are closed out with a
// cancelled record so the audit trail stays complete.
func (c *Client) Close() error {
	c.mu.Lock()
	tr := c.tr
	done := c.runDone
	quit := c.runQuit
	c.state = StateDisconnected
	c.tr = nil
	c.runQuit = nil
	dangling := make([]*protocol.ToolInvocation, 0, len(c.pending))
	for _, inv := range c.pending {
		dangling = append(dangling, inv)
	}
	c.pending = make(map[string]*protocol.ToolInvocation)
	c.mu.Unlock()

	for _, inv := range dangling {
		c.pipe.Complete(context.Background(), inv, "cancelled")
	}

	if tr == nil {
		return nil
	}
	if quit != nil {
		close(quit)
	}
	err := tr.Close()
	if done != nil {
		<-done
	}
	return err
}
