// Package protocol defines the newline-delimited JSON wire format spoken on
// the agent subprocess's standard streams. Every message is one JSON object
// per line with a "type" discriminant; control traffic (tool permission
// checks, hook callbacks, interrupts) shares the stream with content.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Message type discriminants.
const (
	TypeSystem          = "system"
	TypeAssistant       = "assistant"
	TypeUser            = "user"
	TypeResult          = "result"
	TypeStreamEvent     = "stream_event"
	TypeControlRequest  = "control_request"
	TypeControlResponse = "control_response"
	TypeToolResult      = "tool_result"
	TypeKeepAlive       = "keep_alive"
)

// Control request subtypes.
const (
	SubtypeCanUseTool   = "can_use_tool"
	SubtypeHookCallback = "hook_callback"
	SubtypeMCPMessage   = "mcp_message"
	SubtypeInterrupt    = "interrupt"
)

// Envelope is the minimally decoded view of one wire line: the type
// discriminant plus the raw bytes for full decoding by the handler.
type Envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// Raw holds the complete line for second-stage decoding.
	Raw json.RawMessage `json:"-"`
}

// Decode parses one wire line into an Envelope. The line must be a single
// JSON object carrying a "type" field.
func Decode(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed protocol line: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("protocol line missing type discriminant")
	}
	env.Raw = append(json.RawMessage(nil), bytes.TrimSpace(line)...)
	return env, nil
}

// ControlRequest is an inbound request from the subprocess that must be
// answered with a ControlResponse carrying the same request ID.
type ControlRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`
}

// ControlRequestBody is the decoded inner request. Only the fields for the
// announced subtype are populated.
type ControlRequestBody struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	TurnID    string          `json:"turn_id,omitempty"`

	// Hook callback fields.
	CallbackID string `json:"callback_id,omitempty"`

	// MCP routing fields.
	ServerName string          `json:"server_name,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

// ControlResponse answers a ControlRequest.
type ControlResponse struct {
	Type     string                 `json:"type"`
	Response ControlResponsePayload `json:"response"`
}

// ControlResponsePayload carries the success or error outcome.
type ControlResponsePayload struct {
	Subtype   string         `json:"subtype"` // "success" or "error"
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AllowResponse builds a control response permitting a tool invocation,
// optionally with a modified input payload.
func AllowResponse(requestID string, updatedInput json.RawMessage) ControlResponse {
	resp := map[string]any{"behavior": "allow"}
	if len(updatedInput) > 0 {
		resp["updatedInput"] = json.RawMessage(updatedInput)
	}
	return ControlResponse{
		Type: TypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  resp,
		},
	}
}

// DenyResponse builds a control response rejecting a tool invocation.
func DenyResponse(requestID, reason string) ControlResponse {
	return ControlResponse{
		Type: TypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "success",
			RequestID: requestID,
			Response:  map[string]any{"behavior": "deny", "message": reason},
		},
	}
}

// ErrorResponse builds a control response reporting a handling failure.
func ErrorResponse(requestID, message string) ControlResponse {
	return ControlResponse{
		Type: TypeControlResponse,
		Response: ControlResponsePayload{
			Subtype:   "error",
			RequestID: requestID,
			Error:     message,
		},
	}
}

// InterruptRequest is an outbound control request aborting the current turn.
type InterruptRequest struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id"`
	Request   map[string]any `json:"request"`
}

// NewInterrupt builds an interrupt control request.
func NewInterrupt(requestID string) InterruptRequest {
	return InterruptRequest{
		Type:      TypeControlRequest,
		RequestID: requestID,
		Request:   map[string]any{"subtype": SubtypeInterrupt},
	}
}

// UserMessage is an outbound user prompt.
type UserMessage struct {
	Type      string          `json:"type"`
	Message   UserMessageBody `json:"message"`
	SessionID string          `json:"session_id,omitempty"`
}

// UserMessageBody is the inner chat message.
type UserMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage builds an outbound user prompt for the given session.
func NewUserMessage(content, sessionID string) UserMessage {
	return UserMessage{
		Type:      TypeUser,
		Message:   UserMessageBody{Role: "user", Content: content},
		SessionID: sessionID,
	}
}

// ToolResultMessage reports the outcome of a locally executed tool back to
// the subprocess, as if it had run the tool itself.
type ToolResultMessage struct {
	Type      string         `json:"type"`
	ToolUseID string         `json:"tool_use_id"`
	Content   []ContentBlock `json:"content"`
	IsError   bool           `json:"is_error,omitempty"`
}

// ContentBlock is one piece of message or tool-result content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// SystemInit is the subprocess's startup announcement: the session ID, the
// active model and permission mode, and the discovered tools and slash
// commands (the latter only when setting sources are enabled).
type SystemInit struct {
	Type           string         `json:"type"`
	Subtype        string         `json:"subtype"`
	SessionID      string         `json:"session_id"`
	CWD            string         `json:"cwd"`
	Model          string         `json:"model"`
	PermissionMode string         `json:"permissionMode"`
	APIKeySource   string         `json:"apiKeySource"`
	Tools          []string       `json:"tools"`
	SlashCommands  []SlashCommand `json:"slash_commands"`
}

// SlashCommand describes one available slash command.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ResultMessage terminates one conversational turn.
type ResultMessage struct {
	Type          string   `json:"type"`
	Subtype       string   `json:"subtype"`
	IsError       bool     `json:"is_error"`
	DurationMS    int64    `json:"duration_ms"`
	DurationAPIMS int64    `json:"duration_api_ms"`
	NumTurns      int      `json:"num_turns"`
	Result        string   `json:"result,omitempty"`
	TotalCostUSD  float64  `json:"total_cost_usd,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// AssistantMessage wraps streamed assistant content.
type AssistantMessage struct {
	Type      string          `json:"type"`
	Message   json.RawMessage `json:"message"`
	SessionID string          `json:"session_id,omitempty"`
}

// ToolInvocation is the engine's view of one attempted tool use. The
// transport creates it from a can_use_tool control request; the hook and
// permission pipeline consumes it.
type ToolInvocation struct {
	ID       string
	ToolName string
	Input    map[string]any
	TurnID   string
	Time     time.Time
}
