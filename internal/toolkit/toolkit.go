// Package toolkit routes tool invocations to in-process handlers. Tools are
// grouped under a server name and surfaced to the agent with fully qualified
// names, so a handler here is indistinguishable from an external MCP server
// from the agent's point of view.
package toolkit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// QualifiedName builds the wire name the agent uses for an MCP-hosted tool.
func QualifiedName(serverName, toolName string) string {
	return "mcp__" + serverName + "__" + toolName
}

// DuplicateToolError is returned when a tool registration collides with an
// existing qualified name. Registration is fail-fast: a collision is a
// programming error, not something to silently paper over.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// UnknownToolError is returned when a dispatch names a tool the router has
// never seen.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("no tool registered as %q", e.Name)
}

// SchemaValidationError reports an input that failed the tool's declared
// schema. The handler is never called in that case.
type SchemaValidationError struct {
	Tool string
	Err  error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("input for tool %q rejected by schema: %v", e.Tool, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ContentBlock is one piece of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a plain text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// Result is what a tool handler produces.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// TextResult builds a single-block text result.
func TextResult(text string) *Result {
	return &Result{Content: []ContentBlock{TextContent(text)}}
}

// ErrorResult builds a result that reports a tool-level failure to the
// agent without failing the dispatch itself.
func ErrorResult(text string) *Result {
	return &Result{Content: []ContentBlock{TextContent(text)}, IsError: true}
}

// Handler executes a tool call. Input has already passed schema validation.
// Handlers must honor ctx cancellation on anything long-running.
type Handler func(ctx context.Context, input map[string]any) (*Result, error)

// Tool declares a single in-process tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

type registeredTool struct {
	tool      Tool
	server    string
	qualified string
	resolved  *jsonschema.Resolved
}

// Info describes a registered tool for listings and the agent handshake.
type Info struct {
	QualifiedName string
	Server        string
	Name          string
	Description   string
}

// Router holds registered tools and dispatches invocations to their
// handlers.
type Router struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{tools: make(map[string]*registeredTool)}
}

// Register adds a tool under a server name. It fails with
// DuplicateToolError if the qualified name is taken, and with a schema
// error if the declared input schema does not compile.
func (r *Router) Register(serverName string, tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q has no handler", tool.Name)
	}

	var resolved *jsonschema.Resolved
	if tool.InputSchema != nil {
		var err error
		resolved, err = tool.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("resolving schema for tool %q: %w", tool.Name, err)
		}
	}

	qualified := QualifiedName(serverName, tool.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[qualified]; exists {
		return &DuplicateToolError{Name: qualified}
	}
	r.tools[qualified] = &registeredTool{
		tool:      tool,
		server:    serverName,
		qualified: qualified,
		resolved:  resolved,
	}
	return nil
}

// Has reports whether the qualified name belongs to this router.
func (r *Router) Has(qualifiedName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[qualifiedName]
	return ok
}

// List returns all registered tools sorted by qualified name.
func (r *Router) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, reg := range r.tools {
		infos = append(infos, Info{
			QualifiedName: reg.qualified,
			Server:        reg.server,
			Name:          reg.tool.Name,
			Description:   reg.tool.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].QualifiedName < infos[j].QualifiedName
	})
	return infos
}

// Dispatch validates input against the tool's schema and runs its handler.
// A handler error is returned as-is; a malformed input never reaches the
// handler.
func (r *Router) Dispatch(ctx context.Context, qualifiedName string, input map[string]any) (*Result, error) {
	r.mu.RLock()
	reg, ok := r.tools[qualifiedName]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: qualifiedName}
	}

	if reg.resolved != nil {
		if input == nil {
			input = map[string]any{}
		}
		if err := reg.resolved.Validate(input); err != nil {
			return nil, &SchemaValidationError{Tool: qualifiedName, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reg.tool.Handler(ctx, input)
}
