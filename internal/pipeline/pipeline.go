// Package pipeline arbitrates tool invocations. Every invocation flows
// through an ordered chain of pre-hooks, a single permission decision, and
// a set of observe-only post-hooks, with an audit record written at each
// stage. One pipeline evaluation runs per in-flight invocation; evaluations
// never block each other except on the audit sink's append.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/cameron-labs/camcode/internal/audit"
	"github.com/cameron-labs/camcode/internal/protocol"
)

// Decision is a hook's verdict on an invocation.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionDeny     Decision = "deny"
	DecisionModify   Decision = "modify"
)

// HookResult is what a hook returns. UpdatedInput is honored only when
// Decision is DecisionModify; Reason is required for DecisionDeny.
type HookResult struct {
	Decision     Decision
	UpdatedInput map[string]any
	Reason       string
}

// Continue is the neutral hook result.
func Continue() HookResult {
	return HookResult{Decision: DecisionContinue}
}

// Deny builds a denying hook result.
func Deny(reason string) HookResult {
	return HookResult{Decision: DecisionDeny, Reason: reason}
}

// Modify builds a hook result that replaces the invocation's input.
func Modify(input map[string]any) HookResult {
	return HookResult{Decision: DecisionModify, UpdatedInput: input}
}

// Hook inspects an invocation before execution. It receives the result
// accumulated by earlier hooks so a later hook can see prior modifications.
// An error return is treated as an implicit deny.
type Hook interface {
	Evaluate(ctx context.Context, inv *protocol.ToolInvocation, prior HookResult) (HookResult, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, inv *protocol.ToolInvocation, prior HookResult) (HookResult, error)

func (f HookFunc) Evaluate(ctx context.Context, inv *protocol.ToolInvocation, prior HookResult) (HookResult, error) {
	return f(ctx, inv, prior)
}

// PostHook observes an invocation after its outcome is known. Post-hooks
// cannot alter the result; they exist for logging and side channels.
type PostHook func(ctx context.Context, inv *protocol.ToolInvocation, outcome string)

// Behavior is the permission callback's answer.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
	BehaviorAsk   Behavior = "ask"
)

// PermissionDecision carries the permission callback's answer plus an
// optional input replacement on allow and a reason on deny.
type PermissionDecision struct {
	Behavior     Behavior
	Reason       string
	UpdatedInput map[string]any
}

// Allow grants the invocation.
func Allow() PermissionDecision {
	return PermissionDecision{Behavior: BehaviorAllow}
}

// DenyPermission refuses the invocation with a reason.
func DenyPermission(reason string) PermissionDecision {
	return PermissionDecision{Behavior: BehaviorDeny, Reason: reason}
}

// Ask escalates the decision to an external party.
func Ask() PermissionDecision {
	return PermissionDecision{Behavior: BehaviorAsk}
}

// PermissionFunc evaluates the (possibly hook-modified) invocation.
type PermissionFunc func(ctx context.Context, toolName string, input map[string]any) PermissionDecision

// Verdict is the terminal outcome of the pre-execution half of the
// pipeline.
type Verdict struct {
	Allowed   bool
	Cancelled bool
	// Input is the payload execution should use; it reflects any hook or
	// ask-time modifications.
	Input  map[string]any
	Reason string
}

// Pipeline evaluates invocations against hooks and the permission policy.
type Pipeline struct {
	pre        []Hook
	post       []PostHook
	permission PermissionFunc
	asks       *AskBroker
	sink       *audit.Sink
	askTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPreHooks sets the ordered pre-invocation hook chain.
func WithPreHooks(hooks ...Hook) Option {
	return func(p *Pipeline) { p.pre = append(p.pre, hooks...) }
}

// WithPostHooks sets the observe-only post-invocation hooks.
func WithPostHooks(hooks ...PostHook) Option {
	return func(p *Pipeline) { p.post = append(p.post, hooks...) }
}

// WithPermission sets the permission callback. Absent a callback, every
// invocation that survives the pre-hooks is allowed.
func WithPermission(fn PermissionFunc) Option {
	return func(p *Pipeline) { p.permission = fn }
}

// WithAskTimeout bounds how long an "ask" escalation may stay unanswered
// before resolving to a deny.
func WithAskTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.askTimeout = d }
}

// DefaultAskTimeout matches the subprocess's own permission prompt window.
const DefaultAskTimeout = 5 * time.Minute

// New creates a pipeline writing to sink.
func New(sink *audit.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		sink:       sink,
		asks:       NewAskBroker(),
		askTimeout: DefaultAskTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Asks exposes the broker so an external decision point can resolve
// pending escalations.
func (p *Pipeline) Asks() *AskBroker {
	return p.asks
}

// Evaluate runs the pre-hooks and the permission decision for one
// invocation. It never returns an error: hook faults and panics become
// denials, and context cancellation becomes a cancelled verdict with its
// terminal audit record already written.
func (p *Pipeline) Evaluate(ctx context.Context, inv *protocol.ToolInvocation) Verdict {
	input := inv.Input
	prior := Continue()

	for i, hook := range p.pre {
		if err := ctx.Err(); err != nil {
			return p.cancelled(inv)
		}

		result, err := p.runHook(ctx, hook, inv, prior)
		if err != nil {
			reason := fmt.Sprintf("hook fault: %v", err)
			p.sink.RecordDetail(audit.KindPreHook, inv.ID, "deny: "+reason, map[string]any{"hook": i, "tool": inv.ToolName})
			return Verdict{Allowed: false, Input: input, Reason: reason}
		}

		switch result.Decision {
		case DecisionDeny:
			p.sink.RecordDetail(audit.KindPreHook, inv.ID, "deny: "+result.Reason, map[string]any{"hook": i, "tool": inv.ToolName})
			return Verdict{Allowed: false, Input: input, Reason: result.Reason}
		case DecisionModify:
			input = result.UpdatedInput
			prior = result
			p.sink.RecordDetail(audit.KindPreHook, inv.ID, "modify", map[string]any{"hook": i, "tool": inv.ToolName})
		default:
			prior = result
			p.sink.RecordDetail(audit.KindPreHook, inv.ID, "continue", map[string]any{"hook": i, "tool": inv.ToolName})
		}
	}

	return p.decide(ctx, inv, input)
}

func (p *Pipeline) decide(ctx context.Context, inv *protocol.ToolInvocation, input map[string]any) Verdict {
	if p.permission == nil {
		p.sink.RecordDetail(audit.KindPermission, inv.ID, "allow", map[string]any{"tool": inv.ToolName})
		return Verdict{Allowed: true, Input: input}
	}

	decision := p.permission(ctx, inv.ToolName, input)
	switch decision.Behavior {
	case BehaviorDeny:
		p.sink.RecordDetail(audit.KindPermission, inv.ID, "deny: "+decision.Reason, map[string]any{"tool": inv.ToolName})
		return Verdict{Allowed: false, Input: input, Reason: decision.Reason}
	case BehaviorAsk:
		return p.escalate(ctx, inv, input)
	default:
		if decision.UpdatedInput != nil {
			input = decision.UpdatedInput
		}
		p.sink.RecordDetail(audit.KindPermission, inv.ID, "allow", map[string]any{"tool": inv.ToolName})
		return Verdict{Allowed: true, Input: input}
	}
}

// escalate suspends this invocation until an external decision arrives,
// the timeout fires, or the invocation is cancelled. Other invocations keep
// flowing; the wait is scoped to this evaluation's goroutine.
func (p *Pipeline) escalate(ctx context.Context, inv *protocol.ToolInvocation, input map[string]any) Verdict {
	decision, outcome := p.asks.Await(ctx, inv.ID, p.askTimeout)
	switch outcome {
	case askResolved:
		if decision.Allow {
			if decision.UpdatedInput != nil {
				input = decision.UpdatedInput
			}
			p.sink.RecordDetail(audit.KindPermission, inv.ID, "ask-allow", map[string]any{"tool": inv.ToolName})
			return Verdict{Allowed: true, Input: input}
		}
		reason := decision.Reason
		if reason == "" {
			reason = "denied by user"
		}
		p.sink.RecordDetail(audit.KindPermission, inv.ID, "ask-deny: "+reason, map[string]any{"tool": inv.ToolName})
		return Verdict{Allowed: false, Input: input, Reason: reason}
	case askCancelled:
		return p.cancelled(inv)
	default:
		p.sink.RecordDetail(audit.KindPermission, inv.ID, "deny: timed out", map[string]any{"tool": inv.ToolName})
		return Verdict{Allowed: false, Input: input, Reason: "timed out"}
	}
}

func (p *Pipeline) cancelled(inv *protocol.ToolInvocation) Verdict {
	p.sink.RecordDetail(audit.KindToolResult, inv.ID, "cancelled", map[string]any{"tool": inv.ToolName})
	return Verdict{Allowed: false, Cancelled: true, Input: inv.Input, Reason: "cancelled"}
}

// runHook shields the pipeline from a misbehaving hook: a panic surfaces as
// an error, which Evaluate converts into an implicit deny.
func (p *Pipeline) runHook(ctx context.Context, hook Hook, inv *protocol.ToolInvocation, prior HookResult) (result HookResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return hook.Evaluate(ctx, inv, prior)
}

// Complete records the invocation's terminal outcome and runs the
// post-hooks. Outcome is one of ok, error, denied, cancelled, or
// schema-invalid; post-hooks see it but cannot change it.
func (p *Pipeline) Complete(ctx context.Context, inv *protocol.ToolInvocation, outcome string) {
	p.sink.RecordDetail(audit.KindToolResult, inv.ID, outcome, map[string]any{"tool": inv.ToolName})
	for i, post := range p.post {
		p.runPostHook(ctx, i, post, inv, outcome)
	}
}

// runPostHook keeps a faulting post-hook from crashing the session; the
// fault is itself audited.
func (p *Pipeline) runPostHook(ctx context.Context, idx int, post PostHook, inv *protocol.ToolInvocation, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			p.sink.RecordDetail(audit.KindPostHook, inv.ID, fmt.Sprintf("fault: %v", r), map[string]any{"hook": idx, "tool": inv.ToolName})
		}
	}()
	post(ctx, inv, outcome)
	p.sink.RecordDetail(audit.KindPostHook, inv.ID, "observed", map[string]any{"hook": idx, "tool": inv.ToolName})
}
