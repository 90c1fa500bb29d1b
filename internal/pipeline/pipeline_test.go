package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameron-labs/camcode/internal/audit"
	"github.com/cameron-labs/camcode/internal/protocol"
)

func invocation(id, tool string, input map[string]any) *protocol.ToolInvocation {
	return &protocol.ToolInvocation{
		ID:       id,
		ToolName: tool,
		Input:    input,
		TurnID:   "turn-1",
		Time:     time.Now(),
	}
}

func TestEvaluateDenyShortCircuits(t *testing.T) {
	t.Parallel()

	var order []int
	hookAt := func(i int, result HookResult) Hook {
		return HookFunc(func(context.Context, *protocol.ToolInvocation, HookResult) (HookResult, error) {
			order = append(order, i)
			return result, nil
		})
	}

	sink := audit.NewSink(nil)
	p := New(sink, WithPreHooks(
		hookAt(0, Continue()),
		hookAt(1, Deny("not on my watch")),
		hookAt(2, Continue()),
	))

	verdict := p.Evaluate(context.Background(), invocation("inv-1", "Bash", nil))

	assert.False(t, verdict.Allowed)
	assert.Equal(t, "not on my watch", verdict.Reason)
	assert.Equal(t, []int{0, 1}, order, "hooks after the denying hook must not run")

	records := sink.Snapshot()
	require.Len(t, records, 2)
	assert.Equal(t, "continue", records[0].Outcome)
	assert.Equal(t, "deny: not on my watch", records[1].Outcome)
}

func TestEvaluateModifyFlowsToLaterHooksAndVerdict(t *testing.T) {
	t.Parallel()

	var seenPrior HookResult
	p := New(audit.NewSink(nil), WithPreHooks(
		HookFunc(func(context.Context, *protocol.ToolInvocation, HookResult) (HookResult, error) {
			return Modify(map[string]any{"command": "ls -la"}), nil
		}),
		HookFunc(func(_ context.Context, _ *protocol.ToolInvocation, prior HookResult) (HookResult, error) {
			seenPrior = prior
			return Continue(), nil
		}),
	))

	verdict := p.Evaluate(context.Background(), invocation("inv-1", "Bash", map[string]any{"command": "ls"}))

	require.True(t, verdict.Allowed)
	assert.Equal(t, "ls -la", verdict.Input["command"])
	assert.Equal(t, DecisionModify, seenPrior.Decision)
}

func TestHookFaultIsImplicitDeny(t *testing.T) {
	t.Parallel()

	tests := map[string]Hook{
		"error return": HookFunc(func(context.Context, *protocol.ToolInvocation, HookResult) (HookResult, error) {
			return HookResult{}, errors.New("backend exploded")
		}),
		"panic": HookFunc(func(context.Context, *protocol.ToolInvocation, HookResult) (HookResult, error) {
			panic("backend exploded")
		}),
	}

	for name, hook := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := New(audit.NewSink(nil), WithPreHooks(hook))
			verdict := p.Evaluate(context.Background(), invocation("inv-1", "Bash", nil))
			assert.False(t, verdict.Allowed)
			assert.Contains(t, verdict.Reason, "hook fault")
			assert.Contains(t, verdict.Reason, "backend exploded")
		})
	}
}

func TestPermissionOutcomes(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		permission PermissionFunc
		allowed    bool
		reason     string
	}{
		"nil policy allows": {permission: nil, allowed: true},
		"explicit allow": {
			permission: func(context.Context, string, map[string]any) PermissionDecision { return Allow() },
			allowed:    true,
		},
		"explicit deny": {
			permission: func(context.Context, string, map[string]any) PermissionDecision {
				return DenyPermission("policy says no")
			},
			allowed: false,
			reason:  "policy says no",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := New(audit.NewSink(nil), WithPermission(tc.permission))
			verdict := p.Evaluate(context.Background(), invocation("inv-1", "Read", nil))
			assert.Equal(t, tc.allowed, verdict.Allowed)
			assert.Equal(t, tc.reason, verdict.Reason)
		})
	}
}

func TestAskResolvedByExternalDecision(t *testing.T) {
	t.Parallel()

	p := New(audit.NewSink(nil),
		WithPermission(func(context.Context, string, map[string]any) PermissionDecision { return Ask() }),
		WithAskTimeout(5*time.Second),
	)

	verdicts := make(chan Verdict, 1)
	go func() {
		verdicts <- p.Evaluate(context.Background(), invocation("inv-1", "Write", map[string]any{"path": "a.txt"}))
	}()

	require.Eventually(t, func() bool {
		return len(p.Asks().Pending()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, p.Asks().Resolve("inv-1", AskDecision{Allow: true}))

	verdict := <-verdicts
	assert.True(t, verdict.Allowed)
}

func TestAskTimesOutToDeny(t *testing.T) {
	t.Parallel()

	p := New(audit.NewSink(nil),
		WithPermission(func(context.Context, string, map[string]any) PermissionDecision { return Ask() }),
		WithAskTimeout(50*time.Millisecond),
	)

	start := time.Now()
	verdict := p.Evaluate(context.Background(), invocation("inv-1", "Write", nil))

	assert.False(t, verdict.Allowed)
	assert.Equal(t, "timed out", verdict.Reason)
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must resolve within the configured bound")
}

func TestAskDoesNotBlockOtherInvocations(t *testing.T) {
	t.Parallel()

	p := New(audit.NewSink(nil),
		WithPermission(func(_ context.Context, toolName string, _ map[string]any) PermissionDecision {
			if toolName == "Write" {
				return Ask()
			}
			return Allow()
		}),
		WithAskTimeout(5*time.Second),
	)

	go p.Evaluate(context.Background(), invocation("inv-ask", "Write", nil))
	require.Eventually(t, func() bool {
		return len(p.Asks().Pending()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan Verdict, 1)
	go func() {
		done <- p.Evaluate(context.Background(), invocation("inv-read", "Read", nil))
	}()

	select {
	case verdict := <-done:
		assert.True(t, verdict.Allowed)
	case <-time.After(2 * time.Second):
		t.Fatal("an unrelated invocation was blocked by a pending ask")
	}

	p.Asks().Resolve("inv-ask", AskDecision{Allow: false, Reason: "no"})
}

func TestCancelledInvocationProducesTerminalRecord(t *testing.T) {
	t.Parallel()

	sink := audit.NewSink(nil)
	p := New(sink,
		WithPermission(func(context.Context, string, map[string]any) PermissionDecision { return Ask() }),
		WithAskTimeout(5*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	verdicts := make(chan Verdict, 1)
	go func() {
		verdicts <- p.Evaluate(ctx, invocation("inv-1", "Write", nil))
	}()
	require.Eventually(t, func() bool {
		return len(p.Asks().Pending()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	verdict := <-verdicts

	assert.True(t, verdict.Cancelled)
	assert.False(t, verdict.Allowed)

	records := sink.Snapshot()
	require.NotEmpty(t, records)
	last := records[len(records)-1]
	assert.Equal(t, audit.KindToolResult, last.Kind)
	assert.Equal(t, "cancelled", last.Outcome)
}

func TestCompleteRunsPostHooksAfterOutcome(t *testing.T) {
	t.Parallel()

	var observed []string
	sink := audit.NewSink(nil)
	p := New(sink, WithPostHooks(
		func(_ context.Context, inv *protocol.ToolInvocation, outcome string) {
			observed = append(observed, inv.ToolName+":"+outcome)
		},
		func(context.Context, *protocol.ToolInvocation, string) {
			panic("post-hook bug")
		},
	))

	p.Complete(context.Background(), invocation("inv-1", "Read", nil), "ok")

	assert.Equal(t, []string{"Read:ok"}, observed)

	records := sink.Snapshot()
	require.Len(t, records, 3, "tool-result + two post-hook records")
	assert.Equal(t, audit.KindToolResult, records[0].Kind)
	assert.Equal(t, "ok", records[0].Outcome)
	assert.Equal(t, "observed", records[1].Outcome)
	assert.Contains(t, records[2].Outcome, "fault: post-hook bug")
}

func TestResolveUnknownInvocation(t *testing.T) {
	t.Parallel()

	broker := NewAskBroker()
	assert.False(t, broker.Resolve("never-asked", AskDecision{Allow: true}))
}
