package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardBlocksDangerousBash(t *testing.T) {
	t.Parallel()

	guard := GuardedPermission(nil)

	tests := map[string]struct {
		tool    string
		command string
		allowed bool
	}{
		"recursive root delete": {tool: "Bash", command: "rm -rf / --no-preserve-root", allowed: false},
		"fork bomb":             {tool: "Bash", command: ":(){ :|:& };:", allowed: false},
		"mkfs":                  {tool: "Bash", command: "mkfs.ext4 /dev/sdb1", allowed: false},
		"device overwrite":      {tool: "Bash", command: "cat junk > /dev/sda", allowed: false},
		"harmless command":      {tool: "Bash", command: "ls -la", allowed: true},
		"pattern in other tool": {tool: "Read", command: "rm -rf /", allowed: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			decision := guard(context.Background(), tc.tool, map[string]any{"command": tc.command})
			if tc.allowed {
				assert.Equal(t, BehaviorAllow, decision.Behavior)
			} else {
				assert.Equal(t, BehaviorDeny, decision.Behavior)
				assert.Contains(t, decision.Reason, "blocked dangerous command")
			}
		})
	}
}

func TestGuardDelegatesToNext(t *testing.T) {
	t.Parallel()

	guard := GuardedPermission(func(context.Context, string, map[string]any) PermissionDecision {
		return Ask()
	})

	decision := guard(context.Background(), "Bash", map[string]any{"command": "git push"})
	assert.Equal(t, BehaviorAsk, decision.Behavior)

	// Guard verdicts are not delegable.
	decision = guard(context.Background(), "Bash", map[string]any{"command": "mkfs /dev/sdb"})
	assert.Equal(t, BehaviorDeny, decision.Behavior)
}
