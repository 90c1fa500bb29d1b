package pipeline

import (
	"context"
	"strings"
)

// dangerousPatterns are Bash fragments that are never allowed through,
// regardless of any custom permission callback.
var dangerousPatterns = []string{
	"rm -rf /",
	":(){ :|:& };:",
	"mkfs",
	"> /dev/sda",
}

// GuardedPermission wraps a permission callback with a guard that denies
// Bash commands containing known destructive patterns before the wrapped
// callback ever sees them. A nil next allows everything the guard passes.
func GuardedPermission(next PermissionFunc) PermissionFunc {
	return func(ctx context.Context, toolName string, input map[string]any) PermissionDecision {
		if toolName == "Bash" {
			command, _ := input["command"].(string)
			for _, pattern := range dangerousPatterns {
				if strings.Contains(command, pattern) {
					return DenyPermission("Cameron Code blocked dangerous command: " + pattern)
				}
			}
		}
		if next != nil {
			return next(ctx, toolName, input)
		}
		return Allow()
	}
}
