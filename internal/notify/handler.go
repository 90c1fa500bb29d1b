package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// appTitle is the notification title for all camcode notifications.
const appTitle = "camcode"

// Handler manages notification dispatch based on configuration. It wraps a
// Sender and exposes event methods for the session events users care about
// while away from the terminal: denials, permission prompts, turn ends.
type Handler struct {
	config NotificationConfig
	sender Sender
}

// NewHandler creates a new notification handler with the given configuration.
// If notifications are disabled in config, the handler will no-op on all calls.
func NewHandler(config NotificationConfig) *Handler {
	return &Handler{
		config: config,
		sender: NewSender(),
	}
}

// NewHandlerWithSender creates a handler with a custom sender (for testing).
func NewHandlerWithSender(config NotificationConfig, sender Sender) *Handler {
	return &Handler{
		config: config,
		sender: sender,
	}
}

// Config returns the handler's notification configuration
func (h *Handler) Config() NotificationConfig {
	return h.config
}

// isEnabled checks if notifications should be sent.
// Returns false if notifications are disabled, running in CI, or non-interactive.
func (h *Handler) isEnabled() bool {
	if !h.config.Enabled {
		return false
	}
	if isCI() {
		return false
	}
	if !isInteractive() {
		return false
	}
	return true
}

// isCI checks for common CI environment variables.
func isCI() bool {
	ciVars := []string{
		"CI",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"TRAVIS",
		"JENKINS_URL",
		"BUILDKITE",
		"DRONE",
		"TEAMCITY_VERSION",
		"TF_BUILD",
		"BITBUCKET_PIPELINES",
		"CODEBUILD_BUILD_ID",
	}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// isInteractive checks if the session is interactive (has TTY).
// Checks stdout rather than stdin because CLI tools often have stdin piped
// while stdout remains connected to the terminal.
func isInteractive() bool {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return true
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return true
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// dispatch sends a notification asynchronously with a timeout. Notification
// failures are silent; a broken notifier must never block or crash the
// session.
func (h *Handler) dispatch(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sendNotification(n)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// sendNotification sends the notification based on configured type
func (h *Handler) sendNotification(n Notification) {
	switch h.config.Type {
	case OutputSound:
		_ = h.sender.SendSound(h.config.SoundFile)
	case OutputVisual:
		_ = h.sender.SendVisual(n)
	case OutputBoth:
		_ = h.sender.SendVisual(n)
		_ = h.sender.SendSound(h.config.SoundFile)
	}
}

// OnToolDenied is called when the pipeline denies a tool invocation.
func (h *Handler) OnToolDenied(toolName, reason string) {
	if !h.isEnabled() || !h.config.OnDeny {
		return
	}
	h.dispatch(NewNotification(
		appTitle,
		fmt.Sprintf("Blocked tool '%s': %s", toolName, reason),
		TypeFailure,
	))
}

// OnPermissionAsk is called when an invocation is suspended waiting for a
// permission decision.
func (h *Handler) OnPermissionAsk(toolName string) {
	if !h.isEnabled() || !h.config.OnAsk {
		return
	}
	h.dispatch(NewNotification(
		appTitle,
		fmt.Sprintf("Tool '%s' is waiting for your permission", toolName),
		TypeInfo,
	))
}

// OnTurnComplete is called when the agent finishes a conversational turn.
func (h *Handler) OnTurnComplete(success bool, duration time.Duration) {
	if !h.isEnabled() || !h.config.OnTurnComplete {
		return
	}

	notifType := TypeSuccess
	status := "completed"
	if !success {
		notifType = TypeFailure
		status = "failed"
	}
	h.dispatch(NewNotification(
		appTitle,
		fmt.Sprintf("Turn %s (%s)", status, formatDuration(duration)),
		notifType,
	))
}

// formatDuration formats a duration for display in notifications
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
