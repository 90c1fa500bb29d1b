// Package notify provides cross-platform desktop notification support for
// camcode sessions.
//
// Notifications alert users who have stepped away from the terminal when a
// tool invocation is denied, a permission prompt is waiting on them, or a
// turn completes. It supports three major platforms with graceful no-op
// fallback elsewhere:
//
//   - macOS: osascript for visual, afplay for sound
//   - Linux: notify-send for visual, paplay for sound
//   - Windows: PowerShell toast for visual and sound
//
// Notifications are opt-in, auto-disabled in CI and non-interactive
// sessions, and dispatched with a timeout so a stuck notifier never blocks
// the session.
//
// Example:
//
//	cfg := notify.DefaultConfig()
//	cfg.Enabled = true
//	handler := notify.NewHandler(cfg)
//	handler.OnToolDenied("Bash", "blocked dangerous command")
package notify
