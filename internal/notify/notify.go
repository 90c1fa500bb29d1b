package notify

// NotificationType represents the type of notification event
type NotificationType string

const (
	// TypeSuccess indicates a successful operation
	TypeSuccess NotificationType = "success"
	// TypeFailure indicates a failed operation
	TypeFailure NotificationType = "failure"
	// TypeInfo indicates an informational notification
	TypeInfo NotificationType = "info"
)

// OutputType represents the notification output type
type OutputType string

const (
	// OutputSound sends only an audible notification
	OutputSound OutputType = "sound"
	// OutputVisual sends only a visual notification
	OutputVisual OutputType = "visual"
	// OutputBoth sends both sound and visual notifications
	OutputBoth OutputType = "both"
)

// ValidOutputType checks if the given string is a valid output type
func ValidOutputType(s string) bool {
	switch OutputType(s) {
	case OutputSound, OutputVisual, OutputBoth:
		return true
	default:
		return false
	}
}

// NotificationConfig holds user preferences for notification behavior.
type NotificationConfig struct {
	// Enabled is the master switch for all notifications (default: false, opt-in)
	Enabled bool `koanf:"enabled" json:"enabled"`

	// Type specifies the notification output type: sound, visual, or both (default: both)
	Type OutputType `koanf:"type" json:"type"`

	// SoundFile is an optional custom sound file path
	SoundFile string `koanf:"sound_file" json:"sound_file"`

	// OnDeny notifies when a tool invocation is denied (default: true when enabled)
	OnDeny bool `koanf:"on_deny" json:"on_deny"`

	// OnAsk notifies when a tool invocation is waiting on a permission
	// decision, so a user away from the terminal knows to return
	OnAsk bool `koanf:"on_ask" json:"on_ask"`

	// OnTurnComplete notifies when the agent finishes a turn (default: false)
	OnTurnComplete bool `koanf:"on_turn_complete" json:"on_turn_complete"`
}

// DefaultConfig returns a NotificationConfig with default values
func DefaultConfig() NotificationConfig {
	return NotificationConfig{
		Enabled:        false,
		Type:           OutputBoth,
		SoundFile:      "",
		OnDeny:         true,
		OnAsk:          true,
		OnTurnComplete: false,
	}
}

// Notification represents a single notification event to dispatch
type Notification struct {
	// Title is the notification title (e.g., "camcode")
	Title string

	// Message is the notification body text
	Message string

	// NotificationType indicates the event type: success, failure, or info
	NotificationType NotificationType
}

// NewNotification creates a new Notification with the given parameters
func NewNotification(title, message string, notificationType NotificationType) Notification {
	return Notification{
		Title:            title,
		Message:          message,
		NotificationType: notificationType,
	}
}
