// Package provider maps provider names to connection parameters for the
// agent subprocess. The agent CLI supports alternative backends through the
// ANTHROPIC_BASE_URL environment variable, which lets any API implementing
// the same message format serve the session. Official providers (Bedrock,
// Vertex) are selected with dedicated env flags instead of a base URL.
package provider

import "fmt"

// Environment variables the overlay and launcher write.
const (
	EnvBaseURL   = "ANTHROPIC_BASE_URL"
	EnvAuthToken = "ANTHROPIC_AUTH_TOKEN"
	EnvModel     = "ANTHROPIC_MODEL"
)

// Config describes one backend provider. Immutable once constructed.
type Config struct {
	// Name is the unique registry identifier.
	Name string
	// DisplayName is the human-readable name.
	DisplayName string
	// BaseURL is the endpoint override; empty for providers selected by
	// env flags or the CLI default.
	BaseURL string
	// DefaultModel is used when the session does not override the model.
	DefaultModel string
	// AuthEnvVar names the environment variable holding the API key.
	AuthEnvVar string
	// Description is shown in provider listings.
	Description string
	// Official marks first-party providers.
	Official bool
	// EnvVars are extra environment variables the provider requires
	// (e.g. CLAUDE_CODE_USE_BEDROCK=1).
	EnvVars map[string]string
}

// UnknownProviderError reports a lookup of an unregistered provider.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %s", e.Name)
}

// ConfigurationError reports invalid provider or session configuration
// detected before any subprocess is spawned.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// builtins returns the static provider table. Community entries are
// validated against the Anthropic-compatible endpoints they publish.
func builtins() []Config {
	return []Config{
		{
			// No AuthEnvVar: the agent CLI's own login flow covers the
			// native API, so a missing token is not an error here.
			Name:        "anthropic",
			DisplayName: "Anthropic",
			Description: "Native Anthropic API (default)",
			Official:    true,
		},
		{
			Name:        "bedrock",
			DisplayName: "AWS Bedrock",
			Description: "AWS Bedrock Claude models",
			Official:    true,
			EnvVars:     map[string]string{"CLAUDE_CODE_USE_BEDROCK": "1"},
		},
		{
			Name:        "vertex",
			DisplayName: "Google Vertex AI",
			Description: "Google Vertex AI Claude models",
			Official:    true,
			EnvVars:     map[string]string{"CLAUDE_CODE_USE_VERTEX": "1"},
		},
		{
			Name:         "deepseek",
			DisplayName:  "DeepSeek",
			BaseURL:      "https://api.deepseek.com/anthropic",
			DefaultModel: "deepseek-chat",
			AuthEnvVar:   EnvAuthToken,
			Description:  "DeepSeek API with Anthropic compatibility",
		},
		{
			Name:         "deepseek-reasoner",
			DisplayName:  "DeepSeek Reasoner",
			BaseURL:      "https://api.deepseek.com/anthropic",
			DefaultModel: "deepseek-reasoner",
			AuthEnvVar:   EnvAuthToken,
			Description:  "DeepSeek R1 reasoning model",
		},
		{
			Name:         "glm",
			DisplayName:  "GLM (Z.AI)",
			BaseURL:      "https://api.z.ai/api/anthropic",
			DefaultModel: "glm-4.5-air",
			AuthEnvVar:   EnvAuthToken,
			Description:  "GLM models via Z.AI Anthropic-compatible API",
		},
		{
			Name:         "openrouter",
			DisplayName:  "OpenRouter",
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "anthropic/claude-3.5-sonnet",
			AuthEnvVar:   EnvAuthToken,
			Description:  "OpenRouter aggregator (requires a translating proxy)",
		},
	}
}
