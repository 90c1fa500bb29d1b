package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupBuiltins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	tests := map[string]struct {
		name        string
		wantBaseURL string
		wantModel   string
		wantOffical bool
	}{
		"anthropic":  {name: "anthropic", wantOffical: true},
		"bedrock":    {name: "bedrock", wantOffical: true},
		"deepseek":   {name: "deepseek", wantBaseURL: "https://api.deepseek.com/anthropic", wantModel: "deepseek-chat"},
		"reasoner":   {name: "deepseek-reasoner", wantBaseURL: "https://api.deepseek.com/anthropic", wantModel: "deepseek-reasoner"},
		"glm":        {name: "glm", wantBaseURL: "https://api.z.ai/api/anthropic", wantModel: "glm-4.5-air"},
		"openrouter": {name: "openrouter", wantBaseURL: "https://openrouter.ai/api/v1", wantModel: "anthropic/claude-3.5-sonnet"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, err := r.Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.name, p.Name)
			assert.Equal(t, tt.wantBaseURL, p.BaseURL)
			assert.Equal(t, tt.wantModel, p.DefaultModel)
			assert.Equal(t, tt.wantOffical, p.Official)
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Lookup("nope")
	require.Error(t, err)

	var unknownErr *UnknownProviderError
	require.True(t, errors.As(err, &unknownErr))
	assert.Equal(t, "nope", unknownErr.Name)
}

func TestRegisterCustom(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	p := r.RegisterCustom("my-proxy", "http://localhost:8080", "gpt-4", "Local proxy", "")

	assert.Equal(t, "my-proxy", p.Name)
	assert.Equal(t, EnvAuthToken, p.AuthEnvVar)
	assert.False(t, p.Official)

	got, err := r.Lookup("my-proxy")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got.BaseURL)
}

func TestRegisterCustomLastWriteWins(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterCustom("proxy", "http://first:8080", "", "", "")
	r.RegisterCustom("proxy", "http://second:9090", "", "", "")

	got, err := r.Lookup("proxy")
	require.NoError(t, err)
	assert.Equal(t, "http://second:9090", got.BaseURL)
}

func TestList(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	all := r.List(false)
	require.NotEmpty(t, all)
	// Alphabetical ordering.
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}

	official := r.List(true)
	require.Len(t, official, 3)
	for _, p := range official {
		assert.True(t, p.Official)
	}
}

func TestEnvExample(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	t.Run("community provider", func(t *testing.T) {
		t.Parallel()
		snippet, err := r.EnvExample("glm")
		require.NoError(t, err)
		assert.Contains(t, snippet, `export ANTHROPIC_BASE_URL="https://api.z.ai/api/anthropic"`)
		assert.Contains(t, snippet, `export ANTHROPIC_AUTH_TOKEN="your-api-key-here"`)
		assert.Contains(t, snippet, `export ANTHROPIC_MODEL="glm-4.5-air"`)
	})

	t.Run("official env-flag provider", func(t *testing.T) {
		t.Parallel()
		snippet, err := r.EnvExample("bedrock")
		require.NoError(t, err)
		assert.Contains(t, snippet, `export CLAUDE_CODE_USE_BEDROCK="1"`)
		assert.NotContains(t, snippet, "ANTHROPIC_BASE_URL")
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()
		_, err := r.EnvExample("missing")
		var unknownErr *UnknownProviderError
		require.True(t, errors.As(err, &unknownErr))
	})
}

func TestCurrentFromEnv(t *testing.T) {
	r := NewRegistry()

	t.Run("default is anthropic", func(t *testing.T) {
		t.Setenv(EnvBaseURL, "")
		t.Setenv(EnvModel, "")
		t.Setenv("CLAUDE_CODE_USE_BEDROCK", "")
		t.Setenv("CLAUDE_CODE_USE_VERTEX", "")

		info := r.CurrentFromEnv()
		assert.Equal(t, "anthropic", info.Name)
	})

	t.Run("matches known base url", func(t *testing.T) {
		t.Setenv("CLAUDE_CODE_USE_BEDROCK", "")
		t.Setenv("CLAUDE_CODE_USE_VERTEX", "")
		t.Setenv(EnvBaseURL, "https://api.deepseek.com/anthropic")
		t.Setenv(EnvModel, "")

		info := r.CurrentFromEnv()
		assert.Equal(t, "deepseek", info.Name)
		assert.Equal(t, "deepseek-chat", info.Model)
	})

	t.Run("bedrock flag wins", func(t *testing.T) {
		t.Setenv("CLAUDE_CODE_USE_BEDROCK", "1")
		t.Setenv(EnvBaseURL, "")

		info := r.CurrentFromEnv()
		assert.Equal(t, "bedrock", info.Name)
	})

	t.Run("unknown base url reports custom", func(t *testing.T) {
		t.Setenv("CLAUDE_CODE_USE_BEDROCK", "")
		t.Setenv("CLAUDE_CODE_USE_VERTEX", "")
		t.Setenv(EnvBaseURL, "http://localhost:4000")

		info := r.CurrentFromEnv()
		assert.Equal(t, "custom", info.Name)
		assert.Equal(t, "http://localhost:4000", info.BaseURL)
	})
}
