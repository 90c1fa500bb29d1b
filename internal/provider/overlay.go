package provider

import (
	"fmt"
	"os"

	"github.com/cameron-labs/camcode/internal/config"
)

// Apply overlays a provider's connection parameters onto a base session
// configuration and returns the new effective configuration. Neither the
// base nor the provider is mutated; working directory, setting sources and
// permission mode carry over from the base untouched.
//
// The model is taken from modelOverride if supplied, otherwise from the
// provider's default, otherwise left as the base's value. When the provider
// names an auth env var and no key is supplied, the env var must be set —
// an absent credential is a ConfigurationError at apply time, not a silent
// empty token at launch.
func Apply(base config.Session, p Config, apiKey, modelOverride string) (config.Session, error) {
	out := base.Clone()

	if p.BaseURL != "" {
		out.BaseURL = p.BaseURL
	}

	token := apiKey
	if token == "" && p.AuthEnvVar != "" {
		token = os.Getenv(p.AuthEnvVar)
		if token == "" {
			return config.Session{}, &ConfigurationError{
				Reason: fmt.Sprintf("provider %q requires an API key but none was supplied and %s is not set", p.Name, p.AuthEnvVar),
			}
		}
	}
	if token != "" {
		out.AuthToken = token
	}

	switch {
	case modelOverride != "":
		out.Model = modelOverride
	case p.DefaultModel != "":
		out.Model = p.DefaultModel
	}

	if len(p.EnvVars) > 0 {
		if out.Env == nil {
			out.Env = make(map[string]string, len(p.EnvVars))
		}
		for k, v := range p.EnvVars {
			out.Env[k] = v
		}
	}

	return out, nil
}
