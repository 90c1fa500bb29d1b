package provider

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Registry is a thread-safe provider table. It is an injected collaborator:
// the CLI constructs one per process and passes it down, so tests can use
// isolated registries.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Config
}

// NewRegistry creates a Registry pre-populated with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Config)}
	for _, p := range builtins() {
		r.providers[p.Name] = p
	}
	return r
}

// Lookup retrieves a provider by name.
func (r *Registry) Lookup(name string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return Config{}, &UnknownProviderError{Name: name}
	}
	return p, nil
}

// RegisterCustom adds an ad-hoc provider for this process. Duplicate names
// overwrite silently (last write wins): endpoints and credentials are cheap
// to replace during experimentation, unlike tool identities.
func (r *Registry) RegisterCustom(name, baseURL, defaultModel, description string, authEnvVar string) Config {
	if authEnvVar == "" {
		authEnvVar = EnvAuthToken
	}
	p := Config{
		Name:         name,
		DisplayName:  name,
		BaseURL:      baseURL,
		DefaultModel: defaultModel,
		AuthEnvVar:   authEnvVar,
		Description:  description,
	}
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
	return p
}

// List returns registered providers in alphabetical order, optionally
// restricted to official ones.
func (r *Registry) List(officialOnly bool) []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.providers))
	for _, p := range r.providers {
		if officialOnly && !p.Official {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnvExample renders shell export commands for configuring a provider.
func (r *Registry) EnvExample(name string) (string, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return "", err
	}

	lines := []string{fmt.Sprintf("# %s configuration", p.DisplayName)}
	if p.BaseURL != "" {
		lines = append(lines, fmt.Sprintf("export %s=%q", EnvBaseURL, p.BaseURL))
	}
	authVar := p.AuthEnvVar
	if authVar == "" {
		authVar = EnvAuthToken
	}
	lines = append(lines, fmt.Sprintf("export %s=\"your-api-key-here\"", authVar))
	if p.DefaultModel != "" {
		lines = append(lines, fmt.Sprintf("export %s=%q", EnvModel, p.DefaultModel))
	}

	extras := make([]string, 0, len(p.EnvVars))
	for k := range p.EnvVars {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		lines = append(lines, fmt.Sprintf("export %s=%q", k, p.EnvVars[k]))
	}

	return strings.Join(lines, "\n"), nil
}

// CurrentInfo describes the provider the process environment selects.
type CurrentInfo struct {
	Name        string
	DisplayName string
	Description string
	BaseURL     string
	Model       string
	Official    bool
}

// CurrentFromEnv inspects the environment to report the active provider.
func (r *Registry) CurrentFromEnv() CurrentInfo {
	baseURL := os.Getenv(EnvBaseURL)
	model := os.Getenv(EnvModel)

	if os.Getenv("CLAUDE_CODE_USE_BEDROCK") != "" {
		return r.infoFor("bedrock", baseURL, model)
	}
	if os.Getenv("CLAUDE_CODE_USE_VERTEX") != "" {
		return r.infoFor("vertex", baseURL, model)
	}
	if baseURL != "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, p := range r.providers {
			if p.BaseURL != "" && strings.Contains(baseURL, p.BaseURL) {
				return CurrentInfo{
					Name:        p.Name,
					DisplayName: p.DisplayName,
					Description: p.Description,
					BaseURL:     baseURL,
					Model:       firstNonEmpty(model, p.DefaultModel),
					Official:    p.Official,
				}
			}
		}
		return CurrentInfo{
			Name:        "custom",
			DisplayName: "Custom Provider",
			Description: fmt.Sprintf("Custom API at %s", baseURL),
			BaseURL:     baseURL,
			Model:       model,
		}
	}
	return r.infoFor("anthropic", baseURL, model)
}

func (r *Registry) infoFor(name, baseURL, model string) CurrentInfo {
	p, err := r.Lookup(name)
	if err != nil {
		return CurrentInfo{Name: name}
	}
	return CurrentInfo{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		BaseURL:     firstNonEmpty(baseURL, p.BaseURL),
		Model:       firstNonEmpty(model, p.DefaultModel),
		Official:    p.Official,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
