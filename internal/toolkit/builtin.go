package toolkit

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// BuiltinServerName groups the tools that ship with camcode.
const BuiltinServerName = "cameron-tools"

// RegisterBuiltins adds the bundled tools to the router.
func RegisterBuiltins(r *Router) error {
	for _, tool := range []Tool{searchTool(), timeTool()} {
		if err := r.Register(BuiltinServerName, tool); err != nil {
			return err
		}
	}
	return nil
}

// knowledgeBase is the simulated private store cameron_search matches
// against.
var knowledgeBase = map[string]string{
	"favorite_color": "Cameron's favorite color is blue.",
	"project":        "Cameron is working on extending Claude Code.",
	"coffee":         "Cameron prefers oat milk lattes.",
}

func searchTool() Tool {
	return Tool{
		Name:        "cameron_search",
		Description: "Search Cameron's private knowledge base for information",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "The search query"},
			},
			Required: []string{"query"},
		},
		Handler: func(_ context.Context, input map[string]any) (*Result, error) {
			query, _ := input["query"].(string)
			needle := strings.ToLower(query)

			keys := make([]string, 0, len(knowledgeBase))
			for key := range knowledgeBase {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			var results []string
			for _, key := range keys {
				value := knowledgeBase[key]
				if strings.Contains(strings.ToLower(key), needle) ||
					strings.Contains(strings.ToLower(value), needle) {
					results = append(results, value)
				}
			}
			if len(results) == 0 {
				results = []string{"No results found for '" + query + "' in Cameron's knowledge base."}
			}
			return TextResult(strings.Join(results, "\n")), nil
		},
	}
}

func timeTool() Tool {
	return Tool{
		Name:        "cameron_time",
		Description: "Get the current time in Cameron's timezone (CST)",
		InputSchema: &jsonschema.Schema{Type: "object"},
		Handler: func(_ context.Context, _ map[string]any) (*Result, error) {
			now := time.Now().UTC()
			return TextResult("Current UTC time: " + now.Format(time.RFC3339)), nil
		},
	}
}
