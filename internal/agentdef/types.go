// Package agentdef loads an agent definition (spec.md §3.1: "name, version,
// LLM parameters, maximum iteration count, catalog of tool definitions,
// optional lifecycle hooks, optional list of imported tool-definition
// files") from YAML into the typed form the rest of the runtime consumes.
package agentdef

import (
	"time"

	"github.com/deltaengine/delta/internal/hookexec"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/toolexec"
)

// DefaultMaxIterations is used when an agent definition omits max_iterations
// (spec.md §3.1).
const DefaultMaxIterations = 30

// LLMParams is the Agent Definition's LLM parameter set.
type LLMParams struct {
	Provider         string
	Model            string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
}

// ToolCatalogEntry pairs the executor's view of a tool (argv template,
// injection modes) with the LLM Adapter's view (name, description, semantic
// parameter types) — both are produced from the same YAML tool entry.
type ToolCatalogEntry struct {
	Exec toolexec.Definition
	Spec llmclient.ToolSpec
}

// Definition is the fully loaded, import-resolved, sugar-expanded agent
// definition.
type Definition struct {
	Name          string
	Version       string
	SystemPrompt  string
	LLM           LLMParams
	MaxIterations int
	Tools         []ToolCatalogEntry
	Hooks         map[hookexec.Point]hookexec.Definition
}

// Tool looks up a catalog entry by name.
func (d Definition) Tool(name string) (ToolCatalogEntry, bool) {
	for _, t := range d.Tools {
		if t.Exec.Name == name {
			return t, true
		}
	}
	return ToolCatalogEntry{}, false
}

// Hook looks up a configured hook by lifecycle point.
func (d Definition) Hook(point hookexec.Point) (hookexec.Definition, bool) {
	h, ok := d.Hooks[point]
	return h, ok
}

func durationFromMS(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
