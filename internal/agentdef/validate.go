package agentdef

import (
	"fmt"

	"github.com/deltaengine/delta/internal/deltaerr"
)

// validate applies the Agent Definition invariants spec.md §3.1 and §7
// require to fail at load time rather than surface mid-run.
func validate(def Definition, path string) error {
	if def.Name == "" {
		return &deltaerr.ConfigError{Path: path, Err: fmt.Errorf("agent definition requires a name")}
	}
	if def.LLM.Model == "" {
		return &deltaerr.ConfigError{Path: path, Err: fmt.Errorf("agent definition requires llm.model")}
	}
	if def.MaxIterations <= 0 {
		return &deltaerr.ConfigError{Path: path, Err: fmt.Errorf("max_iterations must be positive")}
	}

	seen := make(map[string]bool, len(def.Tools))
	for _, t := range def.Tools {
		if seen[t.Exec.Name] {
			return &deltaerr.ConfigError{Path: path, Err: fmt.Errorf("duplicate tool name %q", t.Exec.Name)}
		}
		seen[t.Exec.Name] = true
	}
	return nil
}
