package agentdef

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/hookexec"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/toolexec"
)

// Load reads and fully resolves an agent definition file: YAML parsing,
// exec:/shell: sugar expansion, imports:, and validation (spec.md §3.1,
// §4.2, §7 "Configuration error"). This is the single loading path chosen
// to resolve spec.md §9's Open Question between the legacy
// loadAndValidateAgent path and loadConfigWithCompat — only the newer
// imports-and-inline-hooks form is implemented.
func Load(path string) (Definition, error) {
	return load(path, map[string]bool{})
}

func load(path string, visited map[string]bool) (Definition, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Definition{}, &deltaerr.ConfigError{Path: path, Err: err}
	}
	if visited[abs] {
		return Definition{}, &deltaerr.ConfigError{Path: abs, Err: fmt.Errorf("import cycle detected")}
	}
	visited[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return Definition{}, &deltaerr.ConfigError{Path: abs, Err: err}
	}

	var raw rawAgent
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Definition{}, &deltaerr.ConfigError{Path: abs, Err: err}
	}

	def := Definition{
		Name:          raw.Name,
		Version:       raw.Version,
		SystemPrompt:  raw.SystemPrompt,
		MaxIterations: raw.MaxIterations,
		LLM: LLMParams{
			Provider:         raw.LLM.Provider,
			Model:            raw.LLM.Model,
			Temperature:      raw.LLM.Temperature,
			TopP:             raw.LLM.TopP,
			MaxTokens:        raw.LLM.MaxTokens,
			PresencePenalty:  raw.LLM.PresencePenalty,
			FrequencyPenalty: raw.LLM.FrequencyPenalty,
		},
		Hooks: map[hookexec.Point]hookexec.Definition{},
	}
	if def.MaxIterations == 0 {
		def.MaxIterations = DefaultMaxIterations
	}

	names := make([]string, 0, len(raw.Tools))
	for name := range raw.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var rt rawTool
		if err := decodeMap(raw.Tools[name], &rt); err != nil {
			return Definition{}, &deltaerr.ConfigError{Path: abs, Err: fmt.Errorf("tool %q: %w", name, err)}
		}
		entry, err := buildToolEntry(name, rt)
		if err != nil {
			return Definition{}, &deltaerr.ConfigError{Path: abs, Err: err}
		}
		def.Tools = append(def.Tools, entry)
	}

	hookNames := make([]string, 0, len(raw.Hooks))
	for name := range raw.Hooks {
		hookNames = append(hookNames, name)
	}
	sort.Strings(hookNames)
	for _, name := range hookNames {
		var rh rawHook
		if err := decodeMap(raw.Hooks[name], &rh); err != nil {
			return Definition{}, &deltaerr.ConfigError{Path: abs, Err: fmt.Errorf("hook %q: %w", name, err)}
		}
		point := hookexec.Point(name)
		if !validPoint(point) {
			return Definition{}, &deltaerr.ConfigError{Path: abs, Err: fmt.Errorf("unknown hook lifecycle point %q", name)}
		}
		def.Hooks[point] = hookexec.Definition{
			Name:    name,
			Point:   point,
			Argv:    rh.Command,
			Timeout: durationFromMS(rh.TimeoutMS),
		}
	}

	for _, imp := range raw.Imports {
		importPath := imp
		if !filepath.IsAbs(importPath) {
			importPath = filepath.Join(filepath.Dir(abs), importPath)
		}
		imported, err := load(importPath, visited)
		if err != nil {
			return Definition{}, err
		}
		def.Tools = append(def.Tools, imported.Tools...)
		for point, h := range imported.Hooks {
			if _, exists := def.Hooks[point]; !exists {
				def.Hooks[point] = h
			}
		}
	}

	if err := validate(def, abs); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// decodeMap coerces a generic YAML fragment into a typed struct via
// mapstructure, reusing the `yaml` struct tags as the decode key, matching
// the teacher's config package's mapstructure-based decoding of
// loosely-typed configuration fragments.
func decodeMap(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

func buildToolEntry(name string, rt rawTool) (ToolCatalogEntry, error) {
	sugarCount := 0
	if rt.Exec != "" {
		sugarCount++
	}
	if rt.Shell != "" {
		sugarCount++
	}
	if sugarCount > 1 {
		return ToolCatalogEntry{}, fmt.Errorf("tool %q specifies more than one of exec/shell", name)
	}

	var argvBase []string
	var params []rawParam
	switch {
	case rt.Exec != "":
		argvBase, params = expandExecSugar(rt.Exec)
	case rt.Shell != "":
		argvBase, params = expandShellSugar(rt.Shell)
	default:
		argvBase, params = rt.Command, rt.Parameters
	}
	if len(argvBase) == 0 {
		return ToolCatalogEntry{}, fmt.Errorf("tool %q has an empty command", name)
	}

	execParams := make([]toolexec.ParamSpec, 0, len(params))
	specParams := make([]llmclient.ToolParamSpec, 0, len(params))
	stdinCount := 0
	for _, p := range params {
		injection := toolexec.InjectArgument
		switch p.Injection {
		case "stdin":
			injection = toolexec.InjectStdin
			stdinCount++
		case "option":
			injection = toolexec.InjectOption
			if p.OptionName == "" {
				return ToolCatalogEntry{}, fmt.Errorf("tool %q parameter %q: option injection requires option_name", name, p.Name)
			}
		}
		execParams = append(execParams, toolexec.ParamSpec{Name: p.Name, Injection: injection, OptionName: p.OptionName})
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		specParams = append(specParams, llmclient.ToolParamSpec{
			Name:        p.Name,
			Type:        typ,
			Description: p.Description,
			Required:    p.Required,
		})
	}
	if stdinCount > 1 {
		return ToolCatalogEntry{}, fmt.Errorf("tool %q has more than one stdin-injected parameter", name)
	}

	return ToolCatalogEntry{
		Exec: toolexec.Definition{Name: name, ArgvBase: argvBase, Parameters: execParams},
		Spec: llmclient.ToolSpec{Name: name, Description: rt.Description, Parameters: specParams},
	}, nil
}

func validPoint(p hookexec.Point) bool {
	switch p {
	case hookexec.PreLLMReq, hookexec.PostLLMResp, hookexec.PreToolExec,
		hookexec.PostToolExec, hookexec.OnError, hookexec.OnRunEnd:
		return true
	default:
		return false
	}
}
