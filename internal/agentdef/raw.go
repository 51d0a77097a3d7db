package agentdef

// rawAgent is the direct YAML shape of an agent definition file. Tools and
// Hooks are decoded as generic maps first and then routed through
// mapstructure (see decodeMap in loader.go) into rawTool/rawHook, matching
// the teacher's config-decoding idiom of accepting loosely-typed YAML
// fragments and coercing them with mapstructure rather than hand-rolled
// type assertions.
type rawAgent struct {
	Name          string                    `yaml:"name"`
	Version       string                    `yaml:"version"`
	SystemPrompt  string                    `yaml:"system_prompt"`
	LLM           rawLLM                    `yaml:"llm"`
	MaxIterations int                       `yaml:"max_iterations"`
	Tools         map[string]map[string]any `yaml:"tools"`
	Hooks         map[string]map[string]any `yaml:"hooks"`
	Imports       []string                  `yaml:"imports"`
}

type rawLLM struct {
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	Temperature      *float64 `yaml:"temperature"`
	TopP             *float64 `yaml:"top_p"`
	MaxTokens        *int     `yaml:"max_tokens"`
	PresencePenalty  *float64 `yaml:"presence_penalty"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty"`
}

// rawTool is the post-mapstructure shape of one tools.<name> entry, before
// exec:/shell: sugar expansion (spec.md §4.2).
type rawTool struct {
	Description string     `yaml:"description"`
	Exec        string     `yaml:"exec"`
	Shell       string     `yaml:"shell"`
	Command     []string   `yaml:"command"`
	Parameters  []rawParam `yaml:"parameters"`
}

type rawParam struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Injection   string `yaml:"injection"`
	OptionName  string `yaml:"option_name"`
}

type rawHook struct {
	Command   []string `yaml:"command"`
	TimeoutMS int      `yaml:"timeout_ms"`
}
