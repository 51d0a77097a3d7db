package llmclient

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// askHumanTool is the built-in tool every request offers (spec.md §4.5):
// "parameters are {prompt: string, input_type ∈ {text, password,
// confirmation}, sensitive: boolean} with only prompt required."
var askHumanTool = ToolSpec{
	Name:        "ask_human",
	Description: "Pause the run and ask a human a question, waiting for their reply.",
	Parameters: []ToolParamSpec{
		{Name: "prompt", Type: "string", Required: true},
		{Name: "input_type", Type: "string"},
		{Name: "sensitive", Type: "boolean"},
	},
}

// buildToolSchema renders one ToolSpec into the JSON-schema-like shape
// spec.md §4.5 requires: {type: object, properties: {...}, required: [...]},
// using invopop/jsonschema's typed Schema so the output is a real JSON
// Schema document rather than a hand-rolled map.
func buildToolSchema(spec ToolSpec) *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, p := range spec.Parameters {
		props.Set(p.Name, &jsonschema.Schema{
			Type:        jsonSchemaType(p.Type),
			Description: p.Description,
		})
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func jsonSchemaType(semantic string) string {
	switch semantic {
	case "integer", "number", "boolean", "array", "object":
		return semantic
	default:
		return "string"
	}
}

// toolsForRequest appends the built-in ask_human tool to the caller's
// declared tools, as every request must offer it (spec.md §4.5).
func toolsForRequest(tools []ToolSpec) []ToolSpec {
	out := make([]ToolSpec, 0, len(tools)+1)
	out = append(out, tools...)
	out = append(out, askHumanTool)
	return out
}

// normalizeArguments maps the empty-string/"undefined"/"null" argument
// bodies some providers emit for zero-parameter tool calls to {} (spec.md
// §4.5).
func normalizeArguments(raw string) string {
	switch raw {
	case "", "undefined", "null":
		return "{}"
	default:
		return raw
	}
}
