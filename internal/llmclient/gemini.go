package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/deltaengine/delta/internal/deltaerr"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKeyEnv string
}

// GeminiProvider implements Provider against Google's Generative Language
// API. It exists alongside OpenAIProvider to demonstrate that the engine's
// Request/Response contract is provider-agnostic (spec.md §4.5); the
// wire-level translation differs substantially (genai's typed Content/Part
// model versus a flat chat-message array) but the exposed surface is
// identical.
type GeminiProvider struct {
	client *genai.Client
	apiKey string
}

// NewGeminiProvider constructs a provider, failing with APIKeyError if the
// configured environment variable is unset.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &deltaerr.APIKeyError{EnvVar: cfg.APIKeyEnv}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("construct genai client: %w", err)
	}
	return &GeminiProvider{client: client, apiKey: apiKey}, nil
}

// Call implements Provider (spec.md §4.5).
func (p *GeminiProvider) Call(ctx context.Context, req Request) (Response, error) {
	contents, systemInstruction := toGenaiContents(req.Messages)

	config := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		config.Temperature = &t
	}
	if req.TopP != nil {
		tp := float32(*req.TopP)
		config.TopP = &tp
	}
	if req.MaxTokens != nil {
		mt := int32(*req.MaxTokens)
		config.MaxOutputTokens = mt
	}
	for _, t := range toolsForRequest(req.Tools) {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{toGenaiFunctionDecl(t)},
		})
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return Response{}, &deltaerr.LLMError{Type: "gemini_error", Message: err.Error(), Err: err}
	}
	if len(resp.Candidates) == 0 {
		return Response{}, &deltaerr.LLMError{Message: "no candidates in gemini response"}
	}
	cand := resp.Candidates[0]

	var content string
	var toolCalls []ToolCall
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				content += part.Text
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, ToolCall{
					ID:        part.FunctionCall.Name,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}

	finish := FinishStop
	if len(toolCalls) > 0 {
		finish = FinishToolCalls
	} else if cand.FinishReason == genai.FinishReasonMaxTokens {
		finish = FinishLength
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return Response{Content: content, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}, nil
}

func toGenaiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if systemInstruction == nil {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			} else {
				systemInstruction.Parts = append(systemInstruction.Parts, &genai.Part{Text: m.Content})
			}
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		case RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments}})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"content": m.Content}
			}
			contents = append(contents, &genai.Content{Role: "function", Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{Name: m.ToolCallID, Response: result},
			}}})
		}
	}
	return contents, systemInstruction
}

func toGenaiFunctionDecl(t ToolSpec) *genai.FunctionDeclaration {
	props := map[string]*genai.Schema{}
	var required []string
	for _, p := range t.Parameters {
		props[p.Name] = &genai.Schema{Type: genaiSchemaType(p.Type), Description: p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   required,
		},
	}
}

func genaiSchemaType(semantic string) genai.Type {
	switch semantic {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
