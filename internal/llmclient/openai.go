package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAI-compatible chat-completions provider.
// BaseURLEnv lets a deployment point at a compatible gateway (Azure, a
// local vLLM server, etc.) without a code change, per spec.md §4.10's
// "optional base-URL env var".
type OpenAIConfig struct {
	APIKeyEnv   string
	BaseURLEnv  string
	DefaultBase string
	Timeout     time.Duration
}

// OpenAIProvider implements Provider against any OpenAI-compatible
// /chat/completions endpoint. Grounded on the teacher's pkg/model/openai
// client shape (Config/New/generate/parseResponse), simplified to the
// chat-completions wire format since the engine's Message list (spec.md
// §4.4) already matches it directly.
type OpenAIProvider struct {
	http    *httpclient.Client
	apiKey  string
	baseURL string
}

// NewOpenAIProvider constructs a provider, failing with APIKeyError if the
// configured environment variable is unset (spec.md §4.5).
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &deltaerr.APIKeyError{EnvVar: cfg.APIKeyEnv}
	}
	baseURL := cfg.DefaultBase
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if cfg.BaseURLEnv != "" {
		if override := os.Getenv(cfg.BaseURLEnv); override != "" {
			baseURL = override
		}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &OpenAIProvider{
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(5),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters"`
}

type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Tools            []chatTool    `json:"tools,omitempty"`
	ToolChoice       string        `json:"tool_choice,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call implements Provider (spec.md §4.5).
func (p *OpenAIProvider) Call(ctx context.Context, req Request) (Response, error) {
	apiReq := chatRequest{
		Model:            req.Model,
		Messages:         toChatMessages(req.Messages),
		ToolChoice:       "auto",
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
	}
	for _, t := range toolsForRequest(req.Tools) {
		apiReq.Tools = append(apiReq.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  buildToolSchema(t),
			},
		})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil && resp == nil {
		return Response{}, &deltaerr.LLMError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, &deltaerr.LLMError{
			Status:  resp.StatusCode,
			Type:    "http_error",
			Message: httpclient.ExtractErrorDetails(raw),
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return Response{}, &deltaerr.LLMError{Message: "malformed chat response: " + err.Error(), Err: err}
	}
	if len(apiResp.Choices) == 0 {
		return Response{}, &deltaerr.LLMError{Message: "no choices in chat response"}
	}
	choice := apiResp.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(normalizeArguments(tc.Function.Arguments)), &args)
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}, nil
}

func toChatMessages(messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			ctc := chatToolCall{ID: tc.ID, Type: "function"}
			ctc.Function.Name = tc.Name
			ctc.Function.Arguments = string(argsJSON)
			cm.ToolCalls = append(cm.ToolCalls, ctc)
		}
		out = append(out, cm)
	}
	return out
}

func mapFinishReason(reason string) FinishReason {
	switch reason {
	case "tool_calls":
		return FinishToolCalls
	case "length":
		return FinishLength
	default:
		return FinishStop
	}
}
