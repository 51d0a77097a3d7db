package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIProvider_MissingAPIKeyFails(t *testing.T) {
	os.Unsetenv("DELTA_TEST_MISSING_KEY")
	_, err := NewOpenAIProvider(OpenAIConfig{APIKeyEnv: "DELTA_TEST_MISSING_KEY"})
	assert.Error(t, err)
}

func TestOpenAIProvider_Call_ParsesToolCallsAndNormalizesEmptyArgs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req.ToolChoice)

		var hasAskHuman bool
		for _, tl := range req.Tools {
			if tl.Function.Name == "ask_human" {
				hasAskHuman = true
			}
		}
		assert.True(t, hasAskHuman, "every request must offer the built-in ask_human tool")

		resp := chatResponse{}
		resp.Choices = []struct {
			Message      chatMessage `json:"message"`
			FinishReason string      `json:"finish_reason"`
		}{{
			Message: chatMessage{
				Role: "assistant",
				ToolCalls: []chatToolCall{{
					ID:   "call_1",
					Type: "function",
					Function: struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					}{Name: "noop", Arguments: "undefined"},
				}},
			},
			FinishReason: "tool_calls",
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	require.NoError(t, os.Setenv("DELTA_TEST_KEY", "sk-test"))
	p, err := NewOpenAIProvider(OpenAIConfig{APIKeyEnv: "DELTA_TEST_KEY", DefaultBase: srv.URL})
	require.NoError(t, err)

	resp, err := p.Call(context.Background(), Request{
		Model:    "gpt-4o",
		Messages: []Message{{Role: RoleUser, Content: "run noop"}},
		Tools:    []ToolSpec{{Name: "noop", Description: "does nothing"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "noop", resp.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, FinishToolCalls, resp.FinishReason)
}

func TestOpenAIProvider_Call_HTTPErrorBecomesLLMError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	require.NoError(t, os.Setenv("DELTA_TEST_KEY_2", "sk-test"))
	p, err := NewOpenAIProvider(OpenAIConfig{APIKeyEnv: "DELTA_TEST_KEY_2", DefaultBase: srv.URL})
	require.NoError(t, err)

	_, err = p.Call(context.Background(), Request{Model: "gpt-4o", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorContains(t, err, "invalid api key")
}

func TestNormalizeArguments(t *testing.T) {
	assert.Equal(t, "{}", normalizeArguments(""))
	assert.Equal(t, "{}", normalizeArguments("undefined"))
	assert.Equal(t, "{}", normalizeArguments("null"))
	assert.Equal(t, `{"a":1}`, normalizeArguments(`{"a":1}`))
}
