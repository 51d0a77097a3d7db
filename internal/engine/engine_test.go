package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/agentdef"
	"github.com/deltaengine/delta/internal/contextcompose"
	"github.com/deltaengine/delta/internal/interaction"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/runstore"
	"github.com/deltaengine/delta/internal/session"
	"github.com/deltaengine/delta/internal/toolexec"
)

// fakeProvider replays a fixed sequence of responses, one per call; the last
// entry repeats once exhausted.
type fakeProvider struct {
	responses []llmclient.Response
	calls     int
}

func (f *fakeProvider) Call(_ context.Context, _ llmclient.Request) (llmclient.Response, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func testAgent(maxIterations int, tools ...agentdef.ToolCatalogEntry) agentdef.Definition {
	return agentdef.Definition{
		Name:          "test-agent",
		Version:       "1",
		SystemPrompt:  "be terse",
		LLM:           agentdef.LLMParams{Provider: "fake", Model: "fake-model"},
		MaxIterations: maxIterations,
		Tools:         tools,
	}
}

// newTestEngine wires an Engine over a freshly created run, returning it
// alongside the run store so tests can read the journal back directly.
func newTestEngine(t *testing.T, agent agentdef.Definition, provider llmclient.Provider) (*Engine, *runstore.Store) {
	t.Helper()
	controlDir := t.TempDir()
	workDir := t.TempDir()

	store, err := runstore.Create(controlDir, "r1", "agent.yaml", "do the thing")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := New(Options{
		Store:    store,
		Agent:    agent,
		Provider: provider,
		Manifest: []contextcompose.Source{{Kind: contextcompose.SourceJournal}},
		WorkDir:  workDir,
		Sessions: session.NewManager(workDir),
	})
	return eng, store
}

func payloadAs[T any](t *testing.T, payload any) T {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRun_FreshRunWithNoToolCallsCompletes(t *testing.T) {
	agent := testAgent(5)
	provider := &fakeProvider{responses: []llmclient.Response{
		{Content: "All done", FinishReason: llmclient.FinishStop},
	}}
	eng, store := newTestEngine(t, agent, provider)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result.Status)
	assert.Equal(t, "All done", result.FinalContent)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, meta.Status)
	assert.Equal(t, 1, meta.IterationsCompleted)

	events, err := store.ReadJournal()
	require.NoError(t, err)

	var sawStart, sawThought, sawEnd bool
	for _, ev := range events {
		switch ev.Type {
		case journal.EventRunStart:
			sawStart = true
		case journal.EventThought:
			sawThought = true
		case journal.EventRunEnd:
			sawEnd = true
		}
	}
	assert.True(t, sawStart, "expected a RUN_START event")
	assert.True(t, sawThought, "expected a THOUGHT event")
	assert.True(t, sawEnd, "expected a RUN_END event")
}

func TestRun_ToolCallDispatchesThenCompletes(t *testing.T) {
	echoTool := agentdef.ToolCatalogEntry{
		Exec: toolexec.Definition{Name: "echo", ArgvBase: []string{"/bin/echo", "hi"}},
		Spec: llmclient.ToolSpec{Name: "echo", Description: "echoes hi"},
	}
	agent := testAgent(5, echoTool)
	provider := &fakeProvider{responses: []llmclient.Response{
		{
			ToolCalls:    []llmclient.ToolCall{{ID: "call_1", Name: "echo", Arguments: map[string]any{}}},
			FinishReason: llmclient.FinishToolCalls,
		},
		{Content: "ok, finished", FinishReason: llmclient.FinishStop},
	}}
	eng, store := newTestEngine(t, agent, provider)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result.Status)
	assert.Equal(t, "ok, finished", result.FinalContent)

	events, err := store.ReadJournal()
	require.NoError(t, err)

	actionResult, ok := journal.ActionResultFor(events, "call_1")
	require.True(t, ok)
	assert.Equal(t, journal.ActionStatusSuccess, actionResult.Status)
	assert.Contains(t, actionResult.ObservationContent, "hi")
}

func TestRun_ResumeRedispatchesUnresolvedToolCallFromLastThought(t *testing.T) {
	echoTool := agentdef.ToolCatalogEntry{
		Exec: toolexec.Definition{Name: "echo", ArgvBase: []string{"/bin/echo", "hi"}},
		Spec: llmclient.ToolSpec{Name: "echo"},
	}
	agent := testAgent(5, echoTool)
	provider := &fakeProvider{responses: []llmclient.Response{
		{Content: "ok, finished", FinishReason: llmclient.FinishStop},
	}}
	eng, store := newTestEngine(t, agent, provider)

	// Simulate a crash after the THOUGHT was journaled but before the tool
	// it requested was ever dispatched.
	_, err := store.AppendEvent(context.Background(), journal.EventRunStart, struct{}{})
	require.NoError(t, err)
	_, err = store.AppendEvent(context.Background(), journal.EventThought, journal.ThoughtPayload{
		InvocationID: "inv-1",
		ToolCalls:    []any{map[string]any{"id": "call_1", "name": "echo", "arguments": map[string]any{}}},
	})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result.Status)
	assert.Equal(t, "ok, finished", result.FinalContent)

	events, err := store.ReadJournal()
	require.NoError(t, err)
	actionResult, ok := journal.ActionResultFor(events, "call_1")
	require.True(t, ok)
	assert.Equal(t, journal.ActionStatusSuccess, actionResult.Status)
	assert.Contains(t, actionResult.ObservationContent, "hi")
	assert.Equal(t, 1, provider.calls, "the pending tool must be redispatched, not re-asked of the LLM")
}

func TestRun_UnknownToolLogsErrorAndContinues(t *testing.T) {
	agent := testAgent(5)
	provider := &fakeProvider{responses: []llmclient.Response{
		{
			ToolCalls:    []llmclient.ToolCall{{ID: "call_1", Name: "does_not_exist", Arguments: map[string]any{}}},
			FinishReason: llmclient.FinishToolCalls,
		},
		{Content: "done anyway", FinishReason: llmclient.FinishStop},
	}}
	eng, store := newTestEngine(t, agent, provider)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result.Status)

	events, err := store.ReadJournal()
	require.NoError(t, err)
	actionResult, ok := journal.ActionResultFor(events, "call_1")
	require.True(t, ok)
	assert.Equal(t, journal.ActionStatusError, actionResult.Status)
}

func TestRun_MaxIterationsReturnsDeterministicMessage(t *testing.T) {
	echoTool := agentdef.ToolCatalogEntry{
		Exec: toolexec.Definition{Name: "echo", ArgvBase: []string{"/bin/echo", "hi"}},
		Spec: llmclient.ToolSpec{Name: "echo"},
	}
	agent := testAgent(1, echoTool)
	provider := &fakeProvider{responses: []llmclient.Response{
		{ToolCalls: []llmclient.ToolCall{{ID: "call_1", Name: "echo", Arguments: map[string]any{}}}, FinishReason: llmclient.FinishToolCalls},
	}}
	eng, store := newTestEngine(t, agent, provider)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result.Status)
	assert.Equal(t, MaxIterationsMessage, result.FinalContent)

	events, err := store.ReadJournal()
	require.NoError(t, err)
	found := false
	for _, ev := range events {
		if ev.Type != journal.EventSystemMessage {
			continue
		}
		p := payloadAs[journal.SystemMessagePayload](t, ev.Payload)
		if p.Level == journal.SystemLevelWarn && p.Message == MaxIterationsMessage {
			found = true
		}
	}
	assert.True(t, found, "expected a WARN SYSTEM_MESSAGE announcing max iterations")
}

func TestRun_AskHumanNonInteractivePausesThenResumes(t *testing.T) {
	agent := testAgent(5)
	provider := &fakeProvider{responses: []llmclient.Response{
		{
			ToolCalls: []llmclient.ToolCall{{
				ID:        "call_1",
				Name:      "ask_human",
				Arguments: map[string]any{"prompt": "What color?"},
			}},
			FinishReason: llmclient.FinishToolCalls,
		},
	}}
	eng, store := newTestEngine(t, agent, provider)
	runDir := store.Dir()
	controlDir := filepath.Dir(runDir)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusWaitingForInput, result.Status)
	require.NotNil(t, result.Interaction)

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusWaitingForInput, meta.Status)

	_, statErr := os.Stat(filepath.Join(interaction.Dir(runDir), "request.json"))
	assert.NoError(t, statErr)

	require.NoError(t, interaction.WriteResponse(runDir, "Blue\n"))

	store2, err := runstore.Open(controlDir, "r1")
	require.NoError(t, err)
	defer store2.Close()

	provider2 := &fakeProvider{responses: []llmclient.Response{
		{Content: "Thanks!", FinishReason: llmclient.FinishStop},
	}}
	eng2 := New(Options{
		Store:    store2,
		Agent:    agent,
		Provider: provider2,
		Manifest: []contextcompose.Source{{Kind: contextcompose.SourceJournal}},
		WorkDir:  t.TempDir(),
		Sessions: session.NewManager(t.TempDir()),
	})

	result2, err := eng2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusCompleted, result2.Status)

	events, err := store2.ReadJournal()
	require.NoError(t, err)
	actionResult, ok := journal.ActionResultFor(events, "call_1")
	require.True(t, ok)
	assert.Equal(t, "Blue\n", actionResult.ObservationContent)

	// A second ACTION_RESULT for the same ask_human call must never appear,
	// even though both invocations scanned the same pending request.
	count := 0
	for _, ev := range events {
		if ev.Type != journal.EventActionResult {
			continue
		}
		ar := payloadAs[journal.ActionResultPayload](t, ev.Payload)
		if ar.ActionID == "call_1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
