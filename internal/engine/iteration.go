package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deltaengine/delta/internal/contextcompose"
	"github.com/deltaengine/delta/internal/hookexec"
	"github.com/deltaengine/delta/internal/interaction"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/logging"
	"github.com/deltaengine/delta/internal/runstore"
	"github.com/deltaengine/delta/internal/toolexec"
)

// step is the outcome of one TAO iteration (spec.md §4.6 steps b-i).
type step struct {
	done           bool
	paused         bool
	finalContent   string
	usage          llmclient.Usage
	interactionReq *interaction.Request
}

// runIteration executes steps b through i of one pass through the loop:
// rebuild messages, call the LLM, and dispatch any tool calls it requests.
// Run itself records the completed iteration (step j) afterwards.
func (e *Engine) runIteration(ctx context.Context, tracer *Tracing, iteration int) (step, error) {
	meta, err := e.store.ReadMetadata()
	if err != nil {
		return step{}, fmt.Errorf("read metadata: %w", err)
	}

	composed, err := contextcompose.Resolve(ctx, e.manifest, e.vars, meta.RunID, e.store)
	if err != nil {
		return step{}, fmt.Errorf("compose context: %w", err)
	}
	// The first message given to the LLM is always a system message
	// carrying the agent's system prompt (spec.md §4.4, "Ordering").
	messages := append([]llmclient.Message{{Role: llmclient.RoleSystem, Content: e.agent.SystemPrompt}}, composed...)

	baseline := llmclient.Request{
		Model:            e.agent.LLM.Model,
		Temperature:      e.agent.LLM.Temperature,
		TopP:             e.agent.LLM.TopP,
		MaxTokens:        e.agent.LLM.MaxTokens,
		PresencePenalty:  e.agent.LLM.PresencePenalty,
		FrequencyPenalty: e.agent.LLM.FrequencyPenalty,
		Messages:         messages,
		Tools:            toolSpecs(e.agent),
	}

	request := baseline
	if hookDef, ok := e.agent.Hook(hookexec.PreLLMReq); ok {
		outcome := e.runHook(ctx, hookDef, map[string]any{"run_id": meta.RunID, "iteration": iteration}, baseline)
		request = unmarshalOr(outcome.Payload, baseline)
	}

	start := time.Now()
	resp, err := e.provider.Call(ctx, request)
	e.metrics.recordLLMCall(time.Since(start))
	if err != nil {
		return step{}, fmt.Errorf("call llm: %w", err)
	}

	invocationID := uuid.NewString()
	if _, err := e.store.SaveLLMInvocation(invocationID, runstore.LLMInvocationArtifact{
		Request:  request,
		Response: resp,
		Provider: e.agent.LLM.Provider,
		Model:    e.agent.LLM.Model,
	}); err != nil {
		logging.Default().Warn("could not save llm invocation artifact", "error", err)
	}

	if _, err := e.store.AppendEvent(ctx, journal.EventThought, journal.ThoughtPayload{
		InvocationID: invocationID,
		Content:      resp.Content,
		ToolCalls:    toolCallsToRaw(resp.ToolCalls),
	}); err != nil {
		return step{}, fmt.Errorf("append THOUGHT: %w", err)
	}

	if hookDef, ok := e.agent.Hook(hookexec.PostLLMResp); ok {
		e.runHook(ctx, hookDef, map[string]any{"run_id": meta.RunID, "iteration": iteration}, resp)
	}

	if len(resp.ToolCalls) == 0 {
		content := resp.Content
		if content == "" {
			content = defaultCompletionContent
		}
		return step{done: true, finalContent: content, usage: resp.Usage}, nil
	}

	for _, tc := range resp.ToolCalls {
		outcome, err := e.dispatchToolCall(ctx, tracer, tc)
		if err != nil {
			return step{}, err
		}
		if outcome.paused {
			return step{paused: true, interactionReq: outcome.interactionReq}, nil
		}
	}

	return step{}, nil
}

type toolCallOutcome struct {
	paused         bool
	interactionReq *interaction.Request
}

// dispatchToolCall implements spec.md §4.6 step i for one tool call.
func (e *Engine) dispatchToolCall(ctx context.Context, tracer *Tracing, tc llmclient.ToolCall) (toolCallOutcome, error) {
	actionID := newActionID(tc)

	childCtx := ctx
	if tracer != nil {
		var span trace.Span
		childCtx, span = tracer.startChild(ctx, "tool."+tc.Name, attribute.String("action_id", actionID))
		defer span.End()
	}

	if tc.Name == "ask_human" {
		return e.dispatchAskHuman(childCtx, actionID, tc)
	}

	entry, ok := e.agent.Tool(tc.Name)
	if !ok {
		e.store.AppendEvent(ctx, journal.EventSystemMessage, journal.SystemMessagePayload{
			Level:   journal.SystemLevelError,
			Message: fmt.Sprintf("unknown tool %q", tc.Name),
		})
		e.store.AppendEvent(ctx, journal.EventActionResult, journal.ActionResultPayload{
			ActionID:           actionID,
			Status:             journal.ActionStatusError,
			ObservationContent: fmt.Sprintf("no tool named %q is defined for this agent", tc.Name),
		})
		return toolCallOutcome{}, nil
	}

	args := argsToString(tc.Arguments)
	argv, _, _ := toolexec.BuildArgv(entry.Exec, args)
	commandStr := strings.Join(argv, " ")

	priorEvents, err := e.store.ReadJournal()
	if err != nil {
		return toolCallOutcome{}, fmt.Errorf("read journal: %w", err)
	}
	if !journal.HasActionRequest(priorEvents, actionID) {
		if _, err := e.store.AppendEvent(ctx, journal.EventActionRequest, journal.ActionRequestPayload{
			ActionID: actionID,
			ToolName: tc.Name,
			Args:     tc.Arguments,
			Command:  commandStr,
		}); err != nil {
			return toolCallOutcome{}, fmt.Errorf("append ACTION_REQUEST: %w", err)
		}
	}

	skip := false
	if hookDef, ok := e.agent.Hook(hookexec.PreToolExec); ok {
		outcome := e.runHook(childCtx, hookDef, map[string]any{"action_id": actionID, "tool_name": tc.Name}, map[string]any{"command": argv})
		skip = outcome.Skip
	}

	var result toolexec.Result
	if skip {
		result = toolexec.Result{Success: true, ExitCode: 0, Argv: argv, Stdout: "(skipped by pre_tool_exec hook)"}
	} else {
		start := time.Now()
		r, err := toolexec.Execute(childCtx, entry.Exec, args, e.workDir)
		e.metrics.recordToolCall(err == nil && r.Success, time.Since(start))
		if err != nil {
			e.store.AppendEvent(ctx, journal.EventActionResult, journal.ActionResultPayload{
				ActionID:           actionID,
				Status:             journal.ActionStatusError,
				ObservationContent: err.Error(),
			})
			return toolCallOutcome{}, nil
		}
		result = r
	}

	observation := toolexec.FormatObservation(result)
	if _, err := e.store.SaveToolExecution(runstore.ToolExecutionArtifact{
		ActionID:        actionID,
		Command:         argv,
		ExitCode:        result.ExitCode,
		DurationMS:      result.DurationMS,
		Stdout:          []byte(result.Stdout),
		Stderr:          []byte(result.Stderr),
		ObservationText: observation,
	}); err != nil {
		logging.Default().Warn("could not save tool execution artifact", "action_id", actionID, "error", err)
	}

	status := journal.ActionStatusSuccess
	if !result.Success {
		status = journal.ActionStatusFailed
	}
	if _, err := e.store.AppendEvent(ctx, journal.EventActionResult, journal.ActionResultPayload{
		ActionID:           actionID,
		Status:             status,
		ObservationContent: observation,
	}); err != nil {
		return toolCallOutcome{}, fmt.Errorf("append ACTION_RESULT: %w", err)
	}

	if hookDef, ok := e.agent.Hook(hookexec.PostToolExec); ok {
		e.runHook(childCtx, hookDef, map[string]any{"action_id": actionID, "tool_name": tc.Name}, map[string]any{"observation": observation, "status": status})
	}

	return toolCallOutcome{}, nil
}

// dispatchAskHuman implements the ask_human branch of spec.md §4.6 step i:
// in interactive mode it prompts locally and resolves immediately; in
// non-interactive mode it writes the interaction request file and signals
// a pause.
func (e *Engine) dispatchAskHuman(ctx context.Context, actionID string, tc llmclient.ToolCall) (toolCallOutcome, error) {
	prompt, _ := tc.Arguments["prompt"].(string)
	inputTypeStr, _ := tc.Arguments["input_type"].(string)
	if inputTypeStr == "" {
		inputTypeStr = string(interaction.InputText)
	}
	sensitive, _ := tc.Arguments["sensitive"].(bool)

	if _, err := e.store.AppendEvent(ctx, journal.EventActionRequest, journal.ActionRequestPayload{
		ActionID: actionID,
		ToolName: "ask_human",
		Args:     tc.Arguments,
	}); err != nil {
		return toolCallOutcome{}, fmt.Errorf("append ACTION_REQUEST for ask_human: %w", err)
	}

	if e.interactive {
		answer, err := interaction.PromptInteractive(prompt, interaction.InputType(inputTypeStr))
		if err != nil {
			return toolCallOutcome{}, fmt.Errorf("interactive ask_human prompt: %w", err)
		}
		if _, err := e.store.AppendEvent(ctx, journal.EventActionResult, journal.ActionResultPayload{
			ActionID:           actionID,
			Status:             journal.ActionStatusSuccess,
			ObservationContent: answer,
		}); err != nil {
			return toolCallOutcome{}, fmt.Errorf("append ACTION_RESULT for ask_human: %w", err)
		}
		if _, err := e.store.SaveToolExecution(runstore.ToolExecutionArtifact{
			ActionID:        actionID,
			Command:         []string{"ask_human"},
			ExitCode:        0,
			ObservationText: answer,
		}); err != nil {
			logging.Default().Warn("could not save ask_human tool execution artifact", "error", err)
		}
		return toolCallOutcome{}, nil
	}

	req, err := interaction.WriteRequest(e.store.Dir(), prompt, interaction.InputType(inputTypeStr), sensitive)
	if err != nil {
		return toolCallOutcome{}, fmt.Errorf("write interaction request: %w", err)
	}
	return toolCallOutcome{paused: true, interactionReq: &req}, nil
}
