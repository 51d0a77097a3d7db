// Package engine is the TAO (Think-Act-Observe) driver of spec.md §4.6: a
// stateless core that rebuilds conversation state from the journal on every
// iteration, calls the LLM, dispatches any tool calls it requests, and
// persists each step before advancing. No conversation lives in memory
// across iterations — resuming a crashed or paused run means nothing more
// than calling Run again over the same Run Store.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/deltaengine/delta/internal/agentdef"
	"github.com/deltaengine/delta/internal/contextcompose"
	"github.com/deltaengine/delta/internal/hookexec"
	"github.com/deltaengine/delta/internal/interaction"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/logging"
	"github.com/deltaengine/delta/internal/runstore"
	"github.com/deltaengine/delta/internal/session"
)

// defaultCompletionContent is used when the LLM returns no tool calls and
// no content (spec.md §4.6 step h: "or a default completion string").
const defaultCompletionContent = "(no response content)"

// MaxIterationsMessage is the deterministic final_response used when a run
// exhausts max_iterations without the LLM signalling completion (spec.md §8).
const MaxIterationsMessage = "Maximum iterations reached. Task may be incomplete."

// sessionGrace bounds how long the engine waits for a SIGTERM'd session to
// exit before escalating to SIGKILL (spec.md §4.11).
const sessionGrace = 5 * time.Second

// Options configures one Engine invocation over an already created or
// already opened run.
type Options struct {
	Store       *runstore.Store
	Agent       agentdef.Definition
	Provider    llmclient.Provider
	Manifest    []contextcompose.Source
	Vars        contextcompose.Vars
	WorkDir     string
	Sessions    *session.Manager
	Interactive bool
}

// Engine drives one run's Think-Act-Observe loop to completion, a pause for
// human input, or failure.
type Engine struct {
	store       *runstore.Store
	agent       agentdef.Definition
	provider    llmclient.Provider
	manifest    []contextcompose.Source
	vars        contextcompose.Vars
	workDir     string
	interactive bool
	sessions    *session.Manager
	metrics     *Metrics
	hookSeq     int
}

// New builds an Engine for one run invocation.
func New(opts Options) *Engine {
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewManager(opts.WorkDir)
	}
	return &Engine{
		store:       opts.Store,
		agent:       opts.Agent,
		provider:    opts.Provider,
		manifest:    opts.Manifest,
		vars:        opts.Vars,
		workDir:     opts.WorkDir,
		interactive: opts.Interactive,
		sessions:    sessions,
		metrics:     NewMetrics(),
		hookSeq:     countExistingHookDirs(opts.Store.Dir()),
	}
}

func countExistingHookDirs(runDir string) int {
	entries, err := os.ReadDir(filepath.Join(runDir, "io", "hooks"))
	if err != nil {
		return 0
	}
	return len(entries)
}

// Result is what Run returns to its caller (the CLI's run/continue
// commands), which maps Status to the process exit code (spec.md §6.2).
type Result struct {
	Status       runstore.Status
	FinalContent string
	Interaction  *interaction.Request
	Usage        llmclient.Usage
}

// Run executes the TAO loop per spec.md §4.6 until the run completes,
// fails, pauses for human input, or ctx is cancelled (SIGINT/SIGTERM).
func (e *Engine) Run(ctx context.Context) (Result, error) {
	runDir := e.store.Dir()

	logFile, closeLog, logErr := logging.OpenLogFile(filepath.Join(runDir, "engine.log"))
	var tracer *Tracing
	if logErr == nil {
		defer closeLog()
		if t, err := NewTracing(logFile); err == nil {
			tracer = t
			defer tracer.Shutdown(context.Background())
		}
	} else {
		logging.Default().Warn("could not open engine.log", "error", logErr)
	}

	defer func() {
		if err := e.metrics.writeJSON(runDir); err != nil {
			logging.Default().Warn("could not write metrics.json", "error", err)
		}
	}()

	meta, err := e.store.ReadMetadata()
	if err != nil {
		return Result{}, fmt.Errorf("read run metadata: %w", err)
	}

	events, err := e.store.ReadJournal()
	if err != nil {
		return Result{}, fmt.Errorf("read journal: %w", err)
	}
	if len(events) == 0 {
		if _, err := e.store.AppendEvent(ctx, journal.EventRunStart, struct{}{}); err != nil {
			return Result{}, fmt.Errorf("append RUN_START: %w", err)
		}
	}

	runCtx := ctx
	var runSpan trace.Span
	if tracer != nil {
		runCtx, runSpan = tracer.startRun(ctx, meta.RunID)
		defer runSpan.End()
	}

	iteration := meta.IterationsCompleted
	for iteration < e.agent.MaxIterations {
		select {
		case <-runCtx.Done():
			return e.onInterrupt()
		default:
		}

		currentEvents, err := e.store.ReadJournal()
		if err != nil {
			return Result{}, fmt.Errorf("read journal: %w", err)
		}
		if pending, ok := journal.PendingAskHuman(currentEvents); ok {
			result, resolved, err := e.resolvePendingAskHuman(runCtx, pending)
			if err != nil {
				return Result{}, e.onFailure(err)
			}
			if !resolved {
				return e.onPause(result.Interaction)
			}
			// Response ingested this turn: re-read before checking for any
			// other tool call the same THOUGHT left pending, then fall
			// through to rebuild messages and call the LLM.
			currentEvents, err = e.store.ReadJournal()
			if err != nil {
				return Result{}, fmt.Errorf("read journal: %w", err)
			}
		}

		if pending, ok := journal.PendingToolCalls(currentEvents); ok {
			if err := e.redispatchPendingToolCalls(runCtx, tracer, pending); err != nil {
				return Result{}, e.onFailure(err)
			}
		}

		iterCtx := runCtx
		var iterSpan trace.Span
		if tracer != nil {
			iterCtx, iterSpan = tracer.startIteration(runCtx, iteration)
		}

		out, err := e.runIteration(iterCtx, tracer, iteration)
		if iterSpan != nil {
			iterSpan.End()
		}
		if err != nil {
			return Result{}, e.onFailure(err)
		}

		iteration++
		e.metrics.recordIteration()
		if err := e.store.UpdateMetadata(runstore.MetadataPatch{IterationsCompleted: &iteration}); err != nil {
			return Result{}, e.onFailure(fmt.Errorf("update iteration count: %w", err))
		}

		if out.paused {
			return e.onPause(out.interactionReq)
		}
		if out.done {
			return e.onCompletion(out.finalContent, out.usage)
		}
	}

	e.store.AppendEvent(ctx, journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.SystemLevelWarn,
		Message: MaxIterationsMessage,
	})
	return e.onCompletion(MaxIterationsMessage, llmclient.Usage{})
}

// resolvePendingAskHuman implements spec.md §4.6 step 3a: ingest a waiting
// human reply if one has arrived, or report the pause again if not.
func (e *Engine) resolvePendingAskHuman(ctx context.Context, pending journal.ActionRequestPayload) (Result, bool, error) {
	runDir := e.store.Dir()
	content, ok, err := interaction.ReadResponse(runDir)
	if err != nil {
		return Result{}, false, fmt.Errorf("read interaction response: %w", err)
	}
	if !ok {
		prompt, _ := pending.Args["prompt"].(string)
		fmt.Fprintln(os.Stderr, prompt)
		return Result{Status: runstore.StatusWaitingForInput, Interaction: pendingRequestFromArgs(pending)}, false, nil
	}

	if _, err := e.store.AppendEvent(ctx, journal.EventActionResult, journal.ActionResultPayload{
		ActionID:           pending.ActionID,
		Status:             journal.ActionStatusSuccess,
		ObservationContent: content,
	}); err != nil {
		return Result{}, false, fmt.Errorf("append ACTION_RESULT for ask_human: %w", err)
	}
	if _, err := e.store.SaveToolExecution(runstore.ToolExecutionArtifact{
		ActionID:        pending.ActionID,
		Command:         []string{"ask_human"},
		ExitCode:        0,
		ObservationText: content,
	}); err != nil {
		logging.Default().Warn("could not save ask_human tool execution artifact", "error", err)
	}
	if err := interaction.Clear(runDir); err != nil {
		logging.Default().Warn("could not clear interaction directory", "error", err)
	}
	return Result{}, true, nil
}

// redispatchPendingToolCalls re-executes tool calls a crash left without an
// ACTION_RESULT, reusing the same dispatch path a live LLM response goes
// through (spec.md §8: re-dispatch rather than re-prompt the LLM with a
// dangling assistant tool_calls message).
func (e *Engine) redispatchPendingToolCalls(ctx context.Context, tracer *Tracing, pending []llmclient.ToolCall) error {
	for _, tc := range pending {
		if _, err := e.dispatchToolCall(ctx, tracer, tc); err != nil {
			return err
		}
	}
	return nil
}

func pendingRequestFromArgs(p journal.ActionRequestPayload) *interaction.Request {
	prompt, _ := p.Args["prompt"].(string)
	inputType, _ := p.Args["input_type"].(string)
	sensitive, _ := p.Args["sensitive"].(bool)
	if inputType == "" {
		inputType = string(interaction.InputText)
	}
	return &interaction.Request{
		RequestID: p.ActionID,
		Prompt:    prompt,
		InputType: interaction.InputType(inputType),
		Sensitive: sensitive,
	}
}

// onPause persists WAITING_FOR_INPUT so metadata.json stays the single
// source of truth for whether a run is resumable (spec.md §3.1) even
// though, unlike onCompletion/onInterrupt/onFailure, the run is not
// otherwise finalized: a later `continue` picks the same journal back up.
func (e *Engine) onPause(req *interaction.Request) (Result, error) {
	status := runstore.StatusWaitingForInput
	if err := e.store.UpdateMetadata(runstore.MetadataPatch{Status: &status}); err != nil {
		logging.Default().Warn("could not update metadata on pause", "error", err)
	}
	e.store.Flush()
	return Result{Status: runstore.StatusWaitingForInput, Interaction: req}, nil
}

// onCompletion finalizes a run that reached a natural or max-iterations end.
func (e *Engine) onCompletion(finalContent string, usage llmclient.Usage) (Result, error) {
	ctx := context.Background()
	status := runstore.StatusCompleted
	now := time.Now().UTC()
	e.store.AppendEvent(ctx, journal.EventRunEnd, journal.RunEndPayload{Status: journal.RunEndCompleted})
	if err := e.store.UpdateMetadata(runstore.MetadataPatch{Status: &status, EndTime: &now}); err != nil {
		logging.Default().Warn("could not update metadata at RUN_END", "error", err)
	}
	e.runOnRunEnd(ctx, journal.RunEndCompleted)
	e.cleanupSessions()
	e.store.Flush()
	return Result{Status: runstore.StatusCompleted, FinalContent: finalContent, Usage: usage}, nil
}

// onInterrupt finalizes a run cancelled by SIGINT/SIGTERM (spec.md §4.6
// "Termination signals"). It deliberately uses a fresh context for the
// final writes since ctx itself is already cancelled.
func (e *Engine) onInterrupt() (Result, error) {
	ctx := context.Background()
	status := runstore.StatusInterrupted
	now := time.Now().UTC()
	e.store.AppendEvent(ctx, journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.SystemLevelWarn,
		Message: "run interrupted by signal",
	})
	e.store.AppendEvent(ctx, journal.EventRunEnd, journal.RunEndPayload{Status: journal.RunEndInterrupted})
	if err := e.store.UpdateMetadata(runstore.MetadataPatch{Status: &status, EndTime: &now}); err != nil {
		logging.Default().Warn("could not update metadata on interrupt", "error", err)
	}
	e.runOnRunEnd(ctx, journal.RunEndInterrupted)
	e.cleanupSessions()
	e.store.Flush()
	return Result{Status: runstore.StatusInterrupted}, context.Canceled
}

// onFailure finalizes a run that hit an unhandled error (spec.md §4.6 step
// 4): logs SYSTEM_MESSAGE ERROR, runs on_error (never re-raised), appends
// RUN_END FAILED, and returns the original error to the caller.
func (e *Engine) onFailure(cause error) error {
	ctx := context.Background()
	e.store.AppendEvent(ctx, journal.EventSystemMessage, journal.SystemMessagePayload{
		Level:   journal.SystemLevelError,
		Message: cause.Error(),
	})
	if hookDef, ok := e.agent.Hook(hookexec.OnError); ok {
		e.runHook(ctx, hookDef, map[string]string{"error": cause.Error()}, struct{}{})
	}
	status := runstore.StatusFailed
	now := time.Now().UTC()
	e.store.AppendEvent(ctx, journal.EventRunEnd, journal.RunEndPayload{Status: journal.RunEndFailed, Reason: cause.Error()})
	if err := e.store.UpdateMetadata(runstore.MetadataPatch{Status: &status, EndTime: &now}); err != nil {
		logging.Default().Warn("could not update metadata on failure", "error", err)
	}
	e.runOnRunEnd(ctx, journal.RunEndFailed)
	e.cleanupSessions()
	e.store.Flush()
	return cause
}

// runOnRunEnd fires the on_run_end hook, if the agent defines one, on every
// terminal transition (completed, interrupted, or failed) — unlike on_error,
// which fires only on the failure path.
func (e *Engine) runOnRunEnd(ctx context.Context, status journal.RunEndStatus) {
	hookDef, ok := e.agent.Hook(hookexec.OnRunEnd)
	if !ok {
		return
	}
	e.runHook(ctx, hookDef, map[string]any{"status": status}, struct{}{})
}

func (e *Engine) cleanupSessions() {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.EndAll(sessionGrace); err != nil {
		logging.Default().Warn("session cleanup failed", "error", err)
	}
}

// runHook is a thin wrapper around hookexec.Run that also appends the
// HOOK_EXECUTION_AUDIT event every invocation must produce (spec.md §4.3).
func (e *Engine) runHook(ctx context.Context, def hookexec.Definition, hookContext any, baseline any) hookexec.Outcome {
	e.hookSeq++
	meta, _ := e.store.ReadMetadata()
	outcome := hookexec.Run(ctx, e.store, def, e.hookSeq, meta.RunID, hookContext, baseline)
	if _, err := e.store.AppendEvent(ctx, journal.EventHookExecutionAudit, hookexec.AuditFor(def, outcome)); err != nil {
		logging.Default().Warn("could not append hook audit event", "hook", def.Name, "error", err)
	}
	if outcome.Status == journal.HookStatusFailed {
		e.store.AppendEvent(ctx, journal.EventSystemMessage, journal.SystemMessagePayload{
			Level:   journal.SystemLevelWarn,
			Message: fmt.Sprintf("hook %q failed; proceeding with baseline payload", def.Name),
		})
	}
	return outcome
}

func unmarshalOr[T any](raw json.RawMessage, fallback T) T {
	var out T
	if len(raw) == 0 {
		return fallback
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fallback
	}
	return out
}

func toolSpecs(agent agentdef.Definition) []llmclient.ToolSpec {
	specs := make([]llmclient.ToolSpec, 0, len(agent.Tools))
	for _, t := range agent.Tools {
		specs = append(specs, t.Spec)
	}
	return specs
}

func argsToString(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			out[k] = fmt.Sprint(v)
			continue
		}
		out[k] = string(raw)
	}
	return out
}

func toolCallsToRaw(calls []llmclient.ToolCall) []any {
	if len(calls) == 0 {
		return nil
	}
	out := make([]any, 0, len(calls))
	for _, c := range calls {
		out = append(out, map[string]any{
			"id":        c.ID,
			"name":      c.Name,
			"arguments": c.Arguments,
		})
	}
	return out
}

func newActionID(tc llmclient.ToolCall) string {
	if tc.ID != "" {
		return tc.ID
	}
	return uuid.NewString()
}
