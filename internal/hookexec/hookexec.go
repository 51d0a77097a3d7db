// Package hookexec is the Hook Executor of spec.md §4.3: a file-based IPC
// protocol that lets an external command observe or rewrite the payload at
// one of six lifecycle points, without linking against this process.
package hookexec

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/logging"
	"github.com/deltaengine/delta/internal/runstore"
)

// Point enumerates the six lifecycle points a hook can attach to (spec.md
// §4.3).
type Point string

const (
	PreLLMReq    Point = "pre_llm_req"
	PostLLMResp  Point = "post_llm_resp"
	PreToolExec  Point = "pre_tool_exec"
	PostToolExec Point = "post_tool_exec"
	OnError      Point = "on_error"
	OnRunEnd     Point = "on_run_end"
)

// Definition is one configured hook: which lifecycle point it attaches to,
// its command, and its timeout. Agent loading does not impose a bound: a
// hook without timeout_ms gets a zero Timeout and runs unbounded.
type Definition struct {
	Name    string
	Point   Point
	Argv    []string
	Timeout time.Duration // zero means no timeout
}

// control mirrors output/control.json (spec.md §4.3): "currently the only
// recognized field is skip: true".
type control struct {
	Skip bool `json:"skip"`
}

// Outcome is what a hook invocation resolved to: the effective payload to
// use going forward (baseline, unless the hook wrote a replacement) and
// whether the engine should skip the gated operation (pre_tool_exec only).
type Outcome struct {
	Payload json.RawMessage
	Skip    bool
	Status  journal.HookAuditStatus
	IOPathRef string
}

// Run executes one hook invocation: sets up the IO tree via the run store,
// spawns the hook's command with DELTA_RUN_ID in its environment, waits up
// to the configured timeout, and reads back final_payload.json (or
// payload_override.dat) and control.json. A non-zero exit, a timeout, or an
// IO setup error is a hook failure: non-fatal, logged, and resolved to the
// baseline payload (spec.md §4.3: "A failed hook does not abort the run").
// A missing or unreadable output file is not a failure; the baseline
// payload is used and the invocation still counts as successful.
func Run(ctx context.Context, store *runstore.Store, def Definition, invocationSeq int, runID string, hookContext any, baselinePayload any) Outcome {
	io, err := store.SetupHookInvocation(def.Name, invocationSeq, hookContext, baselinePayload, nil)
	if err != nil {
		logging.Default().Warn("hook io setup failed", "hook", def.Name, "error", err)
		return fallback(baselinePayload, "")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if def.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, def.Argv[0], def.Argv[1:]...)
	cmd.Env = append(os.Environ(), "DELTA_RUN_ID="+runID, "DELTA_HOOK_IO_DIR="+io.Dir)
	err = cmd.Run()

	if err != nil {
		logging.Default().Warn("hook invocation failed", "hook", def.Name, "point", def.Point, "error", err)
		return fallback(baselinePayload, io.Dir)
	}

	ctl := readControl(io.ControlPath)
	payload := readFinalPayload(io, baselinePayload)

	return Outcome{Payload: payload, Skip: ctl.Skip, Status: journal.HookStatusSuccess, IOPathRef: io.Dir}
}

func fallback(baselinePayload any, ref string) Outcome {
	raw, _ := json.Marshal(baselinePayload)
	return Outcome{Payload: raw, Skip: false, Status: journal.HookStatusFailed, IOPathRef: ref}
}

func readControl(path string) control {
	raw, err := os.ReadFile(path)
	if err != nil {
		return control{}
	}
	var c control
	if err := json.Unmarshal(raw, &c); err != nil {
		return control{}
	}
	return c
}

// readFinalPayload prefers output/final_payload.json; if that's absent it
// falls back to output/payload_override.dat (spec.md §4.3), a raw-bytes
// replacement for hooks whose output isn't naturally JSON. A .dat override
// that doesn't parse as JSON on its own is carried as a JSON string so it
// still round-trips through the json.RawMessage payload.
func readFinalPayload(io runstore.HookInvocationIO, baseline any) json.RawMessage {
	if raw, err := os.ReadFile(io.FinalPayloadPath); err == nil && json.Valid(raw) {
		return raw
	}
	if raw, err := os.ReadFile(io.PayloadOverridePath); err == nil {
		if json.Valid(raw) {
			return raw
		}
		if quoted, err := json.Marshal(string(raw)); err == nil {
			return quoted
		}
	}
	baselineRaw, _ := json.Marshal(baseline)
	return baselineRaw
}

// AuditFor constructs the HOOK_EXECUTION_AUDIT journal payload for one
// invocation (spec.md §4.3: exactly one audit event per hook invocation).
func AuditFor(def Definition, o Outcome) journal.HookAuditPayload {
	return journal.HookAuditPayload{HookName: def.Name, Status: o.Status, IOPathRef: o.IOPathRef}
}

// Skipped builds the outcome for a hook the engine chose not to run at all
// (e.g. none configured for this point) — distinguishing "nothing
// configured" from "ran and failed".
func Skipped() Outcome {
	return Outcome{Status: journal.HookStatusSkipped}
}
