package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/llmclient"
)

func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// LLMInvocationArtifact is what save_llm_invocation persists under
// io/invocations/<id>/ (spec.md §4.8): the exact request sent and the exact
// response received, independent of the journal's THOUGHT summary.
type LLMInvocationArtifact struct {
	Request  llmclient.Request
	Response llmclient.Response
	Provider string
	Model    string
}

// SaveLLMInvocation writes request.json, response.json and metadata.json
// under io/invocations/<invocation_id>/, returning that directory as the
// artifact ref stored in the journal's THOUGHT.invocation_id.
func (s *Store) SaveLLMInvocation(invocationID string, a LLMInvocationArtifact) (string, error) {
	dir := filepath.Join(s.dir, "io", "invocations", invocationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &deltaerr.IOError{Op: "create invocation artifact dir", Err: err}
	}
	if err := writeJSONFile(filepath.Join(dir, "request.json"), a.Request); err != nil {
		return "", &deltaerr.IOError{Op: "save llm invocation request", Err: err}
	}
	if err := writeJSONFile(filepath.Join(dir, "response.json"), a.Response); err != nil {
		return "", &deltaerr.IOError{Op: "save llm invocation response", Err: err}
	}
	meta := struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}{a.Provider, a.Model}
	if err := writeJSONFile(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return "", &deltaerr.IOError{Op: "save llm invocation metadata", Err: err}
	}
	return dir, nil
}

// ToolExecutionArtifact is what save_tool_execution persists under
// io/tool_executions/<action_id>/ (spec.md §4.8): the command that was run,
// its raw streams, exit code and duration. ObservationText (the possibly
// truncated text fed back to the LLM) is carried on the struct but not
// written by SaveToolExecution; the raw streams are never truncated.
type ToolExecutionArtifact struct {
	ActionID        string
	Command         []string
	ExitCode        int
	DurationMS      int64
	Stdout          []byte
	Stderr          []byte
	ObservationText string
}

// SaveToolExecution writes command.txt, stdout.log, stderr.log,
// exit_code.txt and duration_ms.txt under io/tool_executions/<action_id>/,
// returning that directory. The formatted observation text is not persisted
// here — it is the ACTION_RESULT journal payload's own field — only the raw
// inputs to it are.
func (s *Store) SaveToolExecution(a ToolExecutionArtifact) (string, error) {
	dir := filepath.Join(s.dir, "io", "tool_executions", a.ActionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &deltaerr.IOError{Op: "create tool execution artifact dir", Err: err}
	}

	var cmdLine string
	for i, part := range a.Command {
		if i > 0 {
			cmdLine += " "
		}
		cmdLine += part
	}
	writes := []struct {
		name string
		data []byte
	}{
		{"command.txt", []byte(cmdLine + "\n")},
		{"stdout.log", a.Stdout},
		{"stderr.log", a.Stderr},
		{"exit_code.txt", []byte(strconv.Itoa(a.ExitCode) + "\n")},
		{"duration_ms.txt", []byte(strconv.FormatInt(a.DurationMS, 10) + "\n")},
	}
	for _, w := range writes {
		if err := os.WriteFile(filepath.Join(dir, w.name), w.data, 0o644); err != nil {
			return "", &deltaerr.IOError{Op: "save tool execution " + w.name, Err: err}
		}
	}
	return dir, nil
}

// HookInvocationIO is the set of paths the Hook Executor reads and writes
// for one lifecycle point invocation, per spec.md §4.2's file-based IPC
// protocol and §4.8's on-disk layout
// (io/hooks/<NNN>_<hook_name>/{input/,output/,execution_meta/}).
type HookInvocationIO struct {
	Dir                 string
	ContextPath         string // input/context.json
	PayloadPath         string // input/payload.json, or input/payload.dat for raw bytes
	FinalPayloadPath    string // output/final_payload.json
	PayloadOverridePath string // output/payload_override.dat, a raw-bytes alternative to FinalPayloadPath
	ControlPath         string // output/control.json
	ExecutionMetaDir    string // execution_meta/, for the hookexec package's own audit trail
}

// SetupHookInvocation creates the input/, output/ and execution_meta/
// directories for one hook invocation under
// io/hooks/<NNN>_<hook_name>/, and writes context.json and the payload
// file. rawPayload, when non-nil, is written verbatim to payload.dat
// instead of JSON-encoding payload to payload.json — used for tool
// stdout/stderr bytes that aren't guaranteed-valid UTF-8 JSON content.
func (s *Store) SetupHookInvocation(hookName string, invocationSeq int, context any, payload any, rawPayload []byte) (HookInvocationIO, error) {
	dirName := fmt.Sprintf("%03d_%s", invocationSeq, hookName)
	dir := filepath.Join(s.dir, "io", "hooks", dirName)
	io := HookInvocationIO{Dir: dir}

	for _, sub := range []string{"input", "output", "execution_meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return io, &deltaerr.IOError{Op: "create hook invocation " + sub + " dir", Err: err}
		}
	}
	io.ExecutionMetaDir = filepath.Join(dir, "execution_meta")

	io.ContextPath = filepath.Join(dir, "input", "context.json")
	if err := writeJSONFile(io.ContextPath, context); err != nil {
		return io, &deltaerr.IOError{Op: "write hook context", Err: err}
	}

	if rawPayload != nil {
		io.PayloadPath = filepath.Join(dir, "input", "payload.dat")
		if err := os.WriteFile(io.PayloadPath, rawPayload, 0o644); err != nil {
			return io, &deltaerr.IOError{Op: "write hook raw payload", Err: err}
		}
	} else {
		io.PayloadPath = filepath.Join(dir, "input", "payload.json")
		if err := writeJSONFile(io.PayloadPath, payload); err != nil {
			return io, &deltaerr.IOError{Op: "write hook payload", Err: err}
		}
	}

	io.FinalPayloadPath = filepath.Join(dir, "output", "final_payload.json")
	io.PayloadOverridePath = filepath.Join(dir, "output", "payload_override.dat")
	io.ControlPath = filepath.Join(dir, "output", "control.json")
	return io, nil
}
