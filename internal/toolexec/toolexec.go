// Package toolexec is the Tool Executor of spec.md §4.2: it builds a
// child-process invocation from a tool definition and a parameter mapping,
// spawns it without a shell, and formats the captured output into the
// string the engine feeds back to the LLM as an ACTION_RESULT.
//
// The teacher's closest analogue is pkg/tool/controltool's direct exec of
// control-flow children; the injection-mode argv assembly here is original
// to this contract but follows the same "build argv, then exec.Command
// directly" shape.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ParamInjection enumerates how a tool parameter is passed to its child
// process (spec.md §3.1, Tool Definition).
type ParamInjection string

const (
	InjectArgument ParamInjection = "argument"
	InjectStdin    ParamInjection = "stdin"
	InjectOption   ParamInjection = "option"
)

// ParamSpec is one parameter of an expanded tool definition.
type ParamSpec struct {
	Name       string
	Injection  ParamInjection
	OptionName string // required when Injection == InjectOption
}

// Definition is the post-expansion tool definition consumed by the
// executor (spec.md §3.1): an argv template plus an ordered parameter list.
// The `exec:`/`shell:` sugar forms are expanded into this shape during
// agent loading, not here.
type Definition struct {
	Name       string
	ArgvBase   []string
	Parameters []ParamSpec
}

const maxOutputChars = 5000
const truncatedMarker = "\n[truncated]"
const noOutputPlaceholder = "(Command executed with no output)"

// Result is the raw outcome of one tool invocation, before observation
// formatting (spec.md §4.2: "Returns {stdout, stderr, exit_code,
// duration_ms, success}").
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Success    bool
	Argv       []string
}

// BuildArgv assembles the child-process argv from a tool definition and a
// name→value parameter mapping, per spec.md §4.2 steps 1-2. It also returns
// the stdin payload, if any parameter uses InjectStdin (at most one is
// permitted; agent loading is responsible for rejecting definitions that
// violate this before they reach the executor).
func BuildArgv(def Definition, args map[string]string) (argv []string, stdin string, hasStdin bool) {
	argv = append(argv, def.ArgvBase...)
	for _, p := range def.Parameters {
		val := args[p.Name]
		switch p.Injection {
		case InjectArgument:
			argv = append(argv, val)
		case InjectOption:
			argv = append(argv, p.OptionName, val)
		case InjectStdin:
			stdin = val
			hasStdin = true
		}
	}
	return argv, stdin, hasStdin
}

// Execute spawns the child process directly (no shell), working in
// workDir, inheriting the engine's own environment, captures stdout/stderr,
// and waits for exit (spec.md §4.2 steps 3-4).
func Execute(ctx context.Context, def Definition, args map[string]string, workDir string) (Result, error) {
	argv, stdin, hasStdin := BuildArgv(def, args)
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("tool %q expands to an empty argv", def.Name)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if hasStdin {
		cmd.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{Argv: argv}, fmt.Errorf("spawn tool %q: %w", def.Name, err)
		}
	}

	return Result{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMS: duration.Milliseconds(),
		Success:    exitCode == 0,
		Argv:       argv,
	}, nil
}

// FormatObservation renders a Result into the single string the engine
// stores as ACTION_RESULT.observation_content (spec.md §4.2, "Observation
// formatting").
func FormatObservation(r Result) string {
	if r.Stdout == "" && r.Stderr == "" {
		return noOutputPlaceholder
	}
	var b strings.Builder
	b.WriteString("=== STDOUT ===\n")
	b.WriteString(truncate(r.Stdout))
	b.WriteString("\n=== STDERR ===\n")
	b.WriteString(truncate(r.Stderr))
	b.WriteString(fmt.Sprintf("\n=== EXIT CODE: %d ===", r.ExitCode))
	return b.String()
}

// truncate caps s at maxOutputChars runes and appends an explicit marker;
// the model never sees the stored-but-trimmed tail (spec.md §8, boundary
// property).
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxOutputChars {
		return s
	}
	return string(runes[:maxOutputChars]) + truncatedMarker
}
