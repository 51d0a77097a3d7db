// Package contextcompose is the Context Composer of spec.md §4.4: it
// resolves a declarative manifest of context sources into the ordered list
// of chat messages sent to the LLM each iteration.
package contextcompose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/runstore"
)

// SourceKind enumerates the three context source kinds (spec.md §4.4).
type SourceKind string

const (
	SourceFile         SourceKind = "file"
	SourceComputedFile SourceKind = "computed_file"
	SourceJournal      SourceKind = "journal"
)

// OnMissing governs what happens when a file source's path does not exist.
type OnMissing string

const (
	OnMissingError OnMissing = "error"
	OnMissingSkip  OnMissing = "skip"
)

// Source is one entry of the context manifest (spec.md §3.1).
type Source struct {
	Kind SourceKind

	// file / computed_file
	Path      string // for computed_file, the generator's expected output path (output_path)
	OnMissing OnMissing
	Generator []string      // computed_file only: argv of the generator command
	Timeout   time.Duration // computed_file only

	// journal only
	MaxIterations int
}

// Vars carries the variable substitutions available to `${NAME}`
// placeholders in source paths (spec.md §4.4: "${AGENT_HOME}" and "${CWD}").
type Vars struct {
	AgentHome string
	CWD       string
}

func (v Vars) expand(s string) string {
	s = strings.ReplaceAll(s, "${AGENT_HOME}", v.AgentHome)
	s = strings.ReplaceAll(s, "${CWD}", v.CWD)
	return s
}

// Resolve resolves every source in the manifest, in declaration order, and
// concatenates their message lists (spec.md §4.4: "Ordering"). The agent's
// system prompt is not a manifest source: the engine always prepends it as
// the first message, ahead of whatever Resolve returns here.
func Resolve(ctx context.Context, manifest []Source, vars Vars, runID string, store *runstore.Store) ([]llmclient.Message, error) {
	var messages []llmclient.Message
	for i, src := range manifest {
		msgs, err := resolveOne(ctx, src, vars, runID, store)
		if err != nil {
			return nil, fmt.Errorf("resolve context source %d (%s): %w", i, src.Kind, err)
		}
		messages = append(messages, msgs...)
	}
	return messages, nil
}

func resolveOne(ctx context.Context, src Source, vars Vars, runID string, store *runstore.Store) ([]llmclient.Message, error) {
	switch src.Kind {
	case SourceFile:
		return resolveFile(src, vars)
	case SourceComputedFile:
		return resolveComputedFile(ctx, src, vars, runID)
	case SourceJournal:
		return resolveJournal(src, store)
	default:
		return nil, fmt.Errorf("unknown context source kind %q", src.Kind)
	}
}

func resolveFile(src Source, vars Vars) ([]llmclient.Message, error) {
	path := vars.expand(src.Path)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && src.OnMissing == OnMissingSkip {
			return nil, nil
		}
		return nil, fmt.Errorf("read context file %s: %w", path, err)
	}
	return []llmclient.Message{{Role: llmclient.RoleSystem, Content: string(raw)}}, nil
}

func resolveComputedFile(ctx context.Context, src Source, vars Vars, runID string) ([]llmclient.Message, error) {
	if len(src.Generator) == 0 {
		return nil, fmt.Errorf("computed_file source has no generator command")
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if src.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, src.Timeout)
		defer cancel()
	}

	argv := make([]string, len(src.Generator))
	for i, a := range src.Generator {
		argv[i] = vars.expand(a)
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "DELTA_RUN_ID="+runID)
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, fmt.Errorf("generator timed out: %w", runCtx.Err())
		}
		return nil, fmt.Errorf("generator exited non-zero: %w", err)
	}

	outputPath := vars.expand(src.Path)
	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read generator output %s: %w", outputPath, err)
	}
	return []llmclient.Message{{Role: llmclient.RoleSystem, Content: string(raw)}}, nil
}

func resolveJournal(src Source, store *runstore.Store) ([]llmclient.Message, error) {
	events, err := store.ReadJournal()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return journal.Reconstruct(events, src.MaxIterations)
}

// AbsVars resolves agentHome and cwd to absolute paths, for callers
// building Vars from CLI-supplied directories.
func AbsVars(agentHome, cwd string) (Vars, error) {
	ah, err := filepath.Abs(agentHome)
	if err != nil {
		return Vars{}, err
	}
	cw, err := filepath.Abs(cwd)
	if err != nil {
		return Vars{}, err
	}
	return Vars{AgentHome: ah, CWD: cw}, nil
}
