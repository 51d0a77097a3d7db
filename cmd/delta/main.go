// Command delta is the CLI boundary of spec.md §6.1: it loads an agent
// definition, selects or creates a workspace, drives one Engine invocation
// to completion/pause/failure, and renders the result.
//
// Usage:
//
//	delta run --agent ./myagent --message "do the thing"
//	delta continue --work-dir W001 --run-id 20260731_120000_a1b2c3 --message "keep going"
//	delta list-runs --work-dir W001
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/deltaengine/delta/internal/agentdef"
	"github.com/deltaengine/delta/internal/contextcompose"
	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/engine"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/lifecycle"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/logging"
	"github.com/deltaengine/delta/internal/runstore"
	"github.com/deltaengine/delta/internal/session"
	"github.com/deltaengine/delta/internal/workspace"
)

// Exit codes per spec.md §6.1 and §7.
const (
	exitOK              = 0
	exitError           = 1
	exitWaitingForInput = 101
	exitInterrupted     = 130
)

// CLI is the top-level kong command set.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Start a new run."`
	Continue ContinueCmd `cmd:"" help:"Resume, extend, or retry an existing run."`
	ListRuns ListRunsCmd `cmd:"" help:"List runs in a workspace."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat string `help:"Log format (text, json)." default:"text"`
}

func main() {
	var cli CLI
	parser := kong.Must(&cli, kong.Name("delta"), kong.Description("Run and resume TAO agent loops."))
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	logging.Init(logging.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the process exit code, per spec.md
// §6.1/§7: a *pausedError carries 101, context.Canceled (the engine's own
// SIGINT/SIGTERM signal) carries 130, everything else is a generic 1.
func exitCodeFor(err error) int {
	var pe *pausedError
	switch {
	case asPaused(err, &pe):
		return exitWaitingForInput
	case err == context.Canceled:
		return exitInterrupted
	default:
		logging.Default().Error(err.Error())
		return exitError
	}
}

// pausedError signals WAITING_FOR_INPUT to exitCodeFor without forcing
// every command to inspect engine.Result directly.
type pausedError struct{}

func (e *pausedError) Error() string { return "run paused for human input" }

func asPaused(err error, target **pausedError) bool {
	pe, ok := err.(*pausedError)
	if !ok {
		return false
	}
	*target = pe
	return true
}

// RunCmd implements `delta run` (spec.md §6.1).
type RunCmd struct {
	Agent         string `help:"Agent definition directory." default:"."`
	Message       string `help:"Task message." required:""`
	WorkDir       string `name:"work-dir" help:"Workspace name or path (defaults to last used, or creates a new one; there is no selection prompt)."`
	RunID         string `name:"run-id" help:"Client-generated run ID (defaults to YYYYMMDD_HHMMSS_<6-hex>)."`
	MaxIterations int    `name:"max-iterations" help:"Override the agent definition's max_iterations."`
	Interactive   bool   `help:"Prompt for ask_human replies on this terminal instead of pausing."`
	Yes           bool   `short:"y" help:"Do not print the notice when the last-used workspace is reused (no workspace-selection prompt exists)."`
	Format        string `help:"Output format: text, json, raw." enum:"text,json,raw" default:"text"`
}

func (c *RunCmd) Run(cli *CLI) error {
	agentPath := filepath.Join(c.Agent, "agent.yaml")
	agent, err := agentdef.Load(agentPath)
	if err != nil {
		return err
	}
	if c.MaxIterations > 0 {
		agent.MaxIterations = c.MaxIterations
	}

	agentHome, err := filepath.Abs(c.Agent)
	if err != nil {
		return &deltaerr.IOError{Op: "resolve agent home", Err: err}
	}

	ws, err := resolveWorkspace(agentHome, c.WorkDir, c.Yes)
	if err != nil {
		return err
	}

	runID := c.RunID
	if runID == "" {
		runID = newRunID()
	}

	store, err := runstore.Create(ws.ControlDir(), runID, agentPath, c.Message)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.AppendEvent(context.Background(), journal.EventUserMessage, journal.UserMessagePayload{Content: c.Message}); err != nil {
		return err
	}

	return runEngine(runEngineOpts{
		agent:       agent,
		agentHome:   agentHome,
		workspace:   ws,
		store:       store,
		interactive: c.Interactive,
		format:      c.Format,
	})
}

// ContinueCmd implements `delta continue` (spec.md §4.7's dispatch table).
type ContinueCmd struct {
	WorkDir string `name:"work-dir" required:"" help:"Workspace name or path."`
	RunID   string `name:"run-id" required:"" help:"Run to continue."`
	Message string `help:"Message to append (required when COMPLETED or FAILED)."`
	Force   bool   `help:"Override the janitor's host/liveness mismatch guard."`
	Format  string `help:"Output format: text, json, raw." enum:"text,json,raw" default:"text"`
}

func (c *ContinueCmd) Run(cli *CLI) error {
	agentHome, err := filepath.Abs(".")
	if err != nil {
		return &deltaerr.IOError{Op: "resolve agent home", Err: err}
	}
	ws, err := workspace.Open(agentHome, c.WorkDir)
	if err != nil {
		return err
	}

	store, err := runstore.Open(ws.ControlDir(), c.RunID)
	if err != nil {
		return err
	}
	defer store.Close()

	meta, err := store.ReadMetadata()
	if err != nil {
		return err
	}

	if meta.Status == runstore.StatusRunning {
		janitor := lifecycle.NewJanitor()
		reclaim, err := janitor.Inspect(meta, c.Force)
		if err != nil {
			return err
		}
		if reclaim {
			if err := janitor.Reclaim(store); err != nil {
				return err
			}
			meta, err = store.ReadMetadata()
			if err != nil {
				return err
			}
		}
	}

	if _, err := lifecycle.DispatchContinue(meta.Status, c.Message != ""); err != nil {
		return err
	}

	agent, err := agentdef.Load(meta.AgentRef)
	if err != nil {
		return err
	}

	if c.Message != "" {
		if _, err := store.AppendEvent(context.Background(), journal.EventUserMessage, journal.UserMessagePayload{Content: c.Message}); err != nil {
			return err
		}
	}

	return runEngine(runEngineOpts{
		agent:     agent,
		agentHome: agentHome,
		workspace: ws,
		store:     store,
		format:    c.Format,
	})
}

// ListRunsCmd implements `delta list-runs` (spec.md §6.1).
type ListRunsCmd struct {
	WorkDir   string `name:"work-dir" help:"Workspace name or path (defaults to all workspaces)."`
	Resumable bool   `help:"Only list runs that can be resumed (WAITING_FOR_INPUT or INTERRUPTED)."`
	Status    string `help:"Only list runs with this status."`
	First     bool   `help:"Print only the most recently started matching run."`
	Format    string `help:"Output format: text, json." enum:"text,json" default:"text"`
}

func (c *ListRunsCmd) Run(cli *CLI) error {
	agentHome, err := filepath.Abs(".")
	if err != nil {
		return &deltaerr.IOError{Op: "resolve agent home", Err: err}
	}

	var workspaces []workspace.Workspace
	if c.WorkDir != "" {
		ws, err := workspace.Open(agentHome, c.WorkDir)
		if err != nil {
			return err
		}
		workspaces = []workspace.Workspace{ws}
	} else {
		workspaces, err = workspace.List(agentHome)
		if err != nil {
			return err
		}
	}

	var metas []runstore.Metadata
	for _, ws := range workspaces {
		entries, err := os.ReadDir(ws.ControlDir())
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			meta, err := runstore.ReadMetadataAt(filepath.Join(ws.ControlDir(), e.Name()))
			if err != nil {
				continue
			}
			if c.Resumable && meta.Status != runstore.StatusWaitingForInput && meta.Status != runstore.StatusInterrupted {
				continue
			}
			if c.Status != "" && string(meta.Status) != c.Status {
				continue
			}
			metas = append(metas, meta)
		}
	}

	sortMetasByStartTimeDesc(metas)
	if c.First && len(metas) > 1 {
		metas = metas[:1]
	}

	if c.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	}
	for _, m := range metas {
		fmt.Printf("%s\t%s\t%s\n", m.RunID, m.Status, m.StartTime.Format(time.RFC3339))
	}
	return nil
}

func sortMetasByStartTimeDesc(metas []runstore.Metadata) {
	for i := 1; i < len(metas); i++ {
		for j := i; j > 0 && metas[j].StartTime.After(metas[j-1].StartTime); j-- {
			metas[j], metas[j-1] = metas[j-1], metas[j]
		}
	}
}

// resolveWorkspace implements spec.md §4.8's selection order: an explicit
// --work-dir wins outright; otherwise the LAST_USED workspace is reused
// (with a notice on stderr unless --yes is set), and in its absence a new
// workspace is created and recorded as LAST_USED. No selection prompt is
// shown in any case.
func resolveWorkspace(agentHome, workDir string, yes bool) (workspace.Workspace, error) {
	if workDir != "" {
		return workspace.Open(agentHome, workDir)
	}
	if ws, ok, err := workspace.LastUsed(agentHome); err != nil {
		return workspace.Workspace{}, err
	} else if ok {
		if yes {
			return ws, nil
		}
		fmt.Fprintf(os.Stderr, "Using last workspace %s (%s). Pass --work-dir to pick another.\n", ws.Name, ws.Path)
		return ws, nil
	}
	ws, err := workspace.Create(agentHome)
	if err != nil {
		return workspace.Workspace{}, err
	}
	if err := workspace.MarkInteractivelySelected(agentHome, ws); err != nil {
		logging.Default().Warn("could not record LAST_USED workspace", "error", err)
	}
	return ws, nil
}

type runEngineOpts struct {
	agent       agentdef.Definition
	agentHome   string
	workspace   workspace.Workspace
	store       *runstore.Store
	interactive bool
	format      string
}

// runEngine builds the provider and context manifest for agent, drives the
// Engine to a terminal Result, and renders it per --format.
func runEngine(o runEngineOpts) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Warn("received shutdown signal")
		cancel()
	}()

	provider, err := buildProvider(ctx, o.agent)
	if err != nil {
		return err
	}

	vars, err := contextcompose.AbsVars(o.agentHome, o.workspace.Path)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Options{
		Store:       o.store,
		Agent:       o.agent,
		Provider:    provider,
		Manifest:    defaultManifest(o.agent),
		Vars:        vars,
		WorkDir:     o.workspace.Path,
		Sessions:    session.NewManager(o.workspace.Path),
		Interactive: o.interactive,
	})

	start := time.Now()
	result, runErr := eng.Run(ctx)
	duration := time.Since(start)

	if runErr != nil && runErr != context.Canceled {
		result.Status = runstore.StatusFailed
		result.FinalContent = runErr.Error()
	}

	rr := toRunResult(o.store, result, duration)
	rr.Metadata.AgentName = o.agent.Name
	renderResult(o.format, rr)

	if runErr == context.Canceled {
		return context.Canceled
	}
	if result.Status == runstore.StatusWaitingForInput {
		return &pausedError{}
	}
	if result.Status == runstore.StatusFailed {
		return fmt.Errorf("run failed")
	}
	return nil
}

// defaultManifest is the context manifest every agent gets until agent
// definitions grow their own `context:` section (spec.md's Open Question
// on manifest authoring is deferred past this CLI's scope): a single journal
// source trimmed to the agent's max_iterations. The system prompt is not a
// manifest source; the engine prepends it to every composed message list.
func defaultManifest(agent agentdef.Definition) []contextcompose.Source {
	return []contextcompose.Source{
		{Kind: contextcompose.SourceJournal, MaxIterations: agent.MaxIterations},
	}
}

func buildProvider(ctx context.Context, agent agentdef.Definition) (llmclient.Provider, error) {
	switch agent.LLM.Provider {
	case "gemini":
		return llmclient.NewGeminiProvider(ctx, llmclient.GeminiConfig{APIKeyEnv: "GEMINI_API_KEY"})
	case "openai", "":
		return llmclient.NewOpenAIProvider(llmclient.OpenAIConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			DefaultBase: "https://api.openai.com/v1",
			Timeout:     120 * time.Second,
		})
	default:
		return nil, &deltaerr.ConfigError{Err: fmt.Errorf("unknown llm provider %q", agent.LLM.Provider)}
	}
}

// RunResult is the CLI-facing result document, schema v2.0 (spec.md §6.2).
type RunResult struct {
	SchemaVersion string             `json:"schema_version"`
	RunID         string             `json:"run_id"`
	Status        string             `json:"status"`
	Result        string             `json:"result,omitempty"`
	Error         *runResultError    `json:"error,omitempty"`
	Interaction   *runResultInteract `json:"interaction,omitempty"`
	Metrics       runResultMetrics   `json:"metrics"`
	Metadata      runResultMetadata  `json:"metadata"`
}

type runResultError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type runResultInteract struct {
	Prompt    string `json:"prompt"`
	InputType string `json:"input_type"`
	Sensitive bool   `json:"sensitive"`
}

type runResultMetrics struct {
	Iterations int            `json:"iterations"`
	DurationMS int64          `json:"duration_ms"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	Usage      runResultUsage `json:"usage"`
}

type runResultUsage struct {
	TotalCostUSD float64 `json:"total_cost_usd"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
}

type runResultMetadata struct {
	AgentName     string `json:"agent_name"`
	WorkspacePath string `json:"workspace_path"`
}

func toRunResult(store *runstore.Store, result engine.Result, duration time.Duration) RunResult {
	meta, _ := store.ReadMetadata()
	rr := RunResult{
		SchemaVersion: "2.0",
		RunID:         meta.RunID,
		Status:        string(result.Status),
		Metrics: runResultMetrics{
			Iterations: meta.IterationsCompleted,
			DurationMS: duration.Milliseconds(),
			StartTime:  meta.StartTime,
			EndTime:    meta.EndTime,
			Usage: runResultUsage{
				TotalCostUSD: result.Usage.TotalCostUSD,
				InputTokens:  result.Usage.InputTokens,
				OutputTokens: result.Usage.OutputTokens,
			},
		},
		Metadata: runResultMetadata{
			AgentName:     meta.AgentRef,
			WorkspacePath: filepath.Dir(filepath.Dir(store.Dir())),
		},
	}
	switch result.Status {
	case runstore.StatusCompleted:
		rr.Result = result.FinalContent
	case runstore.StatusFailed:
		rr.Error = &runResultError{Type: "run_failed", Message: result.FinalContent}
	case runstore.StatusWaitingForInput:
		if result.Interaction != nil {
			rr.Interaction = &runResultInteract{
				Prompt:    result.Interaction.Prompt,
				InputType: string(result.Interaction.InputType),
				Sensitive: result.Interaction.Sensitive,
			}
		}
	}
	return rr
}

func renderResult(format string, rr RunResult) {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rr)
	case "raw":
		fmt.Println(rr.Result)
	default:
		renderText(rr)
	}
}

func renderText(rr RunResult) {
	fmt.Printf("run %s: %s\n", rr.RunID, rr.Status)
	switch rr.Status {
	case string(runstore.StatusCompleted):
		fmt.Println(rr.Result)
	case string(runstore.StatusFailed):
		if rr.Error != nil {
			fmt.Println(rr.Error.Message)
		}
	case string(runstore.StatusWaitingForInput):
		if rr.Interaction != nil {
			fmt.Println(rr.Interaction.Prompt)
		}
	}
	fmt.Printf("iterations=%d duration_ms=%d\n", rr.Metrics.Iterations, rr.Metrics.DurationMS)
}

// newRunID generates the default run ID format of spec.md §3.1:
// YYYYMMDD_HHMMSS_<6-hex>, the hex suffix drawn from a uuid to keep two
// runs started in the same second from colliding.
func newRunID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return time.Now().UTC().Format("20060102_150405") + "_" + suffix
}
