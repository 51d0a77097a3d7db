// Command delta-sessions is a thin CLI wrapper around internal/session,
// letting a tool-catalog entry start, list, write to, and end PTY-backed
// sessions by invoking this binary rather than linking the package
// directly (spec.md §4.11: "invoked like any other tool").
//
// Usage:
//
//	delta-sessions start -- bash -i
//	delta-sessions list
//	delta-sessions write <session-id> "ls -la\n"
//	delta-sessions end <session-id>
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/deltaengine/delta/internal/session"
)

const endGrace = 5 * time.Second

// CLI is the delta-sessions command set, one subcommand per session
// lifecycle action a tool definition needs.
type CLI struct {
	Start StartCmd `cmd:"" help:"Start a new PTY-backed session."`
	List  ListCmd  `cmd:"" help:"List sessions in the current workspace."`
	Write WriteCmd `cmd:"" help:"Write input to a running session."`
	End   EndCmd   `cmd:"" help:"Terminate a session."`

	WorkDir string `name:"work-dir" help:"Workspace directory." default:"."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli, kong.Name("delta-sessions"), kong.Description("Manage long-lived PTY sessions for an agent's tools."))
	mgr := session.NewManager(cli.WorkDir)
	kctx.FatalIfErrorf(kctx.Run(mgr))
}

// StartCmd starts command under a PTY and prints its Metadata as JSON.
type StartCmd struct {
	Command []string `arg:"" help:"Command and arguments to run under a PTY."`
}

func (c *StartCmd) Run(mgr *session.Manager) error {
	meta, err := mgr.Start(c.Command)
	if err != nil {
		return err
	}
	return printJSON(meta)
}

// ListCmd prints every session's Metadata as a JSON array.
type ListCmd struct{}

func (c *ListCmd) Run(mgr *session.Manager) error {
	metas, err := mgr.List()
	if err != nil {
		return err
	}
	return printJSON(metas)
}

// WriteCmd writes a single string of input to a running session.
type WriteCmd struct {
	SessionID string `arg:""`
	Data      string `arg:""`
}

func (c *WriteCmd) Run(mgr *session.Manager) error {
	return mgr.Write(c.SessionID, c.Data)
}

// EndCmd terminates one session, SIGTERM then SIGKILL after a grace period.
type EndCmd struct {
	SessionID string `arg:""`
}

func (c *EndCmd) Run(mgr *session.Manager) error {
	return mgr.End(c.SessionID, endGrace)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
