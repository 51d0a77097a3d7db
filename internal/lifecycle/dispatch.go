// Package lifecycle implements the run status state machine and the
// janitor recovery subsystem of spec.md §4.7.
package lifecycle

import (
	"fmt"

	"github.com/deltaengine/delta/internal/runstore"
)

// ContinueKind classifies what a `continue` invocation means for a run
// already in a terminal or paused state (spec.md §4.7's dispatch table).
type ContinueKind string

const (
	ContinueResume    ContinueKind = "resume"
	ContinueExtension ContinueKind = "extension"
	ContinueRetry     ContinueKind = "retry"
)

// DispatchContinue validates a `continue` against a run's recorded status
// and whether a message was supplied, per spec.md §4.7's table:
//
//	RUNNING            -> rejected here; caller must consult the Janitor first
//	WAITING_FOR_INPUT  -> resume, message optional (a pending response.txt may supply it)
//	INTERRUPTED        -> resume, message optional
//	COMPLETED          -> extension, message required
//	FAILED             -> retry, message required
func DispatchContinue(status runstore.Status, messageProvided bool) (ContinueKind, error) {
	switch status {
	case runstore.StatusWaitingForInput, runstore.StatusInterrupted:
		return ContinueResume, nil
	case runstore.StatusCompleted:
		if !messageProvided {
			return "", fmt.Errorf("continuing a COMPLETED run requires a message")
		}
		return ContinueExtension, nil
	case runstore.StatusFailed:
		if !messageProvided {
			return "", fmt.Errorf("continuing a FAILED run requires a message")
		}
		return ContinueRetry, nil
	case runstore.StatusRunning:
		return "", fmt.Errorf("run is RUNNING; consult the janitor before continuing")
	default:
		return "", fmt.Errorf("unknown run status %q", status)
	}
}
