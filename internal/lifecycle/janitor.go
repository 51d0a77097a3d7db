package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/deltaengine/delta/internal/runstore"
)

// Janitor reclaims runs whose metadata claims RUNNING but whose owning
// process is no longer alive (spec.md §4.7). Its liveness checks are
// pluggable fields so tests can substitute fakes instead of signalling or
// shelling out to real PIDs.
type Janitor struct {
	Hostname    func() (string, error)
	IsAlive     func(pid int) bool
	ProcessName func(pid int) (name string, ok bool)
}

// NewJanitor returns a Janitor wired to the real OS: signal-0 liveness and
// best-effort `ps`-based process-name lookup (Unix only).
func NewJanitor() *Janitor {
	return &Janitor{
		Hostname:    os.Hostname,
		IsAlive:     signalZeroAlive,
		ProcessName: psProcessName,
	}
}

// Inspect runs the janitor's four-step protocol against a run recorded as
// RUNNING and reports whether it should be reclaimed (transitioned to
// INTERRUPTED). A non-nil error means the run must not be touched: either
// it is still genuinely active, or liveness cannot be verified safely.
func (j *Janitor) Inspect(meta runstore.Metadata, force bool) (reclaim bool, err error) {
	if host, herr := j.Hostname(); herr == nil && meta.Hostname != "" && meta.Hostname != host {
		if !force {
			return false, fmt.Errorf("run %s is recorded as RUNNING on host %q; this host is %q (pass --force to override)", meta.RunID, meta.Hostname, host)
		}
	}

	if !j.IsAlive(meta.PID) {
		return true, nil
	}

	if name, ok := j.ProcessName(meta.PID); ok && !strings.Contains(strings.ToLower(name), "delta") {
		return true, nil
	}

	return false, fmt.Errorf("run %s still active (pid %d alive on host %q)", meta.RunID, meta.PID, meta.Hostname)
}

// Reclaim transitions an orphaned run's metadata to INTERRUPTED, the
// precondition spec.md §4.7's janitor step 2 requires before the run may be
// resumed.
func (j *Janitor) Reclaim(store *runstore.Store) error {
	status := runstore.StatusInterrupted
	return store.UpdateMetadata(runstore.MetadataPatch{Status: &status})
}

func signalZeroAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// psProcessName is a best-effort, Unix-only lookup of the command name
// owning pid, per spec.md §4.7 step 3 ("best effort, Unix-only via ps").
func psProcessName(pid int) (string, bool) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		return "", false
	}
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=").Output()
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return "", false
	}
	return name, true
}
