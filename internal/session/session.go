// Package session is the ancillary PTY-backed session manager of spec.md
// §4.11: long-lived subprocesses whose state lives inside the workspace
// (`.sessions/<id>/`) even though the manager itself is invoked like any
// other tool. This package implements the surface (start, list, write, end)
// as a library the engine's cleanup step calls directly, per SPEC_FULL.md;
// `cmd/delta-sessions` is a thin CLI wrapper around it for use as a regular
// tool-catalog entry.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Status enumerates a session's liveness (spec.md §3.1).
type Status string

const (
	StatusRunning Status = "running"
	StatusDead    Status = "dead"
)

// Metadata is the SessionMetadata document (spec.md §9 Open Question:
// implements the more recent holder_pid-bearing shape, as directed).
type Metadata struct {
	SessionID      string    `json:"session_id"`
	Command        []string  `json:"command"`
	PID            int       `json:"pid"`
	HolderPID      int       `json:"holder_pid"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Status         Status    `json:"status"`
}

type handle struct {
	meta   Metadata
	cmd    *exec.Cmd
	master *os.File
	outLog *os.File
	waitCh chan struct{}
}

// Manager owns the sessions living in one workspace's `.sessions/`
// directory. A Manager only directly controls the PTYs it started itself
// (in-memory); sessions started by a different process are still visible
// via List and can still be ended via their recorded PID.
type Manager struct {
	dir string

	mu       sync.Mutex
	sessions map[string]*handle
}

// NewManager returns a Manager rooted at <workspace>/.sessions.
func NewManager(workspaceDir string) *Manager {
	return &Manager{dir: filepath.Join(workspaceDir, ".sessions"), sessions: map[string]*handle{}}
}

// Start spawns command under a PTY and begins copying its output to
// <id>/output.log. The session keeps running after Start returns; the
// caller is responsible for eventually calling End.
func (m *Manager) Start(command []string) (Metadata, error) {
	if len(command) == 0 {
		return Metadata{}, fmt.Errorf("session command must not be empty")
	}

	id := uuid.NewString()
	dir := filepath.Join(m.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, fmt.Errorf("create session dir: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	master, err := pty.Start(cmd)
	if err != nil {
		return Metadata{}, fmt.Errorf("start pty: %w", err)
	}

	outLog, err := os.Create(filepath.Join(dir, "output.log"))
	if err != nil {
		master.Close()
		return Metadata{}, fmt.Errorf("create output log: %w", err)
	}
	if _, err := os.Create(filepath.Join(dir, "input.log")); err != nil {
		return Metadata{}, fmt.Errorf("create input log: %w", err)
	}

	now := time.Now()
	h := &handle{
		meta: Metadata{
			SessionID:      id,
			Command:        command,
			PID:            cmd.Process.Pid,
			HolderPID:      os.Getpid(),
			CreatedAt:      now,
			LastAccessedAt: now,
			Status:         StatusRunning,
		},
		cmd:    cmd,
		master: master,
		outLog: outLog,
		waitCh: make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[id] = h
	m.mu.Unlock()

	go io.Copy(outLog, master) //nolint:errcheck // best-effort output tee; the pty closes when the child exits
	go func() {
		cmd.Wait()
		close(h.waitCh)
		m.mu.Lock()
		h.meta.Status = StatusDead
		_ = m.writeMetadataLocked(h)
		m.mu.Unlock()
	}()

	if err := m.writeMetadataLocked(h); err != nil {
		return Metadata{}, err
	}
	return h.meta, nil
}

// List returns every session recorded in the workspace, including ones not
// started by this Manager instance.
func (m *Manager) List() ([]Metadata, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Write sends data to the session's PTY stdin and appends it to
// input.log. It works only for sessions this Manager instance started;
// for any other session it returns an error.
func (m *Manager) Write(sessionID, data string) error {
	m.mu.Lock()
	h, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q is not held by this process", sessionID)
	}

	if f, err := os.OpenFile(filepath.Join(m.dir, sessionID, "input.log"), os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
		f.WriteString(data)
		f.Close()
	}

	if _, err := h.master.Write([]byte(data)); err != nil {
		return fmt.Errorf("write to session pty: %w", err)
	}

	m.mu.Lock()
	h.meta.LastAccessedAt = time.Now()
	err := m.writeMetadataLocked(h)
	m.mu.Unlock()
	return err
}

// End terminates a session: SIGTERM, then SIGKILL after grace if it has not
// exited (spec.md §4.11). Sessions started by this Manager are waited on
// directly; sessions started elsewhere are reclaimed via their recorded PID.
func (m *Manager) End(sessionID string, grace time.Duration) error {
	m.mu.Lock()
	h, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return m.endInProcess(h, grace)
	}
	return m.endByPID(sessionID, grace)
}

func (m *Manager) endInProcess(h *handle, grace time.Duration) error {
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.waitCh:
	case <-time.After(grace):
		_ = h.cmd.Process.Kill()
		<-h.waitCh
	}

	m.mu.Lock()
	delete(m.sessions, h.meta.SessionID)
	m.mu.Unlock()
	h.master.Close()
	h.outLog.Close()
	return nil
}

func (m *Manager) endByPID(sessionID string, grace time.Duration) error {
	path := filepath.Join(m.dir, sessionID, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read session metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("parse session metadata: %w", err)
	}
	if meta.Status == StatusDead {
		return nil
	}

	proc, procErr := os.FindProcess(meta.PID)
	if procErr == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) && pidAlive(meta.PID) {
		time.Sleep(50 * time.Millisecond)
	}
	if pidAlive(meta.PID) && proc != nil {
		_ = proc.Kill()
	}

	meta.Status = StatusDead
	return writeMetadataAtomic(path, meta)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (m *Manager) writeMetadataLocked(h *handle) error {
	return writeMetadataAtomic(filepath.Join(m.dir, h.meta.SessionID, "metadata.json"), h.meta)
}

func writeMetadataAtomic(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// EndAll ends every session currently recorded in the workspace. The
// engine calls this on any run termination other than WAITING_FOR_INPUT
// (spec.md §4.11).
func (m *Manager) EndAll(grace time.Duration) error {
	sessions, err := m.List()
	if err != nil {
		return err
	}
	var firstErr error
	for _, s := range sessions {
		if s.Status == StatusDead {
			continue
		}
		if err := m.End(s.SessionID, grace); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
