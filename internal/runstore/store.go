// Package runstore is the Run Store of spec.md §4.1: the append-only event
// log plus a typed side-store of request/response/tool-execution artifacts.
//
// All writes to a run's control-plane subtree go through a Store value. The
// teacher persists similar invocation/session state through SQL
// (pkg/task/store.go) or session-state blobs (pkg/checkpoint/storage.go);
// here the contract is file-based per spec.md §4.8/§6.3, so the atomic
// write pattern is the standard Go idiom (write to a temp file, then
// rename; the temp file is not fsynced) rather than a transaction.
package runstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/logging"
)

// Store owns all writes to one run's control-plane subtree
// (<workspace>/.delta/<run_id>/). Writes are serialized through a single
// background worker goroutine (the "write promise" queue spec.md §4.1
// calls for) so that journal lines are never torn even under concurrent
// callers within the same process.
type Store struct {
	runID string
	dir   string

	mu       sync.Mutex // guards seq and the open journal file handle
	journalF *os.File
	seq      int64

	writeCh chan writeJob
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type writeJob struct {
	line []byte
	done chan error
}

// Dir returns the run's control-plane directory.
func (s *Store) Dir() string { return s.dir }

func runDir(workspaceControlDir, runID string) string {
	return filepath.Join(workspaceControlDir, runID)
}

// Create creates the per-run control-plane subtree and writes the initial
// metadata document with status RUNNING (spec.md §4.1 create()). It fails
// with a *deltaerr-compatible error if the run directory already exists.
func Create(workspaceControlDir, runID, agentRef, task string) (*Store, error) {
	dir := runDir(workspaceControlDir, runID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, &deltaerr.DuplicateRunError{RunID: runID, Workspace: workspaceControlDir}
		}
		return nil, &deltaerr.IOError{Op: "create run directory", Err: err}
	}
	for _, sub := range []string{"io/invocations", "io/tool_executions", "io/hooks"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, &deltaerr.IOError{Op: "create run subtree " + sub, Err: err}
		}
	}
	if f, err := os.OpenFile(filepath.Join(dir, "engine.log"), os.O_CREATE|os.O_WRONLY, 0o644); err != nil {
		return nil, &deltaerr.IOError{Op: "create engine.log", Err: err}
	} else {
		f.Close()
	}

	host, _ := os.Hostname()
	meta := Metadata{
		RunID:     runID,
		StartTime: time.Now().UTC(),
		AgentRef:  agentRef,
		Task:      task,
		Status:    StatusRunning,
		Hostname:  host,
		PID:       os.Getpid(),
	}
	if err := writeMetadataAtomic(dir, meta); err != nil {
		return nil, &deltaerr.IOError{Op: "write initial metadata", Err: err}
	}

	jf, err := os.OpenFile(filepath.Join(dir, "journal.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &deltaerr.IOError{Op: "create journal", Err: err}
	}

	s := &Store{runID: runID, dir: dir, journalF: jf, writeCh: make(chan writeJob, 64), closeCh: make(chan struct{})}
	s.startWriter()
	return s, nil
}

// Open attaches to an existing run's control-plane subtree, resuming the
// sequence counter from the journal's current max seq (spec.md §4.1
// "Sequencing policy"). A torn last line (a crash mid-write) is truncated
// before resuming.
func Open(workspaceControlDir, runID string) (*Store, error) {
	dir := runDir(workspaceControlDir, runID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("open run directory: %w", err)
	}

	path := filepath.Join(dir, "journal.jsonl")
	maxSeq, err := truncateTornTail(path)
	if err != nil {
		return nil, fmt.Errorf("validate journal tail: %w", err)
	}

	jf, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen journal: %w", err)
	}

	s := &Store{runID: runID, dir: dir, journalF: jf, seq: maxSeq, writeCh: make(chan writeJob, 64), closeCh: make(chan struct{})}
	s.startWriter()
	return s, nil
}

// truncateTornTail reads the journal file, verifies each line parses as
// JSON, and if the last line does not, truncates it off (a crash mid-append
// leaves a partial line, never a partial earlier line, since appends are
// whole-write). Returns the max seq found among valid lines.
func truncateTornTail(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeq int64
	var offset int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // + newline
		var ev journal.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Torn write: truncate from here.
			if err := f.Truncate(offset); err != nil {
				return 0, err
			}
			break
		}
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
		offset += lineLen
	}
	return maxSeq, nil
}

func (s *Store) startWriter() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.writeCh:
				_, err := s.journalF.Write(job.line)
				if err == nil {
					err = s.journalF.Sync()
				}
				job.done <- err
			case <-s.closeCh:
				// Drain any remaining queued writes before exiting so a
				// flush-then-close sequence never silently drops data.
				for {
					select {
					case job := <-s.writeCh:
						_, err := s.journalF.Write(job.line)
						if err == nil {
							err = s.journalF.Sync()
						}
						job.done <- err
					default:
						return
					}
				}
			}
		}
	}()
}

// AppendEvent assigns the next sequence number, stamps the current time,
// and appends one JSON line to the journal (spec.md §4.1 append_event()).
// It is safe to call concurrently; the underlying write is serialized
// through the single writer goroutine.
func (s *Store) AppendEvent(ctx context.Context, typ journal.EventType, payload any) (int64, error) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	ev := journal.Event{Seq: seq, Timestamp: time.Now().UTC(), Type: typ, Payload: payload}
	line, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal journal event: %w", err)
	}
	line = append(line, '\n')

	job := writeJob{line: line, done: make(chan error, 1)}
	select {
	case s.writeCh <- job:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case err := <-job.done:
		if err != nil {
			return 0, fmt.Errorf("append journal event: %w", err)
		}
		return seq, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReadJournal deserializes the full journal, in order.
func (s *Store) ReadJournal() ([]journal.Event, error) {
	return readJournalFile(filepath.Join(s.dir, "journal.jsonl"))
}

func readJournalFile(path string) ([]journal.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []journal.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var ev journal.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("corrupt journal line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ReadMetadata deserializes the stored metadata document.
func (s *Store) ReadMetadata() (Metadata, error) {
	return ReadMetadataAt(s.dir)
}

// ReadMetadataAt reads metadata.json from an arbitrary run directory,
// independent of an open Store — used by the janitor and list-runs, which
// need to inspect runs this process hasn't opened.
func ReadMetadataAt(dir string) (Metadata, error) {
	var m Metadata
	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}

// UpdateMetadata reads current metadata, merges the patch, and writes it
// back atomically (spec.md §4.1 update_metadata()).
func (s *Store) UpdateMetadata(patch MetadataPatch) error {
	meta, err := s.ReadMetadata()
	if err != nil {
		return fmt.Errorf("read metadata for update: %w", err)
	}
	meta.applyPatch(patch)
	return writeMetadataAtomic(s.dir, meta)
}

func writeMetadataAtomic(dir string, meta Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(filepath.Join(dir, "metadata.json"), raw)
}

// atomicWriteFile writes to a temp file in the same directory then renames
// it over the destination, so concurrent readers never observe a partial
// write (spec.md §4.1).
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Flush ensures all pending writes are durable.
func (s *Store) Flush() error {
	done := make(chan error, 1)
	job := writeJob{line: nil, done: done}
	s.writeCh <- job
	return <-done
}

// Close stops the writer goroutine after draining pending writes, and
// closes the journal file handle.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	logging.Default().Debug("run store closed", "run_id", s.runID)
	return s.journalF.Close()
}
