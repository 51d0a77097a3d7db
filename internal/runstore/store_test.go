package runstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/deltaerr"
	"github.com/deltaengine/delta/internal/journal"
)

func TestCreate_DuplicateRunFails(t *testing.T) {
	root := t.TempDir()

	s1, err := Create(root, "R001", "agents/default.yaml", "do the thing")
	require.NoError(t, err)
	defer s1.Close()

	_, err = Create(root, "R001", "agents/default.yaml", "do the thing again")
	var dup *deltaerr.DuplicateRunError
	assert.ErrorAs(t, err, &dup)
}

func TestAppendEvent_MonotonicSeq(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	seq1, err := s.AppendEvent(ctx, journal.EventUserMessage, journal.UserMessagePayload{Content: "hi"})
	require.NoError(t, err)
	seq2, err := s.AppendEvent(ctx, journal.EventThought, journal.ThoughtPayload{InvocationID: "inv-1", Content: "thinking"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)

	require.NoError(t, s.Flush())

	events, err := s.ReadJournal()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, journal.EventUserMessage, events[0].Type)
	assert.Equal(t, journal.EventThought, events[1].Type)
}

func TestOpen_ResumesSeqAndTruncatesTornTail(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.AppendEvent(ctx, journal.EventUserMessage, journal.UserMessagePayload{Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	// Simulate a crash mid-write: append a partial JSON line with no
	// trailing newline, emulating a torn write.
	path := filepath.Join(root, "R001", "journal.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"type":"THOUGHT","payload":{`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := Open(root, "R001")
	require.NoError(t, err)
	defer s2.Close()

	events, err := s2.ReadJournal()
	require.NoError(t, err)
	require.Len(t, events, 1, "torn tail should have been truncated")

	seq, err := s2.AppendEvent(context.Background(), journal.EventThought, journal.ThoughtPayload{InvocationID: "inv-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq, "seq should resume from the last valid event, not restart at 1")
}

func TestUpdateMetadata_MergesSparsePatch(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer s.Close()

	status := StatusWaitingForInput
	iterations := 3
	require.NoError(t, s.UpdateMetadata(MetadataPatch{Status: &status, IterationsCompleted: &iterations}))

	meta, err := s.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingForInput, meta.Status)
	assert.Equal(t, 3, meta.IterationsCompleted)
	assert.Equal(t, "agents/default.yaml", meta.AgentRef, "unpatched fields must survive the merge")
}

func TestSaveToolExecution_WritesArtifactTree(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer s.Close()

	dir, err := s.SaveToolExecution(ToolExecutionArtifact{
		ActionID:        "act-1",
		Command:         []string{"ls", "-la"},
		ExitCode:        0,
		DurationMS:      42,
		Stdout:          []byte("total 0\n"),
		Stderr:          []byte(""),
		ObservationText: "=== STDOUT ===\ntotal 0\n\n=== EXIT CODE: 0 ===",
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "command.txt"))
	assert.FileExists(t, filepath.Join(dir, "stdout.log"))
	assert.FileExists(t, filepath.Join(dir, "stderr.log"))
	assert.FileExists(t, filepath.Join(dir, "exit_code.txt"))
	assert.FileExists(t, filepath.Join(dir, "duration_ms.txt"))
}

func TestSetupHookInvocation_CreatesIOTree(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer s.Close()

	io, err := s.SetupHookInvocation("pre_llm_req", 1, map[string]string{"run_id": "R001"}, map[string]string{"content": "hi"}, nil)
	require.NoError(t, err)

	assert.FileExists(t, io.ContextPath)
	assert.FileExists(t, io.PayloadPath)
	assert.DirExists(t, io.ExecutionMetaDir)
	assert.Contains(t, io.Dir, "001_pre_llm_req")
}
