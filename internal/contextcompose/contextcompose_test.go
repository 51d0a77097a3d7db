package contextcompose

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/llmclient"
	"github.com/deltaengine/delta/internal/runstore"
)

func TestResolve_FileSourceExpandsVars(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "system.md"), []byte("you are an agent"), 0o644))

	manifest := []Source{{Kind: SourceFile, Path: "${AGENT_HOME}/system.md"}}
	msgs, err := Resolve(context.Background(), manifest, Vars{AgentHome: home}, "R001", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llmclient.RoleSystem, msgs[0].Role)
	assert.Equal(t, "you are an agent", msgs[0].Content)
}

func TestResolve_MissingFileSkipVsError(t *testing.T) {
	home := t.TempDir()
	missing := filepath.Join(home, "absent.md")

	skip := []Source{{Kind: SourceFile, Path: missing, OnMissing: OnMissingSkip}}
	msgs, err := Resolve(context.Background(), skip, Vars{}, "R001", nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	fail := []Source{{Kind: SourceFile, Path: missing, OnMissing: OnMissingError}}
	_, err = Resolve(context.Background(), fail, Vars{}, "R001", nil)
	assert.Error(t, err)
}

func TestResolve_ComputedFileRunsGeneratorAndReadsOutput(t *testing.T) {
	home := t.TempDir()
	outputPath := filepath.Join(home, "generated.md")
	script := filepath.Join(home, "gen.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\necho \"run=$DELTA_RUN_ID\" > \"$1\"\n",
	), 0o755))

	manifest := []Source{{
		Kind:      SourceComputedFile,
		Path:      outputPath,
		Generator: []string{"/bin/sh", script, outputPath},
		Timeout:   2 * time.Second,
	}}
	msgs, err := Resolve(context.Background(), manifest, Vars{}, "R42", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "run=R42\n", msgs[0].Content)
}

func TestResolve_ComputedFileTimeoutFailsComposition(t *testing.T) {
	manifest := []Source{{
		Kind:      SourceComputedFile,
		Path:      "/tmp/never-written.md",
		Generator: []string{"/bin/sleep", "5"},
		Timeout:   10 * time.Millisecond,
	}}
	_, err := Resolve(context.Background(), manifest, Vars{}, "R001", nil)
	assert.Error(t, err)
}

func TestResolve_JournalSourceReconstructsMessages(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "do the thing")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.AppendEvent(ctx, journal.EventUserMessage, journal.UserMessagePayload{Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, store.Flush())

	manifest := []Source{{Kind: SourceJournal}}
	msgs, err := Resolve(ctx, manifest, Vars{}, "R001", store)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, llmclient.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestResolve_ConcatenatesInDeclarationOrder(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(home, "a.md"), []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, "b.md"), []byte("second"), 0o644))

	manifest := []Source{
		{Kind: SourceFile, Path: filepath.Join(home, "a.md")},
		{Kind: SourceFile, Path: filepath.Join(home, "b.md")},
	}
	msgs, err := Resolve(context.Background(), manifest, Vars{}, "R001", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}
