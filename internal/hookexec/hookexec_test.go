package hookexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/journal"
	"github.com/deltaengine/delta/internal/runstore"
)

func TestRun_SuccessfulHookOverridesPayload(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	script := filepath.Join(root, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\necho '{\"content\":\"rewritten\"}' > \"$DELTA_HOOK_IO_DIR/output/final_payload.json\"\n",
	), 0o755))

	def := Definition{Name: "rewrite", Point: PostLLMResp, Argv: []string{"/bin/sh", script}, Timeout: 5 * time.Second}
	out := Run(context.Background(), store, def, 1, "R001", map[string]string{"run_id": "R001"}, map[string]string{"content": "original"})

	assert.Equal(t, journal.HookStatusSuccess, out.Status)
	assert.JSONEq(t, `{"content":"rewritten"}`, string(out.Payload))
	assert.False(t, out.Skip)
}

func TestRun_PayloadOverrideDatUsedWhenFinalPayloadAbsent(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	script := filepath.Join(root, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\nprintf 'plain text observation' > \"$DELTA_HOOK_IO_DIR/output/payload_override.dat\"\n",
	), 0o755))

	def := Definition{Name: "override", Point: PostToolExec, Argv: []string{"/bin/sh", script}, Timeout: 5 * time.Second}
	out := Run(context.Background(), store, def, 5, "R001", nil, map[string]string{"observation": "original"})

	assert.Equal(t, journal.HookStatusSuccess, out.Status)
	assert.JSONEq(t, `"plain text observation"`, string(out.Payload))
}

func TestRun_SkipControlDirective(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	script := filepath.Join(root, "hook.sh")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\necho '{\"skip\":true}' > \"$DELTA_HOOK_IO_DIR/output/control.json\"\n",
	), 0o755))

	def := Definition{Name: "gate", Point: PreToolExec, Argv: []string{"/bin/sh", script}}
	out := Run(context.Background(), store, def, 2, "R001", nil, map[string]string{"tool": "ls"})

	assert.True(t, out.Skip)
	assert.Equal(t, journal.HookStatusSuccess, out.Status)
}

func TestRun_FailedHookFallsBackToBaseline(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	def := Definition{Name: "broken", Point: PreLLMReq, Argv: []string{"/bin/sh", "-c", "exit 1"}}
	out := Run(context.Background(), store, def, 3, "R001", nil, map[string]string{"content": "baseline"})

	assert.Equal(t, journal.HookStatusFailed, out.Status)
	assert.JSONEq(t, `{"content":"baseline"}`, string(out.Payload))
}

func TestRun_TimeoutIsTreatedAsFailure(t *testing.T) {
	root := t.TempDir()
	store, err := runstore.Create(root, "R001", "agents/default.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	def := Definition{Name: "slow", Point: OnError, Argv: []string{"/bin/sleep", "5"}, Timeout: 10 * time.Millisecond}
	out := Run(context.Background(), store, def, 4, "R001", nil, map[string]string{})

	assert.Equal(t, journal.HookStatusFailed, out.Status)
}
