package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/runstore"
)

func fakeJanitor(hostname string, alive bool, procName string, procNameOK bool) *Janitor {
	return &Janitor{
		Hostname:    func() (string, error) { return hostname, nil },
		IsAlive:     func(int) bool { return alive },
		ProcessName: func(int) (string, bool) { return procName, procNameOK },
	}
}

func TestInspect_DeadPIDIsReclaimed(t *testing.T) {
	j := fakeJanitor("host-a", false, "", false)
	reclaim, err := j.Inspect(runstore.Metadata{RunID: "r1", Hostname: "host-a", PID: 12345}, false)
	require.NoError(t, err)
	assert.True(t, reclaim)
}

func TestInspect_AlivePIDWithMatchingNameRefuses(t *testing.T) {
	j := fakeJanitor("host-a", true, "delta", true)
	reclaim, err := j.Inspect(runstore.Metadata{RunID: "r1", Hostname: "host-a", PID: 999}, false)
	assert.Error(t, err)
	assert.False(t, reclaim)
}

func TestInspect_AlivePIDWithUnrelatedNameIsReclaimedAsPIDReuse(t *testing.T) {
	j := fakeJanitor("host-a", true, "nginx", true)
	reclaim, err := j.Inspect(runstore.Metadata{RunID: "r1", Hostname: "host-a", PID: 999}, false)
	require.NoError(t, err)
	assert.True(t, reclaim)
}

func TestInspect_DifferentHostWithoutForceRefuses(t *testing.T) {
	j := fakeJanitor("host-b", true, "delta", true)
	_, err := j.Inspect(runstore.Metadata{RunID: "r1", Hostname: "host-a", PID: 999}, false)
	assert.ErrorContains(t, err, "host-a")
	assert.ErrorContains(t, err, "host-b")
}

func TestInspect_DifferentHostWithForceProceedsToLivenessCheck(t *testing.T) {
	j := fakeJanitor("host-b", false, "", false)
	reclaim, err := j.Inspect(runstore.Metadata{RunID: "r1", Hostname: "host-a", PID: 999}, true)
	require.NoError(t, err)
	assert.True(t, reclaim)
}

func TestReclaim_TransitionsMetadataToInterrupted(t *testing.T) {
	dir := t.TempDir()
	store, err := runstore.Create(dir, "r1", "agent.yaml", "task")
	require.NoError(t, err)
	defer store.Close()

	j := NewJanitor()
	require.NoError(t, j.Reclaim(store))

	meta, err := store.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, runstore.StatusInterrupted, meta.Status)
}
