package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/runstore"
)

func TestDispatchContinue_WaitingForInputResumesWithoutMessage(t *testing.T) {
	kind, err := DispatchContinue(runstore.StatusWaitingForInput, false)
	require.NoError(t, err)
	assert.Equal(t, ContinueResume, kind)
}

func TestDispatchContinue_InterruptedResumesWithoutMessage(t *testing.T) {
	kind, err := DispatchContinue(runstore.StatusInterrupted, false)
	require.NoError(t, err)
	assert.Equal(t, ContinueResume, kind)
}

func TestDispatchContinue_CompletedRequiresMessage(t *testing.T) {
	_, err := DispatchContinue(runstore.StatusCompleted, false)
	assert.Error(t, err)

	kind, err := DispatchContinue(runstore.StatusCompleted, true)
	require.NoError(t, err)
	assert.Equal(t, ContinueExtension, kind)
}

func TestDispatchContinue_FailedRequiresMessage(t *testing.T) {
	_, err := DispatchContinue(runstore.StatusFailed, false)
	assert.Error(t, err)

	kind, err := DispatchContinue(runstore.StatusFailed, true)
	require.NoError(t, err)
	assert.Equal(t, ContinueRetry, kind)
}

func TestDispatchContinue_RunningIsRejected(t *testing.T) {
	_, err := DispatchContinue(runstore.StatusRunning, true)
	assert.Error(t, err)
}
