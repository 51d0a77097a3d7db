package interaction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequest_CreatesRequestJSON(t *testing.T) {
	runDir := t.TempDir()
	req, err := WriteRequest(runDir, "What color?", InputText, false)
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)

	data, err := os.ReadFile(filepath.Join(Dir(runDir), requestFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "What color?")
}

func TestReadResponse_AbsentUntilWritten(t *testing.T) {
	runDir := t.TempDir()
	_, err := WriteRequest(runDir, "q", InputText, false)
	require.NoError(t, err)

	_, ok, err := ReadResponse(runDir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, WriteResponse(runDir, "Blue\n"))
	content, ok, err := ReadResponse(runDir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Blue\n", content)
}

func TestClear_RemovesInteractionDir(t *testing.T) {
	runDir := t.TempDir()
	_, err := WriteRequest(runDir, "q", InputText, false)
	require.NoError(t, err)
	require.NoError(t, Clear(runDir))

	_, ok, err := ReadResponse(runDir)
	require.NoError(t, err)
	assert.False(t, ok)
}
