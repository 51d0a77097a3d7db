package agentdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deltaengine/delta/internal/hookexec"
	"github.com/deltaengine/delta/internal/toolexec"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_BasicDefinitionWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm:
  provider: openai
  model: gpt-4o
`)
	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", def.Name)
	assert.Equal(t, DefaultMaxIterations, def.MaxIterations)
	assert.Empty(t, def.Tools)
}

func TestLoad_ExecSugarExpandsToArgumentInjection(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
tools:
  cat_file:
    description: Print a file
    exec: "cat ${path}"
`)
	def, err := Load(path)
	require.NoError(t, err)
	require.Len(t, def.Tools, 1)
	tool := def.Tools[0]
	assert.Equal(t, []string{"cat"}, tool.Exec.ArgvBase)
	require.Len(t, tool.Exec.Parameters, 1)
	assert.Equal(t, toolexec.InjectArgument, tool.Exec.Parameters[0].Injection)
	assert.Equal(t, "path", tool.Exec.Parameters[0].Name)
	assert.Equal(t, "path", tool.Spec.Parameters[0].Name)
}

func TestLoad_ShellSugarBuildsPositionalScript(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
tools:
  greet:
    shell: "echo hello ${name}"
`)
	def, err := Load(path)
	require.NoError(t, err)
	require.Len(t, def.Tools, 1)
	argv := def.Tools[0].Exec.ArgvBase
	require.Len(t, argv, 4)
	assert.Equal(t, "/bin/sh", argv[0])
	assert.Equal(t, "-c", argv[1])
	assert.Contains(t, argv[2], `"$1"`)
}

func TestLoad_ImportsMergeTools(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.yaml", `
name: shared
llm: {provider: openai, model: gpt-4o}
tools:
  noop:
    command: ["true"]
`)
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
imports: ["shared.yaml"]
`)
	def, err := Load(path)
	require.NoError(t, err)
	require.Len(t, def.Tools, 1)
	assert.Equal(t, "noop", def.Tools[0].Exec.Name)
}

func TestLoad_ImportCycleFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `
name: a
llm: {provider: openai, model: gpt-4o}
imports: ["b.yaml"]
`)
	writeFile(t, dir, "b.yaml", `
name: b
llm: {provider: openai, model: gpt-4o}
imports: ["a.yaml"]
`)
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.Error(t, err)
}

func TestLoad_HooksDecodeToKnownLifecyclePoints(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
hooks:
  pre_llm_req:
    command: ["./redact.sh"]
    timeout_ms: 2000
`)
	def, err := Load(path)
	require.NoError(t, err)
	h, ok := def.Hook(hookexec.PreLLMReq)
	require.True(t, ok)
	assert.Equal(t, []string{"./redact.sh"}, h.Argv)
}

func TestLoad_UnknownHookPointFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
hooks:
  not_a_real_point:
    command: ["./x.sh"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DuplicateToolNameAcrossImportFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.yaml", `
name: shared
llm: {provider: openai, model: gpt-4o}
tools:
  noop:
    command: ["true"]
`)
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai, model: gpt-4o}
imports: ["shared.yaml"]
tools:
  noop:
    command: ["true"]
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingModelFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
name: demo
llm: {provider: openai}
`)
	_, err := Load(path)
	assert.Error(t, err)
}
