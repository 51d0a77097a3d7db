// Package workspace is the Workspace Manager of spec.md §4.8: discovery and
// creation of numbered workspace directories under an agent home, the
// LAST_USED pointer, and the `.delta/` control-plane subtree each workspace
// carries.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/deltaengine/delta/internal/deltaerr"
)

// ControlPlaneVersion is written to .delta/VERSION on creation (spec.md
// §4.8: "single line, schema version").
const ControlPlaneVersion = "1.2"

// Workspace is one selected or created workspace directory: <agent_home>/workspaces/W00N.
type Workspace struct {
	Name string // "W001", "W002", ...
	Path string // absolute path to the workspace directory
}

// ControlDir returns the workspace's .delta/ control-plane directory.
func (w Workspace) ControlDir() string { return filepath.Join(w.Path, ".delta") }

var nameRE = regexp.MustCompile(`^W(\d{3,})$`)

// List returns all existing workspaces under agentHome/workspaces, sorted by
// numeric suffix ascending.
func List(agentHome string) ([]Workspace, error) {
	dir := filepath.Join(agentHome, "workspaces")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &deltaerr.IOError{Op: "list workspaces", Err: err}
	}

	var out []Workspace
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !nameRE.MatchString(e.Name()) {
			continue
		}
		out = append(out, Workspace{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return workspaceNum(out[i].Name) < workspaceNum(out[j].Name) })
	return out, nil
}

func workspaceNum(name string) int {
	m := nameRE.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// Create picks the next free W00N integer under agentHome/workspaces,
// creates the directory, its .delta/ control-plane subtree and VERSION
// file, and returns it.
func Create(agentHome string) (Workspace, error) {
	existing, err := List(agentHome)
	if err != nil {
		return Workspace{}, err
	}
	next := 1
	if len(existing) > 0 {
		next = workspaceNum(existing[len(existing)-1].Name) + 1
	}
	name := fmt.Sprintf("W%03d", next)
	path := filepath.Join(agentHome, "workspaces", name)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, &deltaerr.IOError{Op: "create workspace directory", Err: err}
	}
	w := Workspace{Name: name, Path: path}
	if err := os.MkdirAll(w.ControlDir(), 0o755); err != nil {
		return Workspace{}, &deltaerr.IOError{Op: "create control-plane directory", Err: err}
	}
	if err := os.WriteFile(filepath.Join(w.ControlDir(), "VERSION"), []byte(ControlPlaneVersion+"\n"), 0o644); err != nil {
		return Workspace{}, &deltaerr.IOError{Op: "write VERSION", Err: err}
	}
	return w, nil
}

// Open resolves an explicit --work-dir argument (a path, or a bare "W00N"
// name under agentHome/workspaces) to a Workspace, without touching
// LAST_USED — spec.md §4.8: "explicit --work-dir selections do not update
// it."
func Open(agentHome, workDir string) (Workspace, error) {
	path := workDir
	if nameRE.MatchString(workDir) {
		path = filepath.Join(agentHome, "workspaces", workDir)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Workspace{}, &deltaerr.IOError{Op: "resolve workspace path", Err: err}
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace %q does not exist", workDir)
	}
	return Workspace{Name: filepath.Base(abs), Path: abs}, nil
}

// LastUsed reads the LAST_USED pointer, returning ok == false if none has
// ever been recorded.
func LastUsed(agentHome string) (Workspace, bool, error) {
	raw, err := os.ReadFile(filepath.Join(agentHome, "workspaces", "LAST_USED"))
	if err != nil {
		if os.IsNotExist(err) {
			return Workspace{}, false, nil
		}
		return Workspace{}, false, &deltaerr.IOError{Op: "read LAST_USED", Err: err}
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return Workspace{}, false, nil
	}
	path := filepath.Join(agentHome, "workspaces", name)
	if _, err := os.Stat(path); err != nil {
		return Workspace{}, false, nil
	}
	return Workspace{Name: name, Path: path}, true, nil
}

// MarkInteractivelySelected records w as the LAST_USED workspace. The CLI
// invokes it only for a workspace it created because no --work-dir was
// given, never when --work-dir was passed explicitly.
func MarkInteractivelySelected(agentHome string, w Workspace) error {
	dir := filepath.Join(agentHome, "workspaces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &deltaerr.IOError{Op: "create workspaces directory", Err: err}
	}
	tmp := filepath.Join(dir, "LAST_USED.tmp")
	if err := os.WriteFile(tmp, []byte(w.Name+"\n"), 0o644); err != nil {
		return &deltaerr.IOError{Op: "write LAST_USED", Err: err}
	}
	if err := os.Rename(tmp, filepath.Join(dir, "LAST_USED")); err != nil {
		return &deltaerr.IOError{Op: "rename LAST_USED into place", Err: err}
	}
	return nil
}
