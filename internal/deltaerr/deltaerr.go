// Package deltaerr defines the error taxonomy described in spec.md §7.
//
// Each error kind is a distinct type so callers (chiefly the CLI's exit-code
// mapping and the engine's recovery branches) can select on it with
// errors.As instead of string matching, mirroring the teacher's
// httpclient.RetryableError idiom.
package deltaerr

import "fmt"

// ConfigError wraps a fatal agent/workspace configuration problem detected
// before any run is created: bad YAML, a missing imported file, an import
// cycle, or a validation failure.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DuplicateRunError is returned by the Run Store when a run ID already
// exists in the workspace. No partial control-plane directory is left
// behind when this is returned.
type DuplicateRunError struct {
	RunID     string
	Workspace string
}

func (e *DuplicateRunError) Error() string {
	return fmt.Sprintf("run %q already exists in workspace %q", e.RunID, e.Workspace)
}

// LLMError wraps a provider HTTP failure with the upstream status, type and
// message, matching spec.md §4.5.
type LLMError struct {
	Status  int
	Type    string
	Message string
	Err     error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error (status=%d type=%s): %s", e.Status, e.Type, e.Message)
}

func (e *LLMError) Unwrap() error { return e.Err }

// APIKeyError is returned by the LLM adapter when the required API key
// environment variable is unset.
type APIKeyError struct {
	EnvVar string
}

func (e *APIKeyError) Error() string {
	return fmt.Sprintf("required API key environment variable %q is not set", e.EnvVar)
}

// IOError wraps a filesystem failure encountered by the Run Store.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error during %s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }
