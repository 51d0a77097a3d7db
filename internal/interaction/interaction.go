// Package interaction implements the ask-human async file handshake and
// interactive-mode prompt of spec.md §4.9.
package interaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// InputType enumerates how a prompt's reply should be collected.
type InputType string

const (
	InputText         InputType = "text"
	InputPassword     InputType = "password"
	InputConfirmation InputType = "confirmation"
)

// Request is the Interaction Request document (spec.md §3.1) the engine
// writes when it pauses a run for human input.
type Request struct {
	RequestID string    `json:"request_id"`
	Prompt    string    `json:"prompt"`
	InputType InputType `json:"input_type"`
	Sensitive bool      `json:"sensitive"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	dirName      = "interaction"
	requestFile  = "request.json"
	responseFile = "response.txt"
)

// Dir returns the interaction subdirectory of a run's control-plane tree.
func Dir(runDir string) string { return filepath.Join(runDir, dirName) }

// WriteRequest creates the interaction directory (present only while
// paused, per spec.md §4.8) and writes request.json. The engine calls this
// immediately before exiting with the ask-human pause code.
func WriteRequest(runDir string, prompt string, inputType InputType, sensitive bool) (Request, error) {
	req := Request{
		RequestID: uuid.NewString(),
		Prompt:    prompt,
		InputType: inputType,
		Sensitive: sensitive,
		Timestamp: time.Now(),
	}
	dir := Dir(runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Request{}, fmt.Errorf("create interaction dir: %w", err)
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return Request{}, fmt.Errorf("marshal interaction request: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, requestFile), data, 0o644); err != nil {
		return Request{}, fmt.Errorf("write interaction request: %w", err)
	}
	return req, nil
}

// ReadResponse reads response.txt if present, reporting ok == false if the
// human (or orchestrator) has not yet replied. The engine only ever reads
// this file after being signalled by the caller's next `continue`
// invocation (spec.md §5), so a torn partial write is never observed in
// practice; ReadResponse itself performs no additional synchronization.
func ReadResponse(runDir string) (string, bool, error) {
	path := filepath.Join(Dir(runDir), responseFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read interaction response: %w", err)
	}
	return string(data), true, nil
}

// WriteResponse is the external party's half of the handshake: used by
// tests and by any orchestrator driving the async contract directly rather
// than through a human typing into a terminal.
func WriteResponse(runDir, content string) error {
	return os.WriteFile(filepath.Join(Dir(runDir), responseFile), []byte(content), 0o644)
}

// Clear removes the interaction directory once its request has been
// resolved, since spec.md §4.8 says it is "present only while paused".
func Clear(runDir string) error {
	return os.RemoveAll(Dir(runDir))
}

// PromptInteractive implements the `-i` contract (spec.md §4.9): block on
// stdin/tty and read the reply directly, skipping the file handshake
// entirely. Password prompts read without echo via golang.org/x/term when
// stdin is a real terminal; confirmation and text replies are read with echo.
func PromptInteractive(prompt string, inputType InputType) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if inputType == "" {
		inputType = InputText
	}

	if inputType == InputPassword && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, " ")
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(data), nil
	}

	fmt.Fprint(os.Stderr, " ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read interactive response: %w", err)
	}
	line = strings.TrimRight(line, "\n")

	if inputType == InputConfirmation {
		lower := strings.ToLower(strings.TrimSpace(line))
		if lower == "y" || lower == "yes" {
			return "true", nil
		}
		return "false", nil
	}
	return line, nil
}
