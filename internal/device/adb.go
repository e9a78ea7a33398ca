// Package device talks to an Android device over adb: it captures the
// screen, preprocesses the capture for OCR and performs taps.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes one adb invocation and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CommandError is returned when adb exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("adb %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("adb %s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ADB runs the adb binary, optionally pinned to one device serial.
type ADB struct {
	path   string
	serial string
}

func NewADB(path, serial string) *ADB {
	if path == "" {
		path = "adb"
	}
	return &ADB{path: path, serial: serial}
}

func (a *ADB) Run(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if a.serial != "" {
		full = append([]string{"-s", a.serial}, args...)
	}

	cmd := exec.CommandContext(ctx, a.path, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
