// Package wgnet wraps the OS-level collaborators the engine drives:
// wg-quick bring-up/down, ip-link MTU changes, the wgctrl live device
// query, and WireGuard key generation. Everything here is behind small
// interfaces so the engine can be tested without touching host networking.
package wgnet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandTimeout bounds every external command. A stuck process is a
// failure, not an indefinite suspension.
const commandTimeout = 15 * time.Second

// CommandError reports a failed external command, carrying the underlying
// diagnostic text.
type CommandError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command %q: %v: %s", e.Cmd, e.Err, e.Stderr)
	}
	return fmt.Sprintf("command %q: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// linkAbsentMarkers are the stderr fragments wg-quick and ip emit when the
// link they were asked to tear down is already gone.
var linkAbsentMarkers = []string{
	"is not a wireguard interface",
	"cannot find device",
	"does not exist",
}

// IsLinkAbsent reports whether err is a teardown failure meaning the link
// was already gone. A restart may skip such a failure; anything else is a
// real error.
func IsLinkAbsent(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	for _, marker := range linkAbsentMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// Runner abstracts command execution so the engine can be unit-tested
// without shelling out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// Compile-time interface guard.
var _ Runner = (*OSRunner)(nil)

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

// NewOSRunner creates an OSRunner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

func (r *OSRunner) Run(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CommandError{
			Cmd:    name + " " + strings.Join(args, " "),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return nil
}

func (r *OSRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Cmd:    name + " " + strings.Join(args, " "),
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
