// Package remote owns command execution against deploy hosts.
//
// Ownership boundary:
// - connection reuse per host
//
// - exit status capture and failure classification
//
// Commands are opaque shell strings. A command runs to completion once started;
// the context is only consulted before a command begins.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/deployctl/internal/inventory"
)

var (
	ErrCommandFailed = errors.New("remote: command failed")
	ErrNoAuth        = errors.New("remote: no ssh auth method configured")
)

// Executor runs shell commands on hosts.
type Executor interface {
	// Run executes command on host. A non-zero exit returns a *CommandError.
	Run(ctx context.Context, host inventory.Host, command string) (Result, error)
	// Test runs command as a predicate: exit 0 is true, exit 1 is false and
	// any other outcome is an error.
	Test(ctx context.Context, host inventory.Host, command string) (bool, error)
	Close() error
}

// Result is the captured outcome of one command.
type Result struct {
	Host       string
	Command    string
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
	Duration   time.Duration
}

// CommandError reports a command that ran and exited non-zero, or that could
// not report an exit status.
type CommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q on %s exited with status %d", e.Command, e.Host, e.ExitStatus)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// ExitStatus extracts the exit status carried by err, if any.
func ExitStatus(err error) (int, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitStatus, true
	}
	return 0, false
}

func commandResult(res Result, runErr error) (Result, error) {
	if runErr != nil {
		return res, runErr
	}
	if res.ExitStatus != 0 {
		return res, &CommandError{
			Host:       res.Host,
			Command:    res.Command,
			ExitStatus: res.ExitStatus,
			Stderr:     string(res.Stderr),
		}
	}
	return res, nil
}

// testViaRun implements Executor.Test on top of Run.
func testViaRun(ctx context.Context, exec Executor, host inventory.Host, command string) (bool, error) {
	_, err := exec.Run(ctx, host, command)
	if err == nil {
		return true, nil
	}
	if status, ok := ExitStatus(err); ok && status == 1 {
		return false, nil
	}
	return false, err
}
