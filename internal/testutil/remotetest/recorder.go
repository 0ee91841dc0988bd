// Package remotetest provides an in-memory remote.Executor for task tests.
package remotetest

import (
	"context"
	"strings"
	"sync"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
)

// Call is one command seen by the Recorder.
type Call struct {
	Host    string
	Command string
	Test    bool
}

// Recorder captures commands per host in issue order. Test commands succeed
// when they mention a path registered with Exists; Run commands fail when they
// contain a substring registered with FailOn.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	exists   map[string]bool
	failures map[string]int
	outputs  map[string]string
	closed   bool
}

func NewRecorder() *Recorder {
	return &Recorder{
		exists:   make(map[string]bool),
		failures: make(map[string]int),
		outputs:  make(map[string]string),
	}
}

// Output makes Run commands containing substr return stdout.
func (r *Recorder) Output(substr, stdout string) *Recorder {
	r.mu.Lock()
	r.outputs[substr] = stdout
	r.mu.Unlock()
	return r
}

// Exists marks path as present so Test commands referencing it return true.
func (r *Recorder) Exists(path string) *Recorder {
	r.mu.Lock()
	r.exists[path] = true
	r.mu.Unlock()
	return r
}

// FailOn makes any command containing substr exit with status.
func (r *Recorder) FailOn(substr string, status int) *Recorder {
	r.mu.Lock()
	r.failures[substr] = status
	r.mu.Unlock()
	return r
}

func (r *Recorder) Run(ctx context.Context, host inventory.Host, command string) (remote.Result, error) {
	res := remote.Result{Host: host.String(), Command: command}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Host: host.Address, Command: command})
	for substr, status := range r.failures {
		if strings.Contains(command, substr) {
			res.ExitStatus = status
			return res, &remote.CommandError{
				Host:       res.Host,
				Command:    command,
				ExitStatus: status,
				Stderr:     "injected failure",
			}
		}
	}
	for substr, stdout := range r.outputs {
		if strings.Contains(command, substr) {
			res.Stdout = []byte(stdout)
			break
		}
	}
	return res, nil
}

func (r *Recorder) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Host: host.Address, Command: command, Test: true})
	for path := range r.exists {
		if strings.Contains(command, path) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Calls returns every call in issue order across hosts.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Commands returns the Run commands issued to address, in order. Test checks
// are omitted.
func (r *Recorder) Commands(address string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Host == address && !c.Test {
			out = append(out, c.Command)
		}
	}
	return out
}

// Tests returns the Test commands issued to address, in order.
func (r *Recorder) Tests(address string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Host == address && c.Test {
			out = append(out, c.Command)
		}
	}
	return out
}

// Hosts returns the distinct addresses that received any call, in first-seen
// order.
func (r *Recorder) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.calls {
		if !seen[c.Host] {
			seen[c.Host] = true
			out = append(out, c.Host)
		}
	}
	return out
}
