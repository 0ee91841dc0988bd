// Package tasks owns the task graph and the runner that executes it.
//
// Ownership boundary:
// - task registration and before/after hooks
//
// - plan resolution (hook order, cycle rejection)
//
// - per-run exactly-once execution and guard evaluation
//
// - role fan-out across hosts
//
// Lifecycle order:
// - register -> hook -> validate -> invoke
//
// Tasks never mutate configuration. Retry policy is not owned here: a failing
// command aborts the rest of the chain.
package tasks

import (
	"errors"
	"fmt"

	"github.com/danmuck/deployctl/internal/config"
)

var (
	ErrInvalidGraph = errors.New("tasks: invalid graph")
	ErrCycle        = errors.New("tasks: hook cycle detected")
	ErrUnknownTask  = errors.New("tasks: unknown task")
)

// Guard decides from configuration whether a task does anything this run.
type Guard func(cfg *config.Config) bool

// Body is the work a task performs.
type Body func(c *Context) error

// Task is a named unit of deploy work.
type Task struct {
	Name        string
	Description string
	// Roles lists the roles the body targets, for display only.
	Roles []string
	Guard Guard
	Body  Body
}

func (t Task) enabled(cfg *config.Config) bool {
	if t.Guard == nil {
		return true
	}
	return t.Guard(cfg)
}

// TaskError attributes a failure to the task whose body produced it.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
