package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options wires a Runner.
type Options struct {
	Graph     *Graph
	Config    *config.Config
	Inventory *inventory.Inventory
	Executor  remote.Executor
	// Release overrides the generated release name.
	Release string
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Runner executes tasks for one run. Each task runs at most once per Runner.
type Runner struct {
	graph     *Graph
	cfg       *config.Config
	inventory *inventory.Inventory
	exec      remote.Executor
	release   Release
	runID     string
	logger    zerolog.Logger
	report    *Report

	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Graph == nil {
		return nil, errors.New("tasks: graph is required")
	}
	if opts.Config == nil {
		return nil, errors.New("tasks: config is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("tasks: executor is required")
	}
	if err := opts.Graph.Validate(); err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	name := strings.TrimSpace(opts.Release)
	if name == "" {
		name = ReleaseName(started)
	} else if !ValidReleaseName(name) {
		return nil, fmt.Errorf("tasks: invalid release name %q (want %s)", name, ReleaseNameLayout)
	}

	runID := uuid.NewString()
	return &Runner{
		graph:     opts.Graph,
		cfg:       opts.Config,
		inventory: opts.Inventory,
		exec:      opts.Executor,
		release:   NewRelease(opts.Config.DeployTo, name),
		runID:     runID,
		logger:    opts.Logger.With().Str("run_id", runID).Str("release", name).Logger(),
		report:    newReport(runID, name, started),
		claimed:   make(map[string]struct{}),
	}, nil
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Release() Release {
	return r.release
}

func (r *Runner) Report() *Report {
	return r.report
}

// Invoke runs each named task with its hooks, in order, stopping at the first
// failure.
func (r *Runner) Invoke(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := r.invoke(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) invoke(ctx context.Context, name string) error {
	plan, err := r.graph.Plan(name)
	if err != nil {
		return err
	}
	for _, step := range plan {
		if err := r.execute(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

// claim marks name as started, returning false when it already was.
func (r *Runner) claim(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.claimed[name]; ok {
		return false
	}
	r.claimed[name] = struct{}{}
	return true
}

func (r *Runner) execute(ctx context.Context, name string) error {
	logger := r.logger.With().Str("task", name).Logger()
	if !r.claim(name) {
		logger.Debug().Msg("task already run")
		return nil
	}
	task, _ := r.graph.Task(name)
	start := time.Now()

	if !task.enabled(r.cfg) {
		logger.Info().Msg("task skipped")
		r.finish(name, OutcomeSkipped, start, nil)
		return nil
	}
	if err := ctx.Err(); err != nil {
		err = &TaskError{Task: name, Err: err}
		r.finish(name, OutcomeFailed, start, err)
		return err
	}

	logger.Info().Msg("task start")
	err := task.Body(&Context{
		ctx:     ctx,
		runner:  r,
		Task:    name,
		Config:  r.cfg,
		Release: r.release,
		Logger:  logger,
	})
	if err != nil {
		var taskErr *TaskError
		if !errors.As(err, &taskErr) {
			err = &TaskError{Task: name, Err: err}
		}
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("task failed")
		r.finish(name, OutcomeFailed, start, err)
		return err
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("task done")
	r.finish(name, OutcomeDone, start, nil)
	return nil
}

func (r *Runner) finish(name string, outcome Outcome, start time.Time, err error) {
	dur := time.Since(start)
	entry := TaskReport{
		Task:     name,
		Outcome:  outcome,
		Started:  start,
		Duration: dur,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.report.add(entry)
	observability.RecordTask(name, string(outcome), dur)
}
