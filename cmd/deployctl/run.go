package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/danmuck/deployctl/internal/auth"
	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/deploy"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/server"
	"github.com/danmuck/deployctl/internal/tasks"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeployCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Run a full deploy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, []string{"deploy"})
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>...",
		Short: "Invoke tasks in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, opts, args)
		},
	}
}

func execute(cmd *cobra.Command, opts *options, names []string) error {
	logger := observability.Component("deployctl")

	cfg, err := config.Load(opts.configPath, opts.stage)
	if err != nil {
		return err
	}
	inv, err := inventory.New(cfg.Servers, cfg.SSH)
	if err != nil {
		return err
	}
	graph, err := deploy.NewGraph()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := graph.Task(name); !ok {
			return fmt.Errorf("%w: %q", tasks.ErrUnknownTask, name)
		}
	}

	var exec remote.Executor
	var dry *remote.DryRunExecutor
	if opts.dryRun {
		dry = remote.NewDryRunExecutor(observability.Component("dry-run"))
		exec = dry
	} else {
		exec = remote.Instrumented{
			Next: remote.Dispatcher{
				Local:  remote.LocalExecutor{},
				Remote: remote.NewSSHExecutor(remote.SSHOptionsFromConfig(cfg.SSH)),
			},
			Logger: observability.Component("remote"),
		}
	}
	defer func() {
		if err := exec.Close(); err != nil {
			logger.Warn().Err(err).Msg("close executor")
		}
	}()

	runner, err := tasks.NewRunner(tasks.Options{
		Graph:     graph,
		Config:    &cfg,
		Inventory: inv,
		Executor:  exec,
		Release:   opts.release,
		Logger:    log.Logger,
	})
	if err != nil {
		return err
	}

	var status *server.Server
	if cfg.MetricsAddr != "" {
		guard, _ := auth.FromEnv(cfg.StatusTokenEnv)
		status = server.New(server.Options{
			Addr:        cfg.MetricsAddr,
			CorsOrigins: cfg.CorsOrigins,
			Auth:        guard,
			Logger:      observability.Component("server"),
		})
		if err := status.Start(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		status.Track(cfg.Application, cfg.Stage, runner.Report())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := status.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("application", cfg.Application).
		Str("stage", cfg.Stage).
		Str("run_id", runner.RunID()).
		Str("release", runner.Release().Name).
		Strs("tasks", names).
		Bool("dry_run", opts.dryRun).
		Msg("run start")

	runErr := runner.Invoke(ctx, names...)
	if status != nil {
		status.Finish(runErr)
	}

	out := cmd.OutOrStdout()
	if dry != nil {
		printPlanned(out, dry.Planned())
	}
	printReport(out, runner.Report())
	return runErr
}

func printPlanned(out io.Writer, planned []remote.Planned) {
	for _, p := range planned {
		prefix := "run "
		if p.Test {
			prefix = "test"
		}
		fmt.Fprintf(out, "%s %s: %s\n", prefix, p.Host, p.Command)
	}
}

func printReport(out io.Writer, report *tasks.Report) {
	fmt.Fprintf(out, "run %s release %s\n", report.RunID(), report.Release())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range report.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Task, e.Outcome, e.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}
