package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/deployctl/internal/logging"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	stage      string
	dryRun     bool
	logLevel   string
	release    string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Deploy Django applications to role-tagged hosts over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.logLevel != "" && !logging.SetLevel(opts.logLevel) {
				return fmt.Errorf("invalid --log-level %q", opts.logLevel)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "deploy.toml", "path to the deploy config")
	flags.StringVar(&opts.stage, "stage", "", "stage to deploy (defaults to the config's stage key)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "print commands instead of running them")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (trace|debug|info|warn|error)")
	flags.StringVar(&opts.release, "release", "", "release name override ("+tasks.ReleaseNameLayout+")")

	root.AddCommand(
		newDeployCmd(opts),
		newRunCmd(opts),
		newPlanCmd(),
		newTasksCmd(),
		newHostsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// describeFailure names the failing task, host and exit status when err
// carries them.
func describeFailure(err error) string {
	var taskErr *tasks.TaskError
	var cmdErr *remote.CommandError
	hasTask := errors.As(err, &taskErr)
	hasCmd := errors.As(err, &cmdErr)

	switch {
	case hasTask && hasCmd:
		return fmt.Sprintf("task %s failed on %s (exit status %d): %s", taskErr.Task, cmdErr.Host, cmdErr.ExitStatus, cmdErr.Command)
	case hasTask:
		return fmt.Sprintf("task %s failed: %v", taskErr.Task, taskErr.Err)
	default:
		return err.Error()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deployctl: %s\n", describeFailure(err))
		os.Exit(1)
	}
}
