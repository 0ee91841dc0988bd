package deploy

import (
	"path"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
)

func supervisorTasks() []tasks.Task {
	return []tasks.Task{
		{
			Name:        "deploy:nginx_restart",
			Description: "Replace the running supervisord with one started from the release",
			Roles:       []string{inventory.RoleWeb},
			Body:        restartSupervisor,
		},
	}
}

// restartSupervisor kills the supervisord recorded in the pid file, if any,
// and starts a new one from the release virtualenv. Nothing confirms the new
// process came up.
func restartSupervisor(c *tasks.Context) error {
	// The pid file is checked by absolute path so a missing release dir fails
	// on the start command instead of reading as "not running".
	pidFile := c.Config.SupervisorPIDFile
	if !path.IsAbs(pidFile) {
		pidFile = path.Join(c.Release.Path, pidFile)
	}
	start := remote.Join("venv/bin/supervisord", "-c", c.Config.SupervisorConfigFile)
	kill := "kill -9 $(cat " + remote.ShellQuote(pidFile) + ")"

	return c.On(inventory.RoleWeb, func(host *tasks.Host) error {
		running, err := host.Test(remote.Join("test", "-e", pidFile))
		if err != nil {
			return err
		}
		if running {
			if err := host.Execute(kill); err != nil {
				return err
			}
		}
		h := host.Within(c.Release.Path)
		if err := h.Execute(start); err != nil {
			return err
		}
		logger := h.Logger()
		logger.Warn().Str("config", c.Config.SupervisorConfigFile).Msg("supervisord started without health check")
		return nil
	})
}
