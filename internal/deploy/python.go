package deploy

import (
	"path"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
)

func pythonTasks() []tasks.Task {
	return []tasks.Task{
		{
			Name:        "python:create_virtualenv",
			Description: "Create a python virtualenv",
			Roles:       []string{inventory.RoleAll},
			Body:        createVirtualenv,
		},
	}
}

func createVirtualenv(c *tasks.Context) error {
	releaseEnv := path.Join(c.Release.Path, "venv")
	requirements := path.Join(c.Release.Path, c.Config.PipRequirements)

	err := c.On(inventory.RoleAll, func(h *tasks.Host) error {
		if !c.Config.SharedVirtualenv {
			if err := h.Execute(remote.Join("virtualenv", releaseEnv)); err != nil {
				return err
			}
			return h.Execute(remote.Join(path.Join(releaseEnv, "bin", "pip"), "install", "-r", requirements))
		}

		sharedEnv := path.Join(c.Release.SharedPath, "venv")
		exists, err := h.Test(remote.Join("test", "-d", sharedEnv))
		if err != nil {
			return err
		}
		if exists {
			logger := h.Logger()
			logger.Debug().Str("path", sharedEnv).Msg("shared virtualenv present")
		} else if err := h.Execute(remote.Join("virtualenv", sharedEnv)); err != nil {
			return err
		}
		if err := h.Execute(remote.Join(path.Join(sharedEnv, "bin", "pip"), "install", "-r", requirements)); err != nil {
			return err
		}
		return h.Execute(remote.Join("ln", "-s", sharedEnv, releaseEnv))
	})
	if err != nil {
		return err
	}
	return c.Invoke("django:setup")
}
