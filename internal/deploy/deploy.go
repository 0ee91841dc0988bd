// Package deploy is the built-in task catalogue: the release flow plus the
// python, django, supervisor and celery steps hooked into it.
//
// Ownership boundary:
// - task names, guards and hooks
//
// - the exact shell commands each step issues
//
// Execution order, fan-out and failure handling belong to package tasks.
package deploy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
)

// Register installs every built-in task and hook into g.
func Register(g *tasks.Graph) error {
	groups := [][]tasks.Task{
		flowTasks(),
		pythonTasks(),
		djangoTasks(),
		supervisorTasks(),
		celeryTasks(),
	}
	for _, group := range groups {
		for _, task := range group {
			if err := g.Register(task); err != nil {
				return err
			}
		}
	}

	g.After("deploy:updating", "python:create_virtualenv")
	g.After("deploy:restart", "deploy:restart_celery")
	return g.Validate()
}

// NewGraph returns a validated graph holding the built-in catalogue.
func NewGraph() (*tasks.Graph, error) {
	g := tasks.NewGraph()
	if err := Register(g); err != nil {
		return nil, fmt.Errorf("deploy: register tasks: %w", err)
	}
	return g, nil
}

func flowTasks() []tasks.Task {
	return []tasks.Task{
		{
			Name:        "deploy",
			Description: "Run a full deploy",
			Body: func(c *tasks.Context) error {
				for _, step := range []string{"deploy:starting", "deploy:updating", "deploy:publishing", "deploy:finishing"} {
					if err := c.Invoke(step); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name:        "deploy:starting",
			Description: "Create the releases and shared directories",
			Roles:       []string{inventory.RoleAll},
			Body: func(c *tasks.Context) error {
				cmd := remote.Join("mkdir", "-p", c.Release.ReleasesPath, c.Release.SharedPath)
				return c.On(inventory.RoleAll, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "deploy:updating",
			Description: "Create the release directory",
			Roles:       []string{inventory.RoleAll},
			Body: func(c *tasks.Context) error {
				cmd := remote.Join("mkdir", "-p", c.Release.Path)
				return c.On(inventory.RoleAll, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "deploy:publishing",
			Description: "Point current at the new release and restart",
			Roles:       []string{inventory.RoleAll},
			Body: func(c *tasks.Context) error {
				cmd := remote.Join("ln", "-sfn", c.Release.Path, c.Release.CurrentPath)
				err := c.On(inventory.RoleAll, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
				if err != nil {
					return err
				}
				return c.Invoke("deploy:restart")
			},
		},
		{
			Name:        "deploy:finishing",
			Description: "Remove releases beyond keep_releases",
			Roles:       []string{inventory.RoleAll},
			Body: func(c *tasks.Context) error {
				return c.On(inventory.RoleAll, func(h *tasks.Host) error {
					return cleanupReleases(h, c.Release, c.Config.KeepReleases)
				})
			},
		},
		{
			Name:        "deploy:restart",
			Description: "Restart application",
			Body: func(c *tasks.Context) error {
				return c.Invoke("deploy:nginx_restart")
			},
		},
		{
			Name:        "deploy:restart_celery",
			Description: "Restart celery after deploy:restart when restart_celery_on_deploy is set",
			Guard: func(cfg *config.Config) bool {
				return cfg.RestartCeleryOnDeploy
			},
			Body: func(c *tasks.Context) error {
				return c.Invoke("django:restart_celery")
			},
		},
	}
}

// cleanupReleases keeps the newest keep release directories. Entries that are
// not release names are left alone, as is the release being deployed.
func cleanupReleases(h *tasks.Host, rel tasks.Release, keep int) error {
	out, err := h.Capture(remote.Join("ls", "-1", rel.ReleasesPath))
	if err != nil {
		return err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if tasks.ValidReleaseName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) <= keep {
		return nil
	}

	args := []string{"-rf"}
	for _, name := range names[:len(names)-keep] {
		if name == rel.Name {
			continue
		}
		args = append(args, rel.ReleasesPath+"/"+name)
	}
	if len(args) == 1 {
		return nil
	}
	logger := h.Logger()
	logger.Info().Int("count", len(args)-1).Msg("removing old releases")
	return h.Execute(remote.Join("rm", args...))
}
