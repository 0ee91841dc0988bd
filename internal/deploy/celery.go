package deploy

import (
	"strings"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
)

func serviceRestart(service string) string {
	return remote.Join("sudo", "service", service, "restart")
}

func celerydRestart(name string) string {
	return serviceRestart("celeryd-" + name)
}

func celerybeatRestart(name string) string {
	return serviceRestart("celerybeat-" + name)
}

func hasCeleryName(cfg *config.Config) bool {
	return strings.TrimSpace(cfg.CeleryName) != ""
}

func celeryTasks() []tasks.Task {
	return []tasks.Task{
		{
			Name:        "django:restart_celery",
			Description: "Restart Celery",
			Guard:       func(cfg *config.Config) bool { return cfg.HasCelery() },
			Body: func(c *tasks.Context) error {
				if hasCeleryName(c.Config) {
					if err := c.Invoke("django:restart_celeryd"); err != nil {
						return err
					}
					if err := c.Invoke("django:restart_celerybeat"); err != nil {
						return err
					}
				}
				return c.Invoke("django:restart_named_celery_processes")
			},
		},
		{
			Name:        "django:restart_celeryd",
			Description: "Restart Celeryd",
			Roles:       []string{inventory.RoleJobs},
			Guard:       hasCeleryName,
			Body: func(c *tasks.Context) error {
				cmd := celerydRestart(c.Config.CeleryName)
				return c.On(inventory.RoleJobs, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "django:restart_celerybeat",
			Description: "Restart Celerybeat",
			Roles:       []string{inventory.RoleJobs},
			Guard:       hasCeleryName,
			Body: func(c *tasks.Context) error {
				cmd := celerybeatRestart(c.Config.CeleryName)
				return c.On(inventory.RoleJobs, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "django:restart_named_celery_processes",
			Description: "Restart named celery processes",
			Roles:       []string{inventory.RoleJobs},
			Guard:       func(cfg *config.Config) bool { return len(cfg.CeleryNames) > 0 },
			Body: func(c *tasks.Context) error {
				procs := c.Config.CeleryNames
				return c.On(inventory.RoleJobs, func(h *tasks.Host) error {
					for _, proc := range procs {
						if err := h.Execute(celerydRestart(proc.Name)); err != nil {
							return err
						}
						if !proc.Beat {
							continue
						}
						if err := h.Execute(celerybeatRestart(proc.Name)); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	}
}
