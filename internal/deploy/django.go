package deploy

import (
	"path"
	"strings"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/tasks"
)

const collectStaticFlags = "-i *.coffee -i *.less -i node_modules/* -i bower_components/* --noinput"

// setupSteps is the fixed order django:setup walks. Each step carries its own
// guard.
var setupSteps = []string{
	"django:compress",
	"django:compilemessages",
	"django:collectstatic",
	"django:symlink_settings",
	"django:symlink_wsgi",
	"django:migrate",
}

// ManageCommand renders a manage.py invocation inside the release. Flags are
// passed through verbatim.
func ManageCommand(rel tasks.Release, cfg *config.Config, args, flags string) string {
	python := path.Join(rel.Path, "venv", "bin", "python")
	manage := path.Join(rel.Path, cfg.DjangoProjectDir, "manage.py")

	parts := []string{remote.ShellQuote(python), remote.ShellQuote(manage)}
	for _, p := range []string{args, flags} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func manage(c *tasks.Context, role, args, flags string) error {
	cmd := ManageCommand(c.Release, c.Config, args, flags)
	return c.On(role, func(h *tasks.Host) error {
		return h.Execute(cmd)
	})
}

func djangoTasks() []tasks.Task {
	return []tasks.Task{
		{
			Name:        "django:setup",
			Description: "Setup Django environment",
			Body: func(c *tasks.Context) error {
				for _, step := range setupSteps {
					if err := c.Invoke(step); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name:        "django:compress",
			Description: "Run django-compressor",
			Roles:       []string{inventory.RoleAll},
			Guard:       func(cfg *config.Config) bool { return cfg.DjangoCompressor },
			Body: func(c *tasks.Context) error {
				return manage(c, inventory.RoleAll, "compress", "")
			},
		},
		{
			Name:        "django:compilemessages",
			Description: "Compile Messages",
			Roles:       []string{inventory.RoleAll},
			Guard:       func(cfg *config.Config) bool { return cfg.CompileMessages },
			Body: func(c *tasks.Context) error {
				return manage(c, inventory.RoleAll, "compilemessages", "")
			},
		},
		{
			Name:        "django:collectstatic",
			Description: "Run django's collectstatic",
			Roles:       []string{inventory.RoleAll},
			Guard:       func(cfg *config.Config) bool { return cfg.CollectStatic },
			Body: func(c *tasks.Context) error {
				return manage(c, inventory.RoleAll, "collectstatic", collectStaticFlags)
			},
		},
		{
			Name:        "django:symlink_settings",
			Description: "Symlink django settings to local_settings.py",
			Roles:       []string{inventory.RoleAll},
			Guard:       func(cfg *config.Config) bool { return cfg.DjangoSettings != "" },
			Body: func(c *tasks.Context) error {
				settings := path.Join(c.Release.Path, c.Config.DjangoSettingsDir, c.Config.DjangoSettings+".py")
				local := path.Join(c.Release.Path, c.Config.DjangoProjectDir, "local_settings.py")
				cmd := remote.Join("ln", "-sf", settings, local)
				return c.On(inventory.RoleAll, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "django:symlink_wsgi",
			Description: "Symlink wsgi script to live.wsgi",
			Roles:       []string{inventory.RoleWeb},
			Guard:       func(cfg *config.Config) bool { return !cfg.Nginx },
			Body: func(c *tasks.Context) error {
				wsgi := path.Join(c.Release.Path, c.Config.WSGIPath)
				cmd := remote.Join("ln", "-sf", path.Join(wsgi, "main.wsgi"), path.Join(wsgi, "live.wsgi"))
				return c.On(inventory.RoleWeb, func(h *tasks.Host) error {
					return h.Execute(cmd)
				})
			},
		},
		{
			Name:        "django:migrate",
			Description: "Run django migrations",
			Roles:       []string{inventory.RoleWeb},
			Guard:       func(cfg *config.Config) bool { return cfg.Migrate },
			Body: func(c *tasks.Context) error {
				if c.Config.MultiDB {
					return manage(c, inventory.RoleWeb, "sync_all", "--noinput")
				}
				return manage(c, inventory.RoleWeb, "migrate", "--noinput")
			},
		},
	}
}
