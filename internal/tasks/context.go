package tasks

import (
	"context"
	"strings"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Context is what a task body sees: resolved config, release paths and the
// means to reach hosts.
type Context struct {
	ctx    context.Context
	runner *Runner

	Task    string
	Config  *config.Config
	Release Release
	Logger  zerolog.Logger
}

// Invoke runs another task and its hooks. Tasks already executed in this run
// are not repeated.
func (c *Context) Invoke(name string) error {
	return c.runner.invoke(c.ctx, name)
}

// Hosts returns the hosts holding role.
func (c *Context) Hosts(role string) []inventory.Host {
	return c.runner.inventory.Select(role)
}

// On runs fn once per host holding role. Hosts run in parallel up to
// max_parallel_hosts; the first error cancels hosts that have not yet issued
// their next command. A role with no hosts is a no-op.
func (c *Context) On(role string, fn func(h *Host) error) error {
	hosts := c.Hosts(role)
	if len(hosts) == 0 {
		c.Logger.Debug().Str("role", role).Msg("no hosts for role")
		return nil
	}

	g, gctx := errgroup.WithContext(c.ctx)
	if limit := c.Config.MaxParallelHosts; limit > 0 {
		g.SetLimit(limit)
	}
	for _, host := range hosts {
		h := &Host{
			Host:   host,
			ctx:    gctx,
			exec:   c.runner.exec,
			logger: c.Logger.With().Str("host", host.String()).Logger(),
		}
		g.Go(func() error {
			return fn(h)
		})
	}
	return g.Wait()
}

// Host is one target inside an On call. Commands issued through it run in
// order, optionally inside a working directory.
type Host struct {
	inventory.Host

	dir    string
	ctx    context.Context
	exec   remote.Executor
	logger zerolog.Logger
}

// Within returns a view of h whose commands run from dir.
func (h *Host) Within(dir string) *Host {
	clone := *h
	clone.dir = dir
	return &clone
}

// Logger returns a logger tagged with the host.
func (h *Host) Logger() zerolog.Logger {
	return h.logger
}

// Execute runs command and discards its output.
func (h *Host) Execute(command string) error {
	_, err := h.exec.Run(h.ctx, h.Host, remote.Within(h.dir, command))
	return err
}

// Capture runs command and returns trimmed stdout.
func (h *Host) Capture(command string) (string, error) {
	res, err := h.exec.Run(h.ctx, h.Host, remote.Within(h.dir, command))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Test runs command as a predicate.
func (h *Host) Test(command string) (bool, error) {
	return h.exec.Test(h.ctx, h.Host, remote.Within(h.dir, command))
}
