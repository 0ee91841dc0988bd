package tasks

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/deployctl/internal/config"
	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/remote"
	"github.com/danmuck/deployctl/internal/testutil/remotetest"
	"github.com/danmuck/deployctl/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Application = "shop"
	cfg.DeployTo = "/srv/shop"
	cfg.Servers = []config.ServerConfig{
		{Address: "web-1", Roles: []string{"web"}},
		{Address: "web-2", Roles: []string{"web"}},
		{Address: "jobs-1", Roles: []string{"jobs"}},
	}
	cfg.SSH.User = "deploy"
	return &cfg
}

func newTestRunner(t *testing.T, g *Graph, cfg *config.Config, exec remote.Executor) *Runner {
	t.Helper()
	inv, err := inventory.New(cfg.Servers, cfg.SSH)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	r, err := NewRunner(Options{
		Graph:     g,
		Config:    cfg,
		Inventory: inv,
		Executor:  exec,
		Release:   "20240102030405",
		Logger:    log.Logger,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return r
}

func mustRegister(t *testing.T, g *Graph, task Task) {
	t.Helper()
	if err := g.Register(task); err != nil {
		t.Fatalf("register %s: %v", task.Name, err)
	}
}

func TestRunnerExecutesEachTaskOnce(t *testing.T) {
	testlog.Start(t)
	var count atomic.Int32
	g := NewGraph()
	mustRegister(t, g, Task{Name: "shared", Body: func(*Context) error {
		count.Add(1)
		return nil
	}})
	mustRegister(t, g, Task{Name: "first", Body: func(c *Context) error {
		return c.Invoke("shared")
	}})
	mustRegister(t, g, Task{Name: "second", Body: func(c *Context) error {
		return c.Invoke("shared")
	}})
	g.After("first", "shared")

	r := newTestRunner(t, g, testConfig(), remotetest.NewRecorder())
	if err := r.Invoke(context.Background(), "first", "second", "shared"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got := count.Load(); got != 1 {
		t.Fatalf("expected shared to run once, ran %d times", got)
	}
	if outcome, _ := r.Report().Outcome("shared"); outcome != OutcomeDone {
		t.Fatalf("unexpected outcome: %q", outcome)
	}
}

func TestRunnerGuardSkipsWithoutBlockingChain(t *testing.T) {
	testlog.Start(t)
	rec := remotetest.NewRecorder()
	g := NewGraph()
	mustRegister(t, g, Task{Name: "start", Body: noop})
	mustRegister(t, g, Task{
		Name:  "gated",
		Guard: func(cfg *config.Config) bool { return cfg.DjangoCompressor },
		Body: func(c *Context) error {
			return c.On(inventory.RoleAll, func(h *Host) error {
				return h.Execute("should-not-run")
			})
		},
	})
	mustRegister(t, g, Task{Name: "next", Body: func(c *Context) error {
		return c.On(inventory.RoleWeb, func(h *Host) error {
			return h.Execute("next-step")
		})
	}})
	g.After("start", "gated")
	g.After("gated", "next")

	r := newTestRunner(t, g, testConfig(), rec)
	if err := r.Invoke(context.Background(), "start"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	for _, call := range rec.Calls() {
		if call.Command == "should-not-run" {
			t.Fatalf("guarded task issued a command on %s", call.Host)
		}
	}
	if got := rec.Commands("web-1"); !reflect.DeepEqual(got, []string{"next-step"}) {
		t.Fatalf("unexpected web-1 commands: %v", got)
	}
	if outcome, _ := r.Report().Outcome("gated"); outcome != OutcomeSkipped {
		t.Fatalf("expected gated task skipped, got %q", outcome)
	}
}

func TestRunnerAbortsChainOnFailure(t *testing.T) {
	testlog.Start(t)
	rec := remotetest.NewRecorder().FailOn("explode", 2)
	g := NewGraph()
	mustRegister(t, g, Task{Name: "boom", Body: func(c *Context) error {
		return c.On(inventory.RoleJobs, func(h *Host) error {
			return h.Execute("explode now")
		})
	}})
	var ranAfter bool
	mustRegister(t, g, Task{Name: "after", Body: func(*Context) error {
		ranAfter = true
		return nil
	}})
	g.After("boom", "after")

	r := newTestRunner(t, g, testConfig(), rec)
	err := r.Invoke(context.Background(), "boom")
	if err == nil {
		t.Fatalf("expected failure")
	}
	if ranAfter {
		t.Fatalf("expected chain to abort")
	}

	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "boom" {
		t.Fatalf("expected failure attributed to boom, got %v", err)
	}
	var cmdErr *remote.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitStatus != 2 || cmdErr.Host != "deploy@jobs-1:22" {
		t.Fatalf("unexpected command error: %v", err)
	}
	if !r.Report().Failed() {
		t.Fatalf("expected report to record failure")
	}
}

func TestRunnerAttributesNestedFailureToInnerTask(t *testing.T) {
	g := NewGraph()
	mustRegister(t, g, Task{Name: "inner", Body: func(*Context) error {
		return errors.New("inner broke")
	}})
	mustRegister(t, g, Task{Name: "outer", Body: func(c *Context) error {
		return c.Invoke("inner")
	}})

	r := newTestRunner(t, g, testConfig(), remotetest.NewRecorder())
	err := r.Invoke(context.Background(), "outer")
	var taskErr *TaskError
	if !errors.As(err, &taskErr) || taskErr.Task != "inner" {
		t.Fatalf("expected inner attribution, got %v", err)
	}
	if outcome, _ := r.Report().Outcome("outer"); outcome != OutcomeFailed {
		t.Fatalf("expected outer to fail too, got %q", outcome)
	}
}

func TestOnRunsHostStepsInOrder(t *testing.T) {
	testlog.Start(t)
	rec := remotetest.NewRecorder()
	cfg := testConfig()
	cfg.MaxParallelHosts = 2
	g := NewGraph()
	mustRegister(t, g, Task{Name: "steps", Body: func(c *Context) error {
		return c.On(inventory.RoleWeb, func(h *Host) error {
			for _, cmd := range []string{"one", "two", "three"} {
				if err := h.Within(c.Release.Path).Execute(cmd); err != nil {
					return err
				}
			}
			return nil
		})
	}})

	r := newTestRunner(t, g, cfg, rec)
	if err := r.Invoke(context.Background(), "steps"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	dir := "cd /srv/shop/releases/20240102030405 && "
	want := []string{dir + "one", dir + "two", dir + "three"}
	for _, host := range []string{"web-1", "web-2"} {
		if got := rec.Commands(host); !reflect.DeepEqual(got, want) {
			t.Fatalf("unexpected %s commands\nwant: %v\ngot:  %v", host, want, got)
		}
	}
	if got := rec.Commands("jobs-1"); len(got) != 0 {
		t.Fatalf("expected no jobs commands, got %v", got)
	}
}

func TestOnUnknownRoleIsNoop(t *testing.T) {
	rec := remotetest.NewRecorder()
	g := NewGraph()
	called := false
	mustRegister(t, g, Task{Name: "ghost", Body: func(c *Context) error {
		return c.On("db", func(*Host) error {
			called = true
			return nil
		})
	}})

	r := newTestRunner(t, g, testConfig(), rec)
	if err := r.Invoke(context.Background(), "ghost"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if called || len(rec.Calls()) != 0 {
		t.Fatalf("expected no host calls")
	}
}

func TestRunnerStopsOnCanceledContext(t *testing.T) {
	g := NewGraph()
	mustRegister(t, g, Task{Name: "a", Body: noop})
	r := newTestRunner(t, g, testConfig(), remotetest.NewRecorder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Invoke(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewRunnerReleaseAndRunID(t *testing.T) {
	cfg := testConfig()
	g := NewGraph()
	mustRegister(t, g, Task{Name: "a", Body: noop})

	if _, err := NewRunner(Options{Graph: g, Config: cfg, Executor: remotetest.NewRecorder(), Release: "latest"}); err == nil {
		t.Fatalf("expected invalid release name error")
	}

	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("X", 3600))
	r, err := NewRunner(Options{
		Graph:    g,
		Config:   cfg,
		Executor: remotetest.NewRecorder(),
		Now:      func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if r.Release().Name != "20240506060809" {
		t.Fatalf("unexpected release name: %q", r.Release().Name)
	}
	if _, err := uuid.Parse(r.RunID()); err != nil {
		t.Fatalf("expected uuid run id, got %q", r.RunID())
	}
	if r.Report().RunID() != r.RunID() {
		t.Fatalf("report run id mismatch")
	}
}

func TestNewReleasePaths(t *testing.T) {
	rel := NewRelease("/srv/shop", "20240102030405")
	if rel.Path != "/srv/shop/releases/20240102030405" {
		t.Fatalf("unexpected release path: %q", rel.Path)
	}
	if rel.SharedPath != "/srv/shop/shared" || rel.CurrentPath != "/srv/shop/current" || rel.ReleasesPath != "/srv/shop/releases" {
		t.Fatalf("unexpected release layout: %+v", rel)
	}
	if ValidReleaseName("2024") || !ValidReleaseName("20240102030405") {
		t.Fatalf("unexpected release name validation")
	}
}
