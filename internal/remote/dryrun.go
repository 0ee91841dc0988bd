package remote

import (
	"context"
	"sync"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/rs/zerolog"
)

// Planned is one command a dry run would have sent.
type Planned struct {
	Host    string
	Command string
	Test    bool
}

// DryRunExecutor records and logs commands without contacting any host.
// Tests always report false, so guarded branches take their "absent" path.
type DryRunExecutor struct {
	Logger zerolog.Logger

	mu      sync.Mutex
	planned []Planned
}

func NewDryRunExecutor(logger zerolog.Logger) *DryRunExecutor {
	return &DryRunExecutor{Logger: logger}
}

func (e *DryRunExecutor) Run(ctx context.Context, host inventory.Host, command string) (Result, error) {
	res := Result{Host: host.String(), Command: command}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	e.record(Planned{Host: res.Host, Command: command})
	e.Logger.Info().Str("host", res.Host).Str("command", command).Msg("dry-run")
	return res, nil
}

func (e *DryRunExecutor) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.record(Planned{Host: host.String(), Command: command, Test: true})
	e.Logger.Info().Str("host", host.String()).Str("command", command).Msg("dry-run test")
	return false, nil
}

func (e *DryRunExecutor) Close() error {
	return nil
}

// Planned returns a snapshot of recorded commands in issue order.
func (e *DryRunExecutor) Planned() []Planned {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Planned, len(e.planned))
	copy(out, e.planned)
	return out
}

func (e *DryRunExecutor) record(p Planned) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.planned = append(e.planned, p)
}
