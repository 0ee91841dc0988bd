package remote

import (
	"context"
	"errors"

	"github.com/danmuck/deployctl/internal/inventory"
)

// Dispatcher routes local hosts to Local and everything else to Remote.
type Dispatcher struct {
	Local  Executor
	Remote Executor
}

func (d Dispatcher) pick(host inventory.Host) Executor {
	if host.Local && d.Local != nil {
		return d.Local
	}
	return d.Remote
}

func (d Dispatcher) Run(ctx context.Context, host inventory.Host, command string) (Result, error) {
	return d.pick(host).Run(ctx, host, command)
}

func (d Dispatcher) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	return d.pick(host).Test(ctx, host, command)
}

func (d Dispatcher) Close() error {
	var errs []error
	if d.Local != nil {
		errs = append(errs, d.Local.Close())
	}
	if d.Remote != nil {
		errs = append(errs, d.Remote.Close())
	}
	return errors.Join(errs...)
}
