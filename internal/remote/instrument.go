package remote

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/deployctl/internal/inventory"
	"github.com/danmuck/deployctl/internal/observability"
	"github.com/rs/zerolog"
)

// Instrumented logs every command and records it in the remote command
// metrics before delegating to Next.
type Instrumented struct {
	Next   Executor
	Logger zerolog.Logger
}

func (i Instrumented) Run(ctx context.Context, host inventory.Host, command string) (Result, error) {
	i.Logger.Debug().Str("host", host.String()).Str("command", command).Msg("exec")
	start := time.Now()
	res, err := i.Next.Run(ctx, host, command)
	i.observe(host, command, res, err, time.Since(start))
	return res, err
}

func (i Instrumented) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	i.Logger.Debug().Str("host", host.String()).Str("command", command).Msg("test")
	start := time.Now()
	ok, err := i.Next.Test(ctx, host, command)
	status := "true"
	if !ok {
		status = "false"
	}
	if err != nil {
		status = "error"
	}
	observability.RecordRemoteCommand(host.Address, status, time.Since(start))
	return ok, err
}

func (i Instrumented) Close() error {
	return i.Next.Close()
}

func (i Instrumented) observe(host inventory.Host, command string, res Result, err error, took time.Duration) {
	status := "ok"
	var cmdErr *CommandError
	switch {
	case err == nil:
	case errors.As(err, &cmdErr):
		status = "failed"
	default:
		status = "error"
	}
	observability.RecordRemoteCommand(host.Address, status, took)

	event := i.Logger.Debug()
	if err != nil {
		event = i.Logger.Error().Err(err)
	}
	event.
		Str("host", host.String()).
		Str("command", command).
		Int("exit_status", res.ExitStatus).
		Dur("duration", took).
		Msg("exec done")
}
