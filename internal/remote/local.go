package remote

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/danmuck/deployctl/internal/inventory"
)

// LocalExecutor runs commands on the control machine through `sh -c`. It
// serves servers marked local in the inventory.
type LocalExecutor struct {
	Shell string
}

func (e LocalExecutor) Run(ctx context.Context, host inventory.Host, command string) (Result, error) {
	res := Result{Host: host.String(), Command: command}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.Command(shell, "-c", command)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitCode()
		return commandResult(res, nil)
	}

	res.ExitStatus = 127
	return res, &CommandError{
		Host:       res.Host,
		Command:    command,
		ExitStatus: res.ExitStatus,
		Stderr:     err.Error(),
	}
}

func (e LocalExecutor) Test(ctx context.Context, host inventory.Host, command string) (bool, error) {
	return testViaRun(ctx, e, host, command)
}

func (LocalExecutor) Close() error {
	return nil
}
