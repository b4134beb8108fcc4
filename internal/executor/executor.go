// Package executor runs privileged system commands on behalf of the policy
// and bootstrap components.
//
// A non-zero exit status is an outcome, not an error: rule deletions
// routinely fail when the rule is already gone, so callers inspect
// Result.ExitCode and pick a log severity themselves. Run only returns an
// error when the command could not be started at all.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner is implemented by Executor and by recording fakes in tests.
type Runner interface {
	Run(ctx context.Context, argv ...string) (Result, error)
}

// Result is the outcome of one command.
type Result struct {
	// Argv is the command as executed, including the privilege prefix.
	Argv []string

	ExitCode int
	Stdout   string
	Stderr   string

	// Simulated is set when the command was only logged (dry-run mode).
	Simulated bool
}

// OK reports whether the command exited with status 0 or was simulated.
func (r Result) OK() bool {
	return r.Simulated || r.ExitCode == 0
}

// Executor runs commands without a shell, optionally behind a privilege
// escalation prefix such as "sudo".
type Executor struct {
	log      *slog.Logger
	prefix   []string
	simulate bool
}

// New creates an Executor. prefix is prepended to every argv; simulate
// turns every Run into a logged no-op.
func New(logger *slog.Logger, prefix []string, simulate bool) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		log:      logger.With("component", "executor"),
		prefix:   append([]string(nil), prefix...),
		simulate: simulate,
	}
}

// Simulated reports whether the executor is in dry-run mode.
func (e *Executor) Simulated() bool {
	return e.simulate
}

// Run executes argv and captures its output. Each argv element is passed to
// the process as a separate argument.
func (e *Executor) Run(ctx context.Context, argv ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	full := make([]string, 0, len(e.prefix)+len(argv))
	full = append(full, e.prefix...)
	full = append(full, argv...)

	if e.simulate {
		e.log.Info("dry-run: command not executed", "cmd", strings.Join(full, " "))
		return Result{Argv: full, Simulated: true}, nil
	}

	e.log.Debug("running command", "cmd", strings.Join(full, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Argv:   full,
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr) && exitErr.Exited():
		res.ExitCode = exitErr.ExitCode()
		e.log.Debug("command exited non-zero",
			"cmd", strings.Join(full, " "),
			"exit_code", res.ExitCode,
			"stderr", res.Stderr,
		)
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("running %s: %w", full[0], err)
	}
}
