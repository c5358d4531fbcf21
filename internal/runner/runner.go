// Package runner executes one task attempt as an isolated child process.
// It enforces the per-entry timeout and reports the outcome; how many
// attempts to make is the controller's business, never the runner's.
package runner

import (
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/apoplexi24/kuber-cron/internal/domain"
	"github.com/apoplexi24/kuber-cron/internal/logsink"
)

// Runner spawns task commands via the shell.
type Runner struct {
	sink  logsink.Sink
	shell string
	clock func() time.Time
}

// New creates a runner writing task output to the given sink.
func New(sink logsink.Sink) *Runner {
	return &Runner{
		sink:  sink,
		shell: "/bin/sh",
		clock: time.Now,
	}
}

// Run executes the entry's command once. The attempt is bounded by the
// entry's timeout; on expiry the process is killed and the outcome is
// recorded as timeout. Cancellation of ctx itself (daemon shutdown)
// yields a killed outcome.
func (r *Runner) Run(ctx context.Context, entry domain.Entry, attempt int) domain.RunOutcome {
	runCtx := ctx
	var cancel context.CancelFunc
	if entry.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		defer cancel()
	}

	outcome := domain.RunOutcome{
		EntryKey:  entry.Key,
		Attempt:   attempt,
		StartedAt: r.clock().UTC(),
	}

	out, err := r.sink.Open(entry.Key)
	if err != nil {
		// The sink is an external collaborator; a broken one must not
		// stop the task from running.
		log.Printf("runner: entry=%s failed to open output sink: %v", entry.Key, err)
		out = nil
	} else {
		defer out.Close()
	}

	cmd := exec.CommandContext(runCtx, r.shell, "-c", entry.Command)
	if len(entry.Env) > 0 {
		cmd.Env = append(os.Environ(), entry.Env...)
	}
	if out != nil {
		cmd.Stdout = out
		cmd.Stderr = out
	}

	runErr := cmd.Run()
	outcome.FinishedAt = r.clock().UTC()

	switch {
	case runErr == nil:
		outcome.Status = domain.RunStatusSuccess
	case entry.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome.Status = domain.RunStatusTimeout
		outcome.ExitCode = exitCode(runErr)
		outcome.Error = "deadline exceeded after " + entry.Timeout.String()
	case ctx.Err() != nil:
		outcome.Status = domain.RunStatusKilled
		outcome.ExitCode = exitCode(runErr)
		outcome.Error = "terminated by shutdown"
	default:
		outcome.Status = domain.RunStatusFailure
		outcome.ExitCode = exitCode(runErr)
		outcome.Error = runErr.Error()
	}

	return outcome
}

// exitCode extracts the child's exit code, or -1 when it never ran or
// was killed by a signal.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
