package run

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/PyNishanth/taskq-system/job"
)

// maxCapturedOutput bounds how much command output lands in LastError.
const maxCapturedOutput = 2000

// Shell executes a job's payload as a command line via the system shell.
// This is the runner behind CLI-enqueued jobs: the payload is the command
// string, stdout and stderr are captured, and a non-zero exit moves the
// job through the normal retry path with the tail of the output recorded
// as the cause.
type Shell struct {
	// Dir is the working directory for commands. Empty means the worker
	// process's directory.
	Dir string
	// Env is the command environment. Nil means the worker's environment.
	Env []string

	logger *slog.Logger
}

// NewShell creates a shell runner.
func NewShell(logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{logger: logger}
}

// Run executes the payload with `sh -c`. The command is killed when ctx
// expires; WaitDelay puts a bound on how long lingering pipe readers can
// hold up the kill.
func (s *Shell) Run(ctx context.Context, j *job.Job) Outcome {
	command := strings.TrimSpace(string(j.Payload))
	if command == "" {
		return Failure("empty command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.WaitDelay = 10 * time.Second

	out, err := cmd.CombinedOutput()
	if err == nil {
		s.logger.Debug("command finished",
			"job_id", j.ID.String(),
			"bytes_out", len(out))
		return Success()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Timeout(fmt.Sprintf("command timed out: %s", truncate(string(out))))
	}

	return Failure(fmt.Sprintf("%v: %s", err, truncate(string(out))))
}

// truncate keeps the tail of command output, which is where the useful
// part of a failure usually is.
func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxCapturedOutput {
		return s
	}
	return "..." + s[len(s)-maxCapturedOutput:]
}
