// Package proc runs external assistant processes under supervision.
//
// A Runner spawns a command in its own process group, streams its output
// line by line, and reports the exit status. Cancellation and timeouts
// signal the whole group so helper processes spawned by the assistant
// (MCP servers, headless browsers, etc.) do not outlive the attempt.
package proc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	droverr "github.com/kvasey/drover/internal/errors"
)

// termGracePeriod is how long a cancelled process gets to exit after
// SIGTERM before the group is force-killed.
const termGracePeriod = 5 * time.Second

// Spec describes one process invocation.
type Spec struct {
	Path    string        // executable path or launcher
	Args    []string      // argument list
	Dir     string        // working directory (the attempt's worktree)
	Env     []string      // extra environment, KEY=VALUE form
	Stdin   string        // written to stdin then closed; empty means no stdin
	Timeout time.Duration // hard timeout, 0 = unlimited
}

// Result reports how a supervised process ended.
type Result struct {
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// LineFunc receives one line of combined stdout/stderr output.
type LineFunc func(line string)

// Runner executes a Spec to completion.
type Runner interface {
	Run(ctx context.Context, spec Spec, onLine LineFunc) (Result, error)
}

// ExecRunner is the default Runner backed by os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run spawns the process and blocks until it exits, is cancelled, or
// times out. A spawn failure is reported as PROCESS_SPAWN_FAILED so the
// caller can distinguish it from the assistant's own task failure.
func (r *ExecRunner) Run(ctx context.Context, spec Spec, onLine LineFunc) (Result, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	setProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, droverr.Wrap(droverr.CodeProcessSpawnFailed, "open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, droverr.Wrap(droverr.CodeProcessSpawnFailed, "open stderr pipe", err)
	}

	var stdin io.WriteCloser
	if spec.Stdin != "" {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return Result{}, droverr.Wrap(droverr.CodeProcessSpawnFailed, "open stdin pipe", err)
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, droverr.Wrap(droverr.CodeProcessSpawnFailed, "start "+spec.Path, err)
	}
	pid := cmd.Process.Pid
	r.logger.Debug("process started", "path", spec.Path, "pid", pid, "dir", spec.Dir)

	if stdin != nil {
		go func() {
			_, _ = io.WriteString(stdin, spec.Stdin)
			_ = stdin.Close()
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go r.streamLines(stdout, onLine, &wg)
	go r.streamLines(stderr, onLine, &wg)

	// Supervision: wait for exit, cancellation, or timeout.
	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	timedOut := false
	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		r.terminateGroup(pid)
		waitErr = <-done
	case <-timeout:
		timedOut = true
		r.logger.Warn("process timed out, killing group", "pid", pid, "timeout", spec.Timeout)
		killProcessGroup(pid)
		waitErr = <-done
	}

	res := Result{
		ExitCode: exitCode(cmd, waitErr),
		Duration: time.Since(start),
		TimedOut: timedOut,
	}

	if timedOut {
		return res, droverr.New(droverr.CodeProcessTimedOut, "process exceeded timeout").
			WithWhy("forcibly terminated after " + spec.Timeout.String())
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// terminateGroup asks the process group to exit, then force-kills it
// after the grace period if it is still around.
func (r *ExecRunner) terminateGroup(pid int) {
	if err := interruptProcessGroup(pid); err != nil {
		r.logger.Debug("process group terminate", "pid", pid, "error", err)
	}
	time.AfterFunc(termGracePeriod, func() {
		killProcessGroup(pid)
	})
}

func (r *ExecRunner) streamLines(pipe io.Reader, onLine LineFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if onLine != nil {
			onLine(line)
		}
	}
}

// exitCode extracts the exit status from cmd/waitErr. Returns -1 when
// the process was killed before reporting a status.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
