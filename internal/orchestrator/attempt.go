package orchestrator

import (
	"context"
	"strconv"
	"strings"
	"sync"

	droverr "github.com/kvasey/drover/internal/errors"
	"github.com/kvasey/drover/internal/events"
	"github.com/kvasey/drover/internal/executor"
	"github.com/kvasey/drover/internal/git"
	"github.com/kvasey/drover/internal/proc"
	"github.com/kvasey/drover/internal/resolve"
	"github.com/kvasey/drover/internal/task"
)

// attemptLogLimit caps the output retained on the attempt record.
const attemptLogLimit = 64 * 1024

// runTask drives one attempt for a task that holds a slot: state
// transition in, the acquire/resolve/run pipeline, state transition
// out. Acquire failures requeue the task until the retry budget is
// spent.
func (o *Orchestrator) runTask(taskID string) {
	t, err := o.store.LoadTask(taskID)
	if err != nil {
		o.logger.Error("load task", "task_id", taskID, "error", err)
		return
	}

	from := t.State
	if err := t.Transition(task.StateInProgress); err != nil {
		o.logger.Error("admit task", "task_id", taskID, "error", err)
		return
	}
	if err := o.store.SaveTask(t); err != nil {
		o.logger.Error("save task", "task_id", taskID, "error", err)
		return
	}
	o.publishState(t.ID, from, task.StateInProgress)

	attemptCtx, cancelAttempt := context.WithCancel(o.ctx)
	defer cancelAttempt()
	o.mu.Lock()
	o.cancels[taskID] = cancelAttempt
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, taskID)
		o.mu.Unlock()
	}()

	outcome, err := o.executeAttempt(attemptCtx, t)
	if err != nil && droverr.Is(err, droverr.CodeWorktreeAcquisitionFailed) {
		o.requeueOrFail(t, err)
		return
	}
	if err != nil && !droverr.Is(err, droverr.CodeResolutionExhausted) {
		o.logger.Error("attempt error", "task_id", taskID, "error", err)
	}

	o.advance(t, outcome)
}

// advance moves the task out of InProgress based on the attempt
// outcome.
func (o *Orchestrator) advance(t *task.Task, outcome task.Outcome) {
	var to task.State
	switch outcome {
	case task.OutcomeSucceeded, task.OutcomeNeedsReview:
		to = task.StateInReview
	case task.OutcomeCancelled:
		to = task.StateCancelled
	default:
		to = task.StateFailed
	}

	if err := t.Transition(to); err != nil {
		o.logger.Error("advance task", "task_id", t.ID, "error", err)
		return
	}
	if err := o.store.SaveTask(t); err != nil {
		o.logger.Error("save task", "task_id", t.ID, "error", err)
		return
	}
	o.publishState(t.ID, task.StateInProgress, to)
	o.logger.Info("task advanced", "task_id", t.ID, "outcome", string(outcome), "state", string(to))
}

// requeueOrFail handles a worktree acquisition failure: the task goes
// back to Todo until the retry budget is exhausted, then fails.
func (o *Orchestrator) requeueOrFail(t *task.Task, cause error) {
	t.Retries++
	if t.Retries <= o.cfg.AcquireRetries {
		o.logger.Warn("worktree acquisition failed, requeueing",
			"task_id", t.ID, "retry", t.Retries, "error", cause)
		if err := t.Transition(task.StateTodo); err != nil {
			o.logger.Error("requeue task", "task_id", t.ID, "error", err)
			return
		}
		if err := o.store.SaveTask(t); err != nil {
			o.logger.Error("save task", "task_id", t.ID, "error", err)
			return
		}
		o.publishState(t.ID, task.StateInProgress, task.StateTodo)
		o.scheduler.Requeue(t.ID)
		return
	}

	o.logger.Error("worktree acquisition retry budget exhausted",
		"task_id", t.ID, "retries", t.Retries-1, "error", cause)
	o.publisher.Publish(events.NewEvent(events.EventError, t.ID, events.ErrorData{
		Message: cause.Error(),
		Fatal:   true,
	}))
	o.advance(t, task.OutcomeFailed)
}

// executeAttempt runs the acquire -> build -> resolve -> run ->
// interpret -> release pipeline for one attempt.
func (o *Orchestrator) executeAttempt(ctx context.Context, t *task.Task) (task.Outcome, error) {
	variant, err := executor.Parse(t.Variant)
	if err != nil {
		return task.OutcomeFailed, err
	}

	att := task.NewAttempt(t.ID)
	if err := o.store.SaveAttempt(att); err != nil {
		return task.OutcomeFailed, err
	}
	// The attempt record must reach a terminal outcome no matter how
	// the pipeline exits, or the active-attempt safety net wedges the
	// task.
	finished := false
	defer func() {
		if !finished {
			att.Finish(task.OutcomeFailed, -1)
			if err := o.store.SaveAttempt(att); err != nil {
				o.logger.Error("finalize attempt", "attempt_id", att.ID, "error", err)
			}
		}
	}()

	wt, err := o.worktrees.Acquire(att.ID, "HEAD")
	if err != nil {
		att.Finish(task.OutcomeFailed, -1)
		finished = true
		if saveErr := o.store.SaveAttempt(att); saveErr != nil {
			o.logger.Error("save attempt", "attempt_id", att.ID, "error", saveErr)
		}
		return task.OutcomeFailed, err
	}
	att.WorktreePath = wt.Path
	att.Branch = wt.Branch

	inv, err := o.registry.BuildInvocation(variant, t)
	if err != nil {
		o.releaseWorktree(t.ID, att, wt, task.OutcomeFailed)
		return task.OutcomeFailed, err
	}
	profile := o.registry.Profile(variant)

	cmd, err := o.resolver.Resolve(profile, o.session)
	if err != nil {
		o.releaseWorktree(t.ID, att, wt, task.OutcomeFailed)
		o.publishResolutionFailure(t.ID, att, err)
		return task.OutcomeFailed, err
	}

	o.publisher.Publish(events.NewEvent(events.EventAttemptStarted, t.ID, events.AttemptData{
		AttemptID: att.ID,
		Variant:   string(variant),
		Worktree:  wt.Path,
	}))

	logBuf := newOutputLog(attemptLogLimit)
	onLine := func(line string) {
		logBuf.append(line)
		o.publisher.Publish(events.NewEvent(events.EventOutput, t.ID, line))
	}

	res, output, runErr := o.runOnce(ctx, cmd, inv, wt.Path, logBuf, onLine)

	// A launcher-level failure makes the resolved tier ineligible and
	// triggers exactly one fallback re-resolution and retry.
	if ctx.Err() == nil && isLauncherFailure(res, output, runErr) {
		fallbackCmd, resolveErr := o.resolver.ResolveExcluding(profile, o.session, cmd.Tier)
		if resolveErr != nil {
			att.Command = cmd.Path
			att.Tier = string(cmd.Tier)
			att.Log = logBuf.String()
			att.Finish(task.OutcomeFailed, res.ExitCode)
			finished = true
			if err := o.store.SaveAttempt(att); err != nil {
				o.logger.Error("save attempt", "attempt_id", att.ID, "error", err)
			}
			o.releaseWorktree(t.ID, att, wt, task.OutcomeFailed)
			o.publishResolutionFailure(t.ID, att, resolveErr)
			return task.OutcomeFailed, resolveErr
		}

		o.publisher.Publish(events.NewEvent(events.EventFallback, t.ID, events.FallbackData{
			Variant:  string(variant),
			FromTier: string(cmd.Tier),
			ToTier:   string(fallbackCmd.Tier),
			Reason:   launcherFailureReason(res, runErr),
		}))
		o.logger.Warn("command launcher failed, falling back",
			"task_id", t.ID, "from_tier", string(cmd.Tier), "to_tier", string(fallbackCmd.Tier))

		att.FallbackCount++
		cmd = fallbackCmd
		logBuf.reset()
		res, output, runErr = o.runOnce(ctx, cmd, inv, wt.Path, logBuf, onLine)
	}

	att.Command = cmd.Path
	att.Tier = string(cmd.Tier)
	att.Log = logBuf.String()

	var outcome task.Outcome
	switch {
	case ctx.Err() != nil:
		outcome = task.OutcomeCancelled
	case isLauncherFailure(res, output, runErr):
		// Both tiers failed to launch.
		outcome = task.OutcomeFailed
		runErr = droverr.New(droverr.CodeResolutionExhausted,
			"no command tier produced a runnable assistant").
			WithWhy("fallback retry also failed at launch")
	default:
		outcome = o.registry.InterpretOutcome(variant, res, output)
	}

	att.Finish(outcome, res.ExitCode)
	finished = true
	if err := o.store.SaveAttempt(att); err != nil {
		o.logger.Error("save attempt", "attempt_id", att.ID, "error", err)
	}

	o.releaseWorktree(t.ID, att, wt, outcome)

	o.publisher.Publish(events.NewEvent(events.EventAttemptFinished, t.ID, events.AttemptData{
		AttemptID: att.ID,
		Variant:   string(variant),
		Worktree:  wt.Path,
		Outcome:   string(outcome),
		ExitCode:  res.ExitCode,
	}))

	if runErr != nil && droverr.Is(runErr, droverr.CodeResolutionExhausted) {
		return outcome, runErr
	}
	return outcome, nil
}

// runOnce executes the resolved command once and returns the result
// alongside the output captured for this run.
func (o *Orchestrator) runOnce(ctx context.Context, cmd resolve.Command, inv executor.Invocation, dir string, logBuf *outputLog, onLine proc.LineFunc) (proc.Result, string, error) {
	spec := executor.ComposeSpec(cmd, inv, dir, o.cfg.AttemptTimeout)
	res, err := o.runner.Run(ctx, spec, onLine)
	return res, logBuf.String(), err
}

// releaseWorktree releases the attempt's worktree and routes the diff
// artifact to the review surface on success. Timed-out attempts keep
// their worktree for inspection; the sweep reclaims it later.
func (o *Orchestrator) releaseWorktree(taskID string, att *task.Attempt, wt *git.Worktree, outcome task.Outcome) {
	if outcome == task.OutcomeTimedOut {
		o.logger.Warn("keeping worktree of timed out attempt for inspection",
			"attempt_id", att.ID, "path", wt.Path)
		o.publisher.Publish(events.NewEvent(events.EventWarning, taskID, events.WarningData{
			Message: "attempt timed out, worktree kept at " + wt.Path,
		}))
		return
	}

	success := outcome == task.OutcomeSucceeded || outcome == task.OutcomeNeedsReview
	diff, err := o.worktrees.Release(wt, success)
	if err != nil {
		// Release failure leaves the worktree orphan-sweep eligible.
		o.logger.Warn("worktree release failed", "attempt_id", att.ID, "error", err)
		o.publisher.Publish(events.NewEvent(events.EventWarning, taskID, events.WarningData{
			Message: "worktree release failed: " + err.Error(),
		}))
		return
	}
	if success {
		o.publisher.Publish(events.NewEvent(events.EventReviewReady, taskID, events.ReviewData{
			AttemptID: att.ID,
			Diff:      diff,
		}))
	}
}

func (o *Orchestrator) publishResolutionFailure(taskID string, att *task.Attempt, err error) {
	o.logger.Error("command resolution exhausted", "task_id", taskID, "attempt_id", att.ID, "error", err)
	o.publisher.Publish(events.NewEvent(events.EventError, taskID, events.ErrorData{
		Message: err.Error(),
		Fatal:   true,
	}))
}

// isLauncherFailure folds spawn errors and launcher-level exits into
// one fallback-eligibility check.
func isLauncherFailure(res proc.Result, output string, runErr error) bool {
	if runErr != nil && droverr.Is(runErr, droverr.CodeProcessSpawnFailed) {
		return true
	}
	return executor.IsLauncherFailure(res, output)
}

func launcherFailureReason(res proc.Result, runErr error) string {
	if runErr != nil {
		return runErr.Error()
	}
	return "launcher exit code " + strconv.Itoa(res.ExitCode)
}

// outputLog accumulates process output with a byte cap, keeping the
// most recent lines.
type outputLog struct {
	mu    sync.Mutex
	lines []string
	size  int
	limit int
}

func newOutputLog(limit int) *outputLog {
	return &outputLog{limit: limit}
}

func (l *outputLog) append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, line)
	l.size += len(line) + 1
	for l.size > l.limit && len(l.lines) > 1 {
		l.size -= len(l.lines[0]) + 1
		l.lines = l.lines[1:]
	}
}

func (l *outputLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
	l.size = 0
}

func (l *outputLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}
