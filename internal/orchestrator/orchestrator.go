package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kvasey/drover/internal/config"
	droverr "github.com/kvasey/drover/internal/errors"
	"github.com/kvasey/drover/internal/events"
	"github.com/kvasey/drover/internal/executor"
	"github.com/kvasey/drover/internal/git"
	"github.com/kvasey/drover/internal/proc"
	"github.com/kvasey/drover/internal/resolve"
	"github.com/kvasey/drover/internal/task"
)

const defaultPollInterval = 500 * time.Millisecond

// Status represents the orchestrator run status.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Snapshot contains current orchestrator state for status surfaces.
type Snapshot struct {
	Status        Status   `json:"status"`
	ActiveCount   int      `json:"active_count"`
	MaxConcurrent int      `json:"max_concurrent"`
	QueueLength   int      `json:"queue_length"`
	FinishedCount int      `json:"finished_count"`
	RunningTasks  []string `json:"running_tasks"`
}

// Orchestrator drives tasks through the state machine: admission under
// a fixed slot count, the acquire/resolve/run pipeline per attempt, and
// terminal bookkeeping.
type Orchestrator struct {
	cfg       *config.Config
	store     task.Store
	worktrees *git.Manager
	registry  *executor.Registry
	resolver  *resolve.Resolver
	session   *resolve.Session
	runner    proc.Runner
	publisher events.Publisher
	logger    *slog.Logger

	scheduler    *Scheduler
	slots        *semaphore.Weighted
	pollInterval time.Duration

	status  Status
	cancels map[string]context.CancelFunc
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunner sets the process runner.
func WithRunner(r proc.Runner) OrchestratorOption {
	return func(o *Orchestrator) { o.runner = r }
}

// WithResolver sets the command resolver.
func WithResolver(r *resolve.Resolver) OrchestratorOption {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithPollInterval sets the admission poll interval.
func WithPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New creates an orchestrator.
func New(cfg *config.Config, store task.Store, worktrees *git.Manager, registry *executor.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		store:        store,
		worktrees:    worktrees,
		registry:     registry,
		resolver:     resolve.New(),
		session:      resolve.NewSession(),
		runner:       proc.NewExecRunner(nil),
		publisher:    events.NewMemoryPublisher(),
		logger:       slog.Default(),
		scheduler:    NewScheduler(),
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pollInterval: defaultPollInterval,
		status:       StatusStopped,
		cancels:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start begins orchestration: recovers work interrupted by a previous
// process, reclaims orphaned worktrees, then runs the admission loop
// until Stop or context cancellation.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.status == StatusRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.status = StatusRunning
	o.mu.Unlock()

	o.logger.Info("orchestrator started",
		"max_concurrent", o.cfg.MaxConcurrent,
		"poll_interval", o.pollInterval)

	o.recoverInterrupted()

	if _, err := o.SweepOrphans(); err != nil {
		o.logger.Warn("startup orphan sweep failed", "error", err)
	}

	o.wg.Add(1)
	go o.mainLoop()

	if o.cfg.SweepInterval > 0 {
		o.wg.Add(1)
		go o.sweepLoop(o.cfg.SweepInterval)
	}
	return nil
}

// Stop cancels all in-flight attempts and waits for them to drain.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.status != StatusRunning {
		o.mu.Unlock()
		return
	}
	o.status = StatusStopped
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) mainLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.dispatch()
		}
	}
}

// dispatch admits queued tasks while free slots remain. The slot is
// acquired before the task is popped so admission order is preserved
// under contention.
func (o *Orchestrator) dispatch() {
	for {
		if !o.slots.TryAcquire(1) {
			return
		}
		taskID, ok := o.scheduler.Next()
		if !ok {
			o.slots.Release(1)
			return
		}

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer o.slots.Release(1)
			defer o.scheduler.MarkFinished(taskID)
			o.runTask(taskID)
		}()
	}
}

// recoverInterrupted reconciles persisted state after a crash or kill.
// Attempts left non-terminal by a previous process are finished as
// interrupted, which also frees their worktrees for the orphan sweep
// and their tasks for a new attempt. InProgress tasks go back to Todo
// so Resume can pick them up.
func (o *Orchestrator) recoverInterrupted() {
	n, err := o.store.FinishStaleAttempts(task.OutcomeInterrupted)
	if err != nil {
		o.logger.Error("recover interrupted attempts", "error", err)
	} else if n > 0 {
		o.logger.Warn("finished attempts interrupted by a previous run", "count", n)
	}

	tasks, err := o.store.ListTasks()
	if err != nil {
		o.logger.Error("list tasks for recovery", "error", err)
		return
	}
	for _, t := range tasks {
		if t.State != task.StateInProgress {
			continue
		}
		if err := t.Transition(task.StateTodo); err != nil {
			o.logger.Error("recover task", "task_id", t.ID, "error", err)
			continue
		}
		if err := o.store.SaveTask(t); err != nil {
			o.logger.Error("save recovered task", "task_id", t.ID, "error", err)
			continue
		}
		o.logger.Warn("task interrupted by a previous run, requeued", "task_id", t.ID)
		o.publishState(t.ID, task.StateInProgress, task.StateTodo)
	}
}

// Admit persists a task and queues it for execution.
func (o *Orchestrator) Admit(t *task.Task) error {
	if _, err := executor.Parse(t.Variant); err != nil {
		return err
	}
	if err := o.store.SaveTask(t); err != nil {
		return err
	}
	o.scheduler.Enqueue(t.ID)
	o.logger.Info("task admitted", "task_id", t.ID, "variant", t.Variant)
	return nil
}

// Resume re-queues persisted Todo tasks. Tasks a previous process left
// InProgress are already back in Todo by the time this runs: Start's
// recovery pass moves them before the admission loop begins.
func (o *Orchestrator) Resume() error {
	tasks, err := o.store.ListTasks()
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.State == task.StateTodo {
			o.scheduler.Enqueue(t.ID)
		}
	}
	return nil
}

// Cancel requests cancellation of a task. A running attempt gets its
// process group terminated and the slot drains once the process
// confirms exit; a queued task is cancelled immediately. At most one
// cancellation is outstanding per attempt.
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	cancelAttempt, running := o.cancels[taskID]
	if running {
		delete(o.cancels, taskID)
	}
	o.mu.Unlock()

	if running {
		o.logger.Info("cancelling running attempt", "task_id", taskID)
		cancelAttempt()
		return nil
	}

	t, err := o.store.LoadTask(taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal(t.State) {
		return droverr.New(droverr.CodeTaskInvalidState,
			fmt.Sprintf("task %s is already %s", taskID, t.State))
	}

	o.scheduler.Remove(taskID)
	from := t.State
	if err := t.Transition(task.StateCancelled); err != nil {
		return err
	}
	if err := o.store.SaveTask(t); err != nil {
		return err
	}
	o.publishState(t.ID, from, task.StateCancelled)
	return nil
}

// Approve moves a reviewed task to Done.
func (o *Orchestrator) Approve(taskID string) error {
	t, err := o.store.LoadTask(taskID)
	if err != nil {
		return err
	}
	from := t.State
	if err := t.Transition(task.StateDone); err != nil {
		return err
	}
	if err := o.store.SaveTask(t); err != nil {
		return err
	}
	o.publishState(t.ID, from, task.StateDone)
	return nil
}

// Reiterate sends a reviewed task back for another attempt.
func (o *Orchestrator) Reiterate(taskID string) error {
	t, err := o.store.LoadTask(taskID)
	if err != nil {
		return err
	}
	if t.State != task.StateInReview {
		return droverr.New(droverr.CodeTaskInvalidState,
			fmt.Sprintf("task %s is %s, not in review", taskID, t.State))
	}
	o.scheduler.Enqueue(taskID)
	return nil
}

// Snapshot returns the current orchestrator state.
func (o *Orchestrator) Snapshot() *Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return &Snapshot{
		Status:        o.status,
		ActiveCount:   o.scheduler.RunningCount(),
		MaxConcurrent: o.cfg.MaxConcurrent,
		QueueLength:   o.scheduler.QueueLength(),
		FinishedCount: o.scheduler.FinishedCount(),
		RunningTasks:  o.scheduler.RunningTasks(),
	}
}

// Wait blocks until the queue drains and all attempts finish.
func (o *Orchestrator) Wait() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if o.scheduler.IsIdle() {
				return
			}
		}
	}
}

func (o *Orchestrator) publishState(taskID string, from, to task.State) {
	o.publisher.Publish(events.NewEvent(events.EventState, taskID, events.StateChange{
		From: string(from),
		To:   string(to),
	}))
}
