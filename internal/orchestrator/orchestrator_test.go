package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasey/drover/internal/config"
	droverr "github.com/kvasey/drover/internal/errors"
	"github.com/kvasey/drover/internal/events"
	"github.com/kvasey/drover/internal/executor"
	"github.com/kvasey/drover/internal/git"
	"github.com/kvasey/drover/internal/proc"
	"github.com/kvasey/drover/internal/resolve"
	"github.com/kvasey/drover/internal/task"
)

const successStream = `{"type":"system","subtype":"init","session_id":"sess-1"}
{"type":"result","subtype":"success","is_error":false,"result":"done"}`

func setupTestRepo(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = tmpDir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	run("init")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test User")

	readme := filepath.Join(tmpDir, "README.md")
	require.NoError(t, os.WriteFile(readme, []byte("# Test\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial commit")

	return tmpDir
}

// fakeRunner scripts process results per call without spawning anything.
type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	specs   []proc.Spec
	handler func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return f.handler(ctx, call, spec, onLine)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeedRun(_ context.Context, _ int, _ proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
	for _, line := range splitLines(successStream) {
		onLine(line)
	}
	return proc.Result{ExitCode: 0, Duration: time.Millisecond}, nil
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

type testEnv struct {
	orch   *Orchestrator
	store  *task.SQLiteStore
	pub    *events.MemoryPublisher
	runner *fakeRunner
	cfg    *config.Config
	wtDir  string
}

func newTestEnv(t *testing.T, mutate func(*config.Config), runner *fakeRunner) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.MaxConcurrent = 4
	cfg.WorktreeDir = filepath.Join(t.TempDir(), "worktrees")
	if mutate != nil {
		mutate(cfg)
	}

	repo := setupTestRepo(t)
	gitCtx, err := git.NewContext(repo)
	require.NoError(t, err)
	manager := git.NewManager(gitCtx,
		git.WithWorktreesDir(cfg.WorktreeDir),
		git.WithCleanup(cfg.CleanupWorktrees))

	store, err := task.OpenSQLite(filepath.Join(t.TempDir(), "drover.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := events.NewMemoryPublisher()
	resolver := resolve.New(
		resolve.WithLookPath(func(string) (string, error) { return "/usr/bin/assistant", nil }),
		resolve.WithFileExists(func(string) bool { return false }),
	)

	orch := New(cfg, store, manager, executor.NewRegistry(cfg, executor.WithHomeDir(t.TempDir())),
		WithRunner(runner),
		WithResolver(resolver),
		WithPublisher(pub),
		WithPollInterval(10*time.Millisecond))

	return &testEnv{orch: orch, store: store, pub: pub, runner: runner, cfg: cfg, wtDir: cfg.WorktreeDir}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.orch.Start(context.Background()))
	t.Cleanup(e.orch.Stop)
}

func (e *testEnv) admit(t *testing.T, variant string) *task.Task {
	t.Helper()
	tk := task.New("proj", "do the thing", variant)
	require.NoError(t, e.orch.Admit(tk))
	return tk
}

func waitForState(t *testing.T, store task.Store, taskID string, want task.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		tk, err := store.LoadTask(taskID)
		return err == nil && tk.State == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskID, want)
}

func TestPipelineSuccess(t *testing.T) {
	env := newTestEnv(t, nil, &fakeRunner{handler: succeedRun})

	reviews := env.pub.Subscribe(events.GlobalTaskID)
	tk := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, tk.ID, task.StateInReview)

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	att := attempts[0]
	assert.True(t, att.Terminal)
	assert.Equal(t, task.OutcomeSucceeded, att.Outcome)
	assert.Equal(t, "local", att.Tier)
	assert.Equal(t, "/usr/bin/assistant", att.Command)
	assert.Zero(t, att.FallbackCount)
	assert.Contains(t, att.Log, `"type":"result"`)

	// Worktree cleaned up after release.
	assert.NoDirExists(t, att.WorktreePath)

	sawReview := false
	deadline := time.After(2 * time.Second)
	for !sawReview {
		select {
		case ev := <-reviews:
			if ev.Type == events.EventReviewReady {
				sawReview = true
			}
		case <-deadline:
			t.Fatal("no review_ready event")
		}
	}
}

func TestSlotCapAndFIFOAdmission(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return proc.Result{ExitCode: -1}, ctx.Err()
		}
		return succeedRun(ctx, call, spec, onLine)
	}}
	env := newTestEnv(t, func(c *config.Config) { c.MaxConcurrent = 1 }, runner)

	first := env.admit(t, "claude")
	second := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, first.ID, task.StateInProgress)

	// Second task must stay queued while the single slot is held.
	time.Sleep(100 * time.Millisecond)
	tk, err := env.store.LoadTask(second.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateTodo, tk.State)
	assert.Equal(t, 1, env.orch.Snapshot().ActiveCount)

	close(release)
	waitForState(t, env.store, first.ID, task.StateInReview)
	waitForState(t, env.store, second.ID, task.StateInReview)
}

func TestSameTaskAttemptsAreSequential(t *testing.T) {
	env := newTestEnv(t, nil, &fakeRunner{handler: succeedRun})

	tk := env.admit(t, "claude")
	env.start(t)
	waitForState(t, env.store, tk.ID, task.StateInReview)

	require.NoError(t, env.orch.Reiterate(tk.ID))
	require.Eventually(t, func() bool {
		attempts, err := env.store.AttemptsForTask(tk.ID)
		return err == nil && len(attempts) == 2 && attempts[1].Terminal
	}, 5*time.Second, 10*time.Millisecond)

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	for _, att := range attempts {
		assert.True(t, att.Terminal)
	}
	waitForState(t, env.store, tk.ID, task.StateInReview)
}

func TestLauncherFailureFallsBackOnce(t *testing.T) {
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		if call == 1 {
			return proc.Result{ExitCode: 127, Duration: time.Millisecond}, nil
		}
		return succeedRun(ctx, call, spec, onLine)
	}}
	env := newTestEnv(t, nil, runner)

	eventCh := env.pub.Subscribe(events.GlobalTaskID)
	tk := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, tk.ID, task.StateInReview)
	assert.Equal(t, 2, env.runner.callCount())

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	att := attempts[0]
	assert.Equal(t, task.OutcomeSucceeded, att.Outcome)
	assert.Equal(t, 1, att.FallbackCount)
	assert.Equal(t, string(resolve.TierRemote), att.Tier)
	assert.Equal(t, "npx", att.Command)

	sawFallback := false
	deadline := time.After(2 * time.Second)
	for !sawFallback {
		select {
		case ev := <-eventCh:
			if ev.Type == events.EventFallback {
				data := ev.Data.(events.FallbackData)
				assert.Equal(t, string(resolve.TierLocal), data.FromTier)
				assert.Equal(t, string(resolve.TierRemote), data.ToTier)
				sawFallback = true
			}
		case <-deadline:
			t.Fatal("no fallback event")
		}
	}
}

func TestResolutionExhaustedAfterBothTiersFail(t *testing.T) {
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		return proc.Result{ExitCode: 127, Duration: time.Millisecond}, nil
	}}
	env := newTestEnv(t, nil, runner)

	tk := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, tk.ID, task.StateFailed)
	assert.Equal(t, 2, env.runner.callCount(), "exactly one fallback retry")

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, task.OutcomeFailed, attempts[0].Outcome)
	assert.Equal(t, 1, attempts[0].FallbackCount)
}

func TestCancelRunningAttempt(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return proc.Result{ExitCode: -1}, ctx.Err()
	}}
	env := newTestEnv(t, nil, runner)

	tk := env.admit(t, "claude")
	env.start(t)

	<-started
	require.NoError(t, env.orch.Cancel(tk.ID))
	waitForState(t, env.store, tk.ID, task.StateCancelled)

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, task.OutcomeCancelled, attempts[0].Outcome)
	assert.True(t, attempts[0].Terminal)

	// Worktree released on cancellation.
	assert.NoDirExists(t, attempts[0].WorktreePath)

	// Cancelling a terminal task is rejected.
	err = env.orch.Cancel(tk.ID)
	require.Error(t, err)
	assert.True(t, droverr.Is(err, droverr.CodeTaskInvalidState))
}

func TestCancelQueuedTask(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return proc.Result{ExitCode: -1}, ctx.Err()
		}
		return succeedRun(ctx, call, spec, onLine)
	}}
	env := newTestEnv(t, func(c *config.Config) { c.MaxConcurrent = 1 }, runner)

	first := env.admit(t, "claude")
	second := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, first.ID, task.StateInProgress)
	require.NoError(t, env.orch.Cancel(second.ID))
	waitForState(t, env.store, second.ID, task.StateCancelled)

	// Cancelled while queued: no attempt ever ran.
	attempts, err := env.store.AttemptsForTask(second.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	close(release)
	waitForState(t, env.store, first.ID, task.StateInReview)
}

func TestAcquireFailureRequeuesThenFails(t *testing.T) {
	runner := &fakeRunner{handler: succeedRun}
	env := newTestEnv(t, func(c *config.Config) { c.AcquireRetries = 1 }, runner)

	// Replace the worktree manager with one whose git always fails.
	gitCtx, err := git.NewContext(t.TempDir(), git.WithRunner(failingGit{}))
	require.NoError(t, err)
	env.orch.worktrees = git.NewManager(gitCtx, git.WithWorktreesDir(env.wtDir))

	tk := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, tk.ID, task.StateFailed)

	got, err := env.store.LoadTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Retries, "one requeue plus the final failure")
	assert.Zero(t, env.runner.callCount(), "no process spawned without a worktree")
}

type failingGit struct{}

func (failingGit) Git(string, ...string) (string, error) {
	return "", errors.New("disk full")
}

func TestStartupRecoveryReclaimsInterruptedWork(t *testing.T) {
	env := newTestEnv(t, nil, &fakeRunner{handler: succeedRun})

	// Leftovers of a process killed mid-attempt: an InProgress task, a
	// non-terminal attempt, and its worktree still on disk.
	tk := task.New("proj", "interrupted work", "claude")
	require.NoError(t, tk.Transition(task.StateInProgress))
	require.NoError(t, env.store.SaveTask(tk))

	att := task.NewAttempt(tk.ID)
	wt, err := env.orch.worktrees.Acquire(att.ID, "HEAD")
	require.NoError(t, err)
	att.WorktreePath = wt.Path
	att.Branch = wt.Branch
	require.NoError(t, env.store.SaveAttempt(att))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(wt.Path, old, old))

	env.start(t)

	// Startup finished the stale attempt and the sweep reclaimed its
	// worktree.
	got, err := env.store.LoadAttempt(att.ID)
	require.NoError(t, err)
	assert.True(t, got.Terminal)
	assert.Equal(t, task.OutcomeInterrupted, got.Outcome)
	assert.NoDirExists(t, wt.Path)

	recovered, err := env.store.LoadTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateTodo, recovered.State)

	// The task is runnable again: a fresh attempt is not blocked by the
	// interrupted one.
	require.NoError(t, env.orch.Resume())
	waitForState(t, env.store, tk.ID, task.StateInReview)

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, task.OutcomeSucceeded, attempts[1].Outcome)
}

func TestTimedOutAttemptKeepsWorktreeUntilSweep(t *testing.T) {
	runner := &fakeRunner{handler: func(ctx context.Context, call int, spec proc.Spec, onLine proc.LineFunc) (proc.Result, error) {
		return proc.Result{ExitCode: -1, TimedOut: true, Duration: time.Second},
			droverr.New(droverr.CodeProcessTimedOut, "attempt timed out")
	}}
	env := newTestEnv(t, nil, runner)

	tk := env.admit(t, "claude")
	env.start(t)

	waitForState(t, env.store, tk.ID, task.StateFailed)

	attempts, err := env.store.AttemptsForTask(tk.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	att := attempts[0]
	assert.Equal(t, task.OutcomeTimedOut, att.Outcome)
	assert.True(t, att.Terminal)
	assert.Equal(t, 1, env.runner.callCount(), "timeout is not a launcher failure")

	// The worktree stays for inspection until the age sweep takes it.
	assert.DirExists(t, att.WorktreePath)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(att.WorktreePath, old, old))
	swept, err := env.orch.SweepOrphans()
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.NoDirExists(t, att.WorktreePath)
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t, nil, &fakeRunner{handler: succeedRun})

	tk := env.admit(t, "claude")
	env.start(t)
	waitForState(t, env.store, tk.ID, task.StateInReview)

	require.NoError(t, env.orch.Approve(tk.ID))
	got, err := env.store.LoadTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StateDone, got.State)

	// Done is terminal.
	require.Error(t, env.orch.Reiterate(tk.ID))
}

func TestAdmitRejectsUnknownVariant(t *testing.T) {
	env := newTestEnv(t, nil, &fakeRunner{handler: succeedRun})

	tk := task.New("proj", "title", "cursor")
	err := env.orch.Admit(tk)
	require.Error(t, err)
	assert.True(t, droverr.Is(err, droverr.CodeConfigInvalid))
}
