package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *Context) {
	t.Helper()
	repo := setupTestRepo(t)
	ctx, err := NewContext(repo)
	require.NoError(t, err)
	return NewManager(ctx, opts...), ctx
}

func TestAcquireCreatesIsolatedWorktree(t *testing.T) {
	m, ctx := newTestManager(t)
	base, err := ctx.CurrentBranch()
	require.NoError(t, err)

	wt, err := m.Acquire("a1b2c3d4", base)
	require.NoError(t, err)

	assert.DirExists(t, wt.Path)
	assert.Equal(t, "drover/attempt-a1b2c3d4", wt.Branch)
	assert.Equal(t, "a1b2c3d4", wt.AttemptID)
	assert.True(t, ctx.RefExists(wt.Branch))
}

func TestAcquirePathsAreUniquePerAttempt(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt1, err := m.Acquire("attempt-one", base)
	require.NoError(t, err)
	wt2, err := m.Acquire("attempt-two", base)
	require.NoError(t, err)

	assert.NotEqual(t, wt1.Path, wt2.Path)
	assert.NotEqual(t, wt1.Branch, wt2.Branch)
}

func TestAcquireIsolatesUncommittedChanges(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt1, err := m.Acquire("one", base)
	require.NoError(t, err)
	wt2, err := m.Acquire("two", base)
	require.NoError(t, err)

	// A change in one worktree must not appear in the other.
	require.NoError(t, os.WriteFile(filepath.Join(wt1.Path, "scratch.txt"), []byte("wip"), 0o644))
	assert.NoFileExists(t, filepath.Join(wt2.Path, "scratch.txt"))
}

func TestAcquireInvalidBaseRollsBack(t *testing.T) {
	m, _ := newTestManager(t)

	wt, err := m.Acquire("badbase", "no-such-ref")
	require.Error(t, err)
	assert.Nil(t, wt)

	// Nothing left behind; a retry with a good base succeeds.
	_, ctxErr := os.Stat(m.PathFor("badbase"))
	assert.True(t, os.IsNotExist(ctxErr))
}

func TestReleaseRemovesWorktreeAndBranch(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("rel1", base)
	require.NoError(t, err)

	_, err = m.Release(wt, false)
	require.NoError(t, err)

	assert.NoDirExists(t, wt.Path)
	assert.False(t, ctx.RefExists(wt.Branch))
}

func TestReleaseOnSuccessReturnsDiffArtifact(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("diff1", base)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(wt.Path, "README.md"), []byte("# Changed\n"), 0o644))

	diff, err := m.Release(wt, true)
	require.NoError(t, err)
	assert.Contains(t, diff, "README.md")
	assert.Contains(t, diff, "+# Changed")
	assert.NoDirExists(t, wt.Path)
}

func TestReleaseKeepsWorktreeWhenCleanupDisabled(t *testing.T) {
	m, ctx := newTestManager(t, WithCleanup(false))
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("keep1", base)
	require.NoError(t, err)

	_, err = m.Release(wt, false)
	require.NoError(t, err)
	assert.DirExists(t, wt.Path)
}

func TestReleaseKeepsSuccessfulWorktreeForReview(t *testing.T) {
	m, ctx := newTestManager(t, WithKeepOnSuccess(true))
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("review1", base)
	require.NoError(t, err)

	_, err = m.Release(wt, true)
	require.NoError(t, err)
	assert.DirExists(t, wt.Path)
}

func TestSweepOrphansRemovesStaleWorktrees(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("stale1", base)
	require.NoError(t, err)

	// Age the directory past the threshold.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(wt.Path, old, old))

	swept, err := m.SweepOrphans(time.Hour, func(string) bool { return false })
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "stale1", swept[0].AttemptID)
	assert.NoDirExists(t, wt.Path)
}

func TestSweepOrphansSkipsLiveAttempts(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("live1", base)
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(wt.Path, old, old))

	swept, err := m.SweepOrphans(time.Hour, func(id string) bool { return id == "live1" })
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.DirExists(t, wt.Path)
}

func TestSweepOrphansRespectsMaxAge(t *testing.T) {
	m, ctx := newTestManager(t)
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("young1", base)
	require.NoError(t, err)

	swept, err := m.SweepOrphans(time.Hour, func(string) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.DirExists(t, wt.Path)
}

func TestSweepOrphansNoopWhenCleanupDisabled(t *testing.T) {
	m, ctx := newTestManager(t, WithCleanup(false))
	base, _ := ctx.CurrentBranch()

	wt, err := m.Acquire("debug1", base)
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(wt.Path, old, old))

	swept, err := m.SweepOrphans(time.Hour, func(string) bool { return false })
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.DirExists(t, wt.Path)
}
