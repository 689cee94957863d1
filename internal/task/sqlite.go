package task

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	droverr "github.com/kvasey/drover/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	variant     TEXT NOT NULL,
	state       TEXT NOT NULL,
	retries     INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id             TEXT PRIMARY KEY,
	task_id        TEXT NOT NULL REFERENCES tasks(id),
	worktree_path  TEXT NOT NULL DEFAULT '',
	branch         TEXT NOT NULL DEFAULT '',
	command        TEXT NOT NULL DEFAULT '',
	tier           TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL DEFAULT '',
	exit_code      INTEGER NOT NULL DEFAULT 0,
	log            TEXT NOT NULL DEFAULT '',
	fallback_count INTEGER NOT NULL DEFAULT 0,
	terminal       INTEGER NOT NULL DEFAULT 0,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER NOT NULL DEFAULT 0
);

-- Safety net: at most one active (non-terminal) attempt per task.
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active
	ON attempts(task_id) WHERE terminal = 0;
`

// SQLiteStore is the default Store, backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the store at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Serialized writes; SQLite handles one writer at a time anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SaveTask inserts or updates a task.
func (s *SQLiteStore) SaveTask(t *Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, project_id, title, description, variant, state, retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			variant = excluded.variant,
			state = excluded.state,
			retries = excluded.retries,
			updated_at = excluded.updated_at`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Variant, string(t.State),
		t.Retries, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// LoadTask loads a task by ID.
func (s *SQLiteStore) LoadTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, description, variant, state, retries, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, droverr.New(droverr.CodeTaskNotFound, "task "+id+" not found")
	}
	return t, err
}

// ListTasks returns all tasks in creation order.
func (s *SQLiteStore) ListTasks() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, description, variant, state, retries, created_at, updated_at
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveAttempt inserts or updates an attempt. Inserting a second active
// attempt for the same task violates the attempts_one_active index and
// is surfaced as ATTEMPT_ACTIVE. Update-then-insert rather than an
// upsert, so updating an active attempt never collides with the
// partial index it already occupies.
func (s *SQLiteStore) SaveAttempt(a *Attempt) error {
	terminal := 0
	if a.Terminal {
		terminal = 1
	}

	res, err := s.db.Exec(`
		UPDATE attempts SET
			worktree_path = ?, branch = ?, command = ?, tier = ?, outcome = ?,
			exit_code = ?, log = ?, fallback_count = ?, terminal = ?, ended_at = ?
		WHERE id = ?`,
		a.WorktreePath, a.Branch, a.Command, a.Tier, string(a.Outcome),
		a.ExitCode, a.Log, a.FallbackCount, terminal, endedAtMilli(a), a.ID)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.Exec(`
		INSERT INTO attempts (id, task_id, worktree_path, branch, command, tier, outcome,
			exit_code, log, fallback_count, terminal, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TaskID, a.WorktreePath, a.Branch, a.Command, a.Tier, string(a.Outcome),
		a.ExitCode, a.Log, a.FallbackCount, terminal,
		a.StartedAt.UnixMilli(), endedAtMilli(a))
	if err != nil {
		if strings.Contains(err.Error(), "attempts_one_active") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return droverr.Wrap(droverr.CodeAttemptActive,
				"task "+a.TaskID+" already has an active attempt", err)
		}
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

// LoadAttempt loads an attempt by ID.
func (s *SQLiteStore) LoadAttempt(id string) (*Attempt, error) {
	row := s.db.QueryRow(attemptSelect+` WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, droverr.New(droverr.CodeTaskNotFound, "attempt "+id+" not found")
	}
	return a, err
}

// AttemptsForTask returns a task's attempts in start order.
func (s *SQLiteStore) AttemptsForTask(taskID string) ([]*Attempt, error) {
	rows, err := s.db.Query(attemptSelect+` WHERE task_id = ? ORDER BY started_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("attempts for %s: %w", taskID, err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// FinishStaleAttempts marks all non-terminal attempts terminal with the
// given outcome. Called once at startup, before any new attempt exists,
// so the rows it touches are all leftovers of a crashed process.
func (s *SQLiteStore) FinishStaleAttempts(outcome Outcome) (int, error) {
	res, err := s.db.Exec(`
		UPDATE attempts SET terminal = 1, outcome = ?, ended_at = ?
		WHERE terminal = 0`,
		string(outcome), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("finish stale attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finish stale attempts: %w", err)
	}
	return int(n), nil
}

// IsAttemptLive reports whether the attempt exists and is not terminal.
func (s *SQLiteStore) IsAttemptLive(attemptID string) bool {
	var terminal int
	err := s.db.QueryRow(`SELECT terminal FROM attempts WHERE id = ?`, attemptID).Scan(&terminal)
	if err != nil {
		return false
	}
	return terminal == 0
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const attemptSelect = `
	SELECT id, task_id, worktree_path, branch, command, tier, outcome,
		exit_code, log, fallback_count, terminal, started_at, ended_at
	FROM attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var state string
	var created, updated int64
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Variant,
		&state, &t.Retries, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.State = State(state)
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var outcome string
	var terminal int
	var started, ended int64
	err := row.Scan(&a.ID, &a.TaskID, &a.WorktreePath, &a.Branch, &a.Command, &a.Tier,
		&outcome, &a.ExitCode, &a.Log, &a.FallbackCount, &terminal, &started, &ended)
	if err != nil {
		return nil, err
	}
	a.Outcome = Outcome(outcome)
	a.Terminal = terminal == 1
	a.StartedAt = time.UnixMilli(started)
	if ended > 0 {
		a.EndedAt = time.UnixMilli(ended)
	}
	return &a, nil
}

func endedAtMilli(a *Attempt) int64 {
	if a.EndedAt.IsZero() {
		return 0
	}
	return a.EndedAt.UnixMilli()
}
