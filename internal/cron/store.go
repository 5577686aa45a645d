package cron

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	schedule    TEXT NOT NULL,
	message     TEXT NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	channel     TEXT NOT NULL DEFAULT '',
	chat_id     TEXT NOT NULL DEFAULT '',
	next_run    TIMESTAMP,
	last_run    TIMESTAMP,
	last_status TEXT NOT NULL DEFAULT '',
	last_error  TEXT NOT NULL DEFAULT '',
	run_count   INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
`

// busyRetry bounds write retries on a transient SQLITE_BUSY/LOCKED
// condition: 50ms base delay doubling up to 500ms.
var busyRetry = retry.Config{
	MaxAttempts: 5,
	Delay:       50 * time.Millisecond,
	Backoff:     true,
	MaxDelay:    500 * time.Millisecond,
	Retryable:   isSQLiteBusy,
}

// Store persists jobs in a SQLite database.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewStore opens (creating if needed) the job database at path.
func NewStore(path string, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadJobs returns every persisted job.
func (s *Store) LoadJobs(ctx context.Context) ([]agent.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, schedule, message, enabled, channel, chat_id,
		       next_run, last_run, last_status, last_error,
		       run_count, error_count, created_at, updated_at
		FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []agent.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveJob upserts a job, retrying on transient busy errors.
func (s *Store) SaveJob(ctx context.Context, job agent.Job) error {
	err := retry.Do(ctx, busyRetry, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, name, schedule, message, enabled, channel, chat_id,
				next_run, last_run, last_status, last_error, run_count, error_count,
				created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				schedule = excluded.schedule,
				message = excluded.message,
				enabled = excluded.enabled,
				channel = excluded.channel,
				chat_id = excluded.chat_id,
				next_run = excluded.next_run,
				last_run = excluded.last_run,
				last_status = excluded.last_status,
				last_error = excluded.last_error,
				run_count = excluded.run_count,
				error_count = excluded.error_count,
				updated_at = excluded.updated_at`,
			job.ID, job.Name, job.Schedule, job.Message, job.Enabled,
			job.Channel, job.ChatID, job.NextRun, job.LastRun,
			string(job.LastStatus), job.LastError, job.RunCount, job.ErrorCount,
			job.CreatedAt, job.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job, retrying on transient busy errors.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	err := retry.Do(ctx, busyRetry, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	return nil
}

func scanJob(rows *sql.Rows) (agent.Job, error) {
	var job agent.Job
	var status string
	var nextRun, lastRun sql.NullTime
	err := rows.Scan(&job.ID, &job.Name, &job.Schedule, &job.Message,
		&job.Enabled, &job.Channel, &job.ChatID, &nextRun, &lastRun,
		&status, &job.LastError, &job.RunCount, &job.ErrorCount,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return agent.Job{}, fmt.Errorf("failed to scan job row: %w", err)
	}
	job.LastStatus = agent.JobStatus(status)
	if nextRun.Valid {
		t := nextRun.Time
		job.NextRun = &t
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRun = &t
	}
	return job, nil
}

// isSQLiteBusy reports whether err is a SQLITE_BUSY (5) or SQLITE_LOCKED
// (6) error. Matched on the message to keep driver types out of callers.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
