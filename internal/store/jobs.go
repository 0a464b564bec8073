package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"missionctl/internal/domain"

	"github.com/google/uuid"
)

var errJobNotFound = errors.New("job not found")

const jobColumns = `id, kind, message_id, conversation_id, status, priority,
	attempts, created_at, started_at, finished_at, error`

func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.ConversationID == "" {
		job.ConversationID = domain.DefaultConversationID
	}
	if job.Status == "" {
		job.Status = domain.JobQueued
	}
	if job.Priority == 0 {
		job.Priority = domain.DefaultJobPriority
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.MessageID, job.ConversationID,
		string(job.Status), job.Priority, job.Attempts, job.CreatedAt,
		job.StartedAt, job.FinishedAt, job.Error,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if s.bus != nil {
		s.bus.PublishJob(*job)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(domain.JobRunning), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) MarkJobDone(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?`,
		string(domain.JobDone), time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) MarkJobFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	return s.finishJob(ctx, id, domain.JobFailed, attempts, errMsg)
}

func (s *SQLiteStore) MarkJobDeadletter(ctx context.Context, id string, attempts int, errMsg string) error {
	return s.finishJob(ctx, id, domain.JobDeadletter, attempts, errMsg)
}

func (s *SQLiteStore) finishJob(ctx context.Context, id string, status domain.JobStatus, attempts int, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), attempts, errMsg, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) FailedJobs(ctx context.Context, maxAttempts int) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND attempts < ?
		 ORDER BY created_at ASC`,
		string(domain.JobFailed), maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) CountJobs(ctx context.Context, status domain.JobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var kind, status string
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&j.ID, &kind, &j.MessageID, &j.ConversationID, &status, &j.Priority,
		&j.Attempts, &j.CreatedAt, &startedAt, &finishedAt, &j.Error,
	)
	if err != nil {
		return nil, err
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}
