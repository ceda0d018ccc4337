package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/orrn/printdesk/internal/core"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
	ErrNoSetting    = errors.New("setting not found")
)

// Store is the SQLite job and user store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(database *sql.DB) *Store {
	return &Store{db: database, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*core.Job, error) {
	var (
		j          core.Job
		cancelReq  int
		externalID sql.NullInt64
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&j.ID, &j.UserID, &j.Filename, &j.FilePath, &j.Papers, &j.Copies, &j.ColorMode, &j.Duplex,
		&j.Status, &cancelReq, &externalID, &j.ErrorMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	j.CancelRequested = cancelReq != 0
	if externalID.Valid {
		j.ExternalID = int(externalID.Int64)
	}
	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &j, nil
}

func scanSummary(row rowScanner) (core.JobSummary, error) {
	var (
		sum       core.JobSummary
		createdAt string
	)
	if err := row.Scan(&sum.ID, &sum.UserID, &sum.Filename, &sum.Status, &sum.Papers, &createdAt); err != nil {
		return sum, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return sum, fmt.Errorf("failed to parse created_at: %w", err)
	}
	sum.CreatedAt = t
	return sum, nil
}

func (s *Store) Insert(ctx context.Context, job *core.Job) (int64, error) {
	createdAt := job.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	result, err := s.db.ExecContext(ctx, InsertJob,
		job.UserID, job.Filename, job.FilePath, job.Papers, job.Copies, job.ColorMode, job.Duplex,
		job.Status, boolToInt(job.CancelRequested), formatTime(createdAt), formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job id: %w", err)
	}
	return id, nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status core.JobStatus, errMsg string) error {
	return s.exec(ctx, "update job status", UpdateJobStatus, status, errMsg, formatTime(s.now()), id)
}

func (s *Store) SetCancelRequested(ctx context.Context, id int64) error {
	return s.exec(ctx, "set cancel requested", SetJobCancelRequested, formatTime(s.now()), id)
}

func (s *Store) SetExternalID(ctx context.Context, id int64, externalID int) error {
	return s.exec(ctx, "set external id", SetJobExternalID, externalID, formatTime(s.now()), id)
}

func (s *Store) Get(ctx context.Context, id int64) (*core.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *Store) SumPapers(ctx context.Context, userID int64, statuses []core.JobStatus, from, to time.Time) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	args := []any{userID, formatTime(from), formatTime(to)}
	for _, st := range statuses {
		args = append(args, st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(SumJobPapers, placeholders), args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum papers: %w", err)
	}
	return total, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*core.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) querySummaries(ctx context.Context, query string, args ...any) ([]core.JobSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []core.JobSummary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, sum)
	}
	return jobs, rows.Err()
}

func (s *Store) ListPending(ctx context.Context) ([]*core.Job, error) {
	return s.queryJobs(ctx, ListPendingJobs)
}

// ListByUser returns the user's jobs, newest first.
func (s *Store) ListByUser(ctx context.Context, userID int64) ([]core.JobSummary, error) {
	return s.querySummaries(ctx, ListJobsByUser, userID)
}

// ListAll returns every job, newest first.
func (s *Store) ListAll(ctx context.Context) ([]core.JobSummary, error) {
	return s.querySummaries(ctx, ListAllJobs)
}

// ListCreatedBetween returns jobs created in [from, to), oldest first.
func (s *Store) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*core.Job, error) {
	return s.queryJobs(ctx, ListJobsCreatedBetween, formatTime(from), formatTime(to))
}

// ListPurgeable returns finished jobs last updated before the cutoff whose
// upload is still on disk.
func (s *Store) ListPurgeable(ctx context.Context, before time.Time) ([]*core.Job, error) {
	return s.queryJobs(ctx, ListPurgeableJobs, formatTime(before))
}

func (s *Store) ClearFilePath(ctx context.Context, id int64) error {
	return s.exec(ctx, "clear file path", ClearJobFilePath, id)
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u          User
		mustChange int
		createdAt  string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &mustChange, &createdAt); err != nil {
		return nil, err
	}
	u.MustChangePassword = mustChange != 0
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	u.CreatedAt = t
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	result, err := s.db.ExecContext(ctx, InsertUser,
		u.Username, u.PasswordHash, u.Role, boolToInt(u.MustChangePassword), formatTime(u.CreatedAt))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user id: %w", err)
	}
	u.ID = id
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, GetUserByUsername, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, GetUserByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error {
	result, err := s.db.ExecContext(ctx, UpdateUserPassword, hash, boolToInt(mustChange), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) HasAdmin(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, CountAdmins).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to count admins: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.QueryRowContext(ctx, GetSetting, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoSetting
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, UpsertSetting, key, value, formatTime(s.now())); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
