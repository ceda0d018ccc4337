package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	MinCopies = 1
	MaxCopies = 50
)

type OrphanPolicy string

const (
	// OrphanReview leaves jobs found PRINTING at startup untouched for an
	// operator to reconcile.
	OrphanReview OrphanPolicy = "review"
	// OrphanFail moves them to FAILED.
	OrphanFail OrphanPolicy = "fail"
)

const orphanedMessage = "orphaned by restart"

type Config struct {
	PrinterName  string
	MonthlyQuota int
	Location     *time.Location
	PollInterval time.Duration
	JobTimeout   time.Duration
	OrphanPolicy OrphanPolicy
}

type SubmitRequest struct {
	Identity  Identity
	Filename  string
	Path      string
	Copies    int
	ColorMode ColorMode
	Duplex    DuplexMode
	Pages     int
}

type CancelOutcome string

const (
	CancelledQueued CancelOutcome = "cancelled"
	CancelRequested CancelOutcome = "cancel_requested"
)

// Service is the print-job lifecycle engine shared by request handlers and
// the print worker.
type Service struct {
	cfg      Config
	store    JobStore
	printer  PrinterService
	registry *Registry
	queue    *DispatchQueue
	quota    *QuotaAccountant
	notifier Notifier
	recorder Recorder
	logger   *slog.Logger

	// submitMu serializes the quota check with the insert so two concurrent
	// submissions cannot both fit into the same remaining quota.
	submitMu   sync.Mutex
	orphanMu   sync.Mutex
	orphans    map[int64]struct{}
	now        func() time.Time
	removeFile func(string) error
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.quota.now = now
	}
}

func NewService(store JobStore, printer PrinterService, cfg Config, opts ...Option) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = OrphanReview
	}

	s := &Service{
		cfg:        cfg,
		store:      store,
		printer:    printer,
		registry:   NewRegistry(),
		queue:      NewDispatchQueue(),
		quota:      NewQuotaAccountant(store, cfg.MonthlyQuota, cfg.Location),
		notifier:   nopNotifier{},
		recorder:   nopRecorder{},
		logger:     slog.Default(),
		now:        time.Now,
		removeFile: os.Remove,
		orphans:    make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Queue() *DispatchQueue {
	return s.queue
}

func (s *Service) Quota() *QuotaAccountant {
	return s.quota
}

// ValidateOptions checks print options in the order the submission path
// applies them.
func ValidateOptions(copies int, color ColorMode, duplex DuplexMode) error {
	if copies < MinCopies || copies > MaxCopies {
		return &ValidationError{Field: "copies", Message: "Invalid number of copies"}
	}
	if color != ColorModeMonochrome && color != ColorModeColor {
		return &ValidationError{Field: "color_mode", Message: "Invalid color mode"}
	}
	if duplex != DuplexOneSided && duplex != DuplexTwoSidedLong {
		return &ValidationError{Field: "sides", Message: "Invalid sides option"}
	}
	return nil
}

// Submit records a new job and queues it for printing. A rejected
// submission never leaves its uploaded file behind.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	job, err := s.submit(ctx, req)
	if err != nil {
		s.discardUpload(req.Path)
		return nil, err
	}
	return job, nil
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := ValidateOptions(req.Copies, req.ColorMode, req.Duplex); err != nil {
		return nil, err
	}
	if req.Pages < 1 {
		return nil, &ValidationError{Field: "file", Message: "Document has no pages"}
	}

	papers := Papers(req.Pages, req.Copies, req.Duplex)

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if err := s.quota.Check(ctx, req.Identity, papers); err != nil {
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			s.recorder.RecordQuotaRejected()
			s.logger.Info("submission rejected by quota",
				"user_id", req.Identity.UserID,
				"used", quotaErr.Used,
				"limit", quotaErr.Limit,
				"requested", papers)
		}
		return nil, err
	}

	now := s.now().UTC()
	job := &Job{
		UserID:    req.Identity.UserID,
		Status:    JobStatusQueued,
		Filename:  req.Filename,
		FilePath:  req.Path,
		Papers:    papers,
		Copies:    req.Copies,
		ColorMode: req.ColorMode,
		Duplex:    req.Duplex,
		CreatedAt: now,
		UpdatedAt: now,
	}

	id, err := s.store.Insert(ctx, job)
	if err != nil {
		return nil, persistErr("insert job", err)
	}
	job.ID = id

	if err := s.registry.Add(job); err != nil {
		return nil, fmt.Errorf("failed to register job %d: %w", id, err)
	}
	if err := s.queue.Push(id); err != nil {
		// The record stays QUEUED in the store and is picked up by the next Reload.
		s.logger.Warn("job recorded but not queued", "job_id", id, "error", err)
	}

	s.recorder.RecordSubmitted(papers)
	s.recorder.SetQueueDepth(s.queue.Len())
	s.notifier.NotifyJob(EventJobSubmitted, *job)
	s.logger.Info("job submitted",
		"job_id", id,
		"user_id", job.UserID,
		"papers", papers,
		"copies", job.Copies,
		"sides", job.Duplex)

	out := *job
	return &out, nil
}

func (s *Service) discardUpload(path string) {
	if path == "" {
		return
	}
	if err := s.removeFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove rejected upload", "path", path, "error", err)
	}
}

// JobStatus returns the live view of an active job, falling back to the
// durable record for jobs that finished before the last restart.
func (s *Service) JobStatus(ctx context.Context, id int64) (*Job, error) {
	if job, ok := s.registry.Get(id); ok {
		return &job, nil
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, persistErr("get job", err)
	}
	return job, nil
}

func (s *Service) ListUserJobs(ctx context.Context, userID int64) ([]JobSummary, error) {
	jobs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, persistErr("list user jobs", err)
	}
	return jobs, nil
}

func (s *Service) ListAllJobs(ctx context.Context) ([]JobSummary, error) {
	jobs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, persistErr("list jobs", err)
	}
	return jobs, nil
}

func (s *Service) MonthlyUsage(ctx context.Context, userID int64) (Usage, error) {
	used, err := s.quota.Usage(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used, Limit: s.quota.Limit()}, nil
}

// Cancel cancels a QUEUED job immediately, or flags a PRINTING job for the
// worker to cancel on its next poll.
func (s *Service) Cancel(ctx context.Context, id int64) (CancelOutcome, error) {
	var (
		outcome  CancelOutcome
		storeErr error
	)

	job, err := s.registry.Update(id, func(j *Job) error {
		switch j.Status {
		case JobStatusQueued:
			if err := s.store.SetCancelRequested(ctx, id); err != nil {
				return persistErr("set cancel requested", err)
			}
			j.CancelRequested = true
			j.UpdatedAt = s.now().UTC()
			if err := s.store.UpdateStatus(ctx, id, JobStatusCancelled, ""); err != nil {
				// Keep the recorded flag; the worker discards flagged jobs on dequeue.
				storeErr = persistErr("update status", err)
				return nil
			}
			j.Status = JobStatusCancelled
			outcome = CancelledQueued
		case JobStatusPrinting:
			if s.isOrphan(id) {
				return &StateConflictError{JobID: id, Status: j.Status, Orphaned: true}
			}
			if !j.CancelRequested {
				if err := s.store.SetCancelRequested(ctx, id); err != nil {
					return persistErr("set cancel requested", err)
				}
				j.CancelRequested = true
				j.UpdatedAt = s.now().UTC()
			}
			outcome = CancelRequested
		default:
			return &StateConflictError{JobID: id, Status: j.Status}
		}
		return nil
	})
	if errors.Is(err, ErrJobNotFound) {
		return "", s.cancelUnregistered(ctx, id)
	}
	if err != nil {
		return "", err
	}
	if storeErr != nil {
		return "", storeErr
	}

	if outcome == CancelledQueued {
		s.notifier.NotifyJob(EventJobCancelled, job)
		s.recorder.RecordFinished(JobStatusCancelled, 0)
	}
	s.logger.Info("job cancel", "job_id", id, "outcome", outcome)
	return outcome, nil
}

// cancelUnregistered reports why a job outside the registry cannot be
// cancelled: either it is unknown, or it reached a terminal state before the
// last restart.
func (s *Service) cancelUnregistered(ctx context.Context, id int64) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return persistErr("get job", err)
	}
	return &StateConflictError{JobID: id, Status: job.Status}
}

func (s *Service) PrinterCapabilities(ctx context.Context) (*Capabilities, error) {
	caps, err := s.printer.Capabilities(ctx, s.cfg.PrinterName)
	if err != nil {
		return nil, &PrinterServiceError{Op: "capabilities", Cause: err}
	}
	return caps, nil
}

func (s *Service) PrinterStatus(ctx context.Context) (*PrinterStatus, error) {
	st, err := s.printer.Status(ctx, s.cfg.PrinterName)
	if err != nil {
		return nil, &PrinterServiceError{Op: "status", Cause: err}
	}
	return st, nil
}

// Reload rebuilds the registry from the store at startup. Only QUEUED jobs are
// re-enqueued; PRINTING jobs are handled by the orphan policy.
func (s *Service) Reload(ctx context.Context) (queued, orphaned int, err error) {
	jobs, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, 0, persistErr("list pending", err)
	}

	for _, job := range jobs {
		switch job.Status {
		case JobStatusQueued:
			if err := s.registry.Add(job); err != nil {
				return queued, orphaned, fmt.Errorf("failed to register job %d: %w", job.ID, err)
			}
			if err := s.queue.Push(job.ID); err != nil {
				return queued, orphaned, fmt.Errorf("failed to enqueue job %d: %w", job.ID, err)
			}
			queued++
		case JobStatusPrinting:
			orphaned++
			if s.cfg.OrphanPolicy == OrphanFail {
				if err := s.store.UpdateStatus(ctx, job.ID, JobStatusFailed, orphanedMessage); err != nil {
					return queued, orphaned, persistErr("fail orphan", err)
				}
				job.Status = JobStatusFailed
				job.ErrorMessage = orphanedMessage
				s.logger.Warn("orphaned printing job marked failed", "job_id", job.ID)
			} else {
				s.markOrphan(job.ID)
				s.logger.Warn("orphaned printing job awaiting operator review", "job_id", job.ID)
			}
			if err := s.registry.Add(job); err != nil {
				return queued, orphaned, fmt.Errorf("failed to register job %d: %w", job.ID, err)
			}
		}
	}

	s.recorder.SetQueueDepth(s.queue.Len())
	return queued, orphaned, nil
}

// isOrphan reports whether id was found PRINTING at startup. No worker polls
// such a job, so a cancel flag on it would never be acted on.
func (s *Service) isOrphan(id int64) bool {
	s.orphanMu.Lock()
	defer s.orphanMu.Unlock()
	_, ok := s.orphans[id]
	return ok
}

func (s *Service) markOrphan(id int64) {
	s.orphanMu.Lock()
	s.orphans[id] = struct{}{}
	s.orphanMu.Unlock()
}

// Close stops the dispatch queue; a running worker returns once it finishes
// its current job.
func (s *Service) Close() {
	s.queue.Close()
}

// ReconcileOrphans lists jobs left PRINTING in the store and, when markFailed
// is set, moves them to FAILED. It must only run while no worker is active.
func ReconcileOrphans(ctx context.Context, store JobStore, markFailed bool) ([]*Job, error) {
	pending, err := store.ListPending(ctx)
	if err != nil {
		return nil, persistErr("list pending", err)
	}

	var orphans []*Job
	for _, job := range pending {
		if job.Status != JobStatusPrinting {
			continue
		}
		if markFailed {
			if err := store.UpdateStatus(ctx, job.ID, JobStatusFailed, orphanedMessage); err != nil {
				return orphans, persistErr("fail orphan", err)
			}
			job.Status = JobStatusFailed
			job.ErrorMessage = orphanedMessage
		}
		orphans = append(orphans, job)
	}
	return orphans, nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyJob(JobEvent, Job) {}

type nopRecorder struct{}

func (nopRecorder) RecordSubmitted(int)                     {}
func (nopRecorder) RecordQuotaRejected()                    {}
func (nopRecorder) RecordFinished(JobStatus, time.Duration) {}
func (nopRecorder) SetQueueDepth(int)                       {}
