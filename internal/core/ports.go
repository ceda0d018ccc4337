package core

import (
	"context"
	"time"
)

// JobStore is the durable record of every job. Get returns ErrJobNotFound
// for unknown ids.
type JobStore interface {
	Insert(ctx context.Context, job *Job) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status JobStatus, errMsg string) error
	SetCancelRequested(ctx context.Context, id int64) error
	SetExternalID(ctx context.Context, id int64, externalID int) error
	Get(ctx context.Context, id int64) (*Job, error)
	SumPapers(ctx context.Context, userID int64, statuses []JobStatus, from, to time.Time) (int, error)
	ListPending(ctx context.Context) ([]*Job, error)
	ListByUser(ctx context.Context, userID int64) ([]JobSummary, error)
	ListAll(ctx context.Context) ([]JobSummary, error)
}

// PrinterService is the spooler in front of the physical printer.
type PrinterService interface {
	Submit(ctx context.Context, printer, filePath, title string, opts PrintOptions) (int, error)
	ActiveJobs(ctx context.Context) (map[int]struct{}, error)
	Cancel(ctx context.Context, printer string, externalID int) error
	Capabilities(ctx context.Context, printer string) (*Capabilities, error)
	Status(ctx context.Context, printer string) (*PrinterStatus, error)
}

type PageCounter interface {
	PageCount(path string) (int, error)
}

type JobEvent string

const (
	EventJobSubmitted JobEvent = "job_submitted"
	EventJobStarted   JobEvent = "job_started"
	EventJobCompleted JobEvent = "job_completed"
	EventJobFailed    JobEvent = "job_failed"
	EventJobCancelled JobEvent = "job_cancelled"
)

// Notifier receives job lifecycle events. Implementations must not block.
type Notifier interface {
	NotifyJob(event JobEvent, job Job)
}

// Recorder collects lifecycle metrics.
type Recorder interface {
	RecordSubmitted(papers int)
	RecordQuotaRejected()
	RecordFinished(status JobStatus, elapsed time.Duration)
	SetQueueDepth(n int)
}
