package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const timedOutMessage = "print timed out"

// Ticker drives the worker's status polls.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Worker is the single consumer of the dispatch queue. It handles one job at
// a time from dequeue to terminal state.
type Worker struct {
	svc       *Service
	newTicker TickerFunc
	logger    *slog.Logger
}

type WorkerOption func(*Worker)

func WithTicker(fn TickerFunc) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.newTicker = fn
		}
	}
}

func NewWorker(svc *Service, opts ...WorkerOption) *Worker {
	w := &Worker{
		svc:       svc,
		newTicker: newTimeTicker,
		logger:    svc.logger.With("component", "worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until the queue is closed or ctx ends. A job being
// printed when ctx ends is left PRINTING.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("print worker started",
		"printer", w.svc.cfg.PrinterName,
		"poll_interval", w.svc.cfg.PollInterval)

	for {
		id, err := w.svc.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				w.logger.Info("print worker stopped")
				return nil
			}
			return err
		}
		w.svc.recorder.SetQueueDepth(w.svc.queue.Len())
		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id int64) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("print job panicked", "job_id", id, "panic", r)
			w.finish(ctx, id, JobStatusFailed, fmt.Sprintf("internal error: %v", r), started)
		}
	}()

	job, ok := w.begin(ctx, id)
	if !ok {
		return
	}
	w.svc.notifier.NotifyJob(EventJobStarted, job)

	opts := PrintOptions{
		Copies:     job.Copies,
		Duplex:     job.Duplex,
		ColorModel: job.ColorMode.ColorModel(),
	}
	title := fmt.Sprintf("PrintJob-%d", job.ID)

	externalID, err := w.svc.printer.Submit(ctx, w.svc.cfg.PrinterName, job.FilePath, title, opts)
	if err != nil {
		perr := &PrinterServiceError{Op: "submit", Cause: err}
		w.logger.Error("print submission failed", "job_id", id, "error", err)
		w.finish(ctx, id, JobStatusFailed, perr.Error(), started)
		return
	}
	w.recordExternalID(ctx, id, externalID)

	status, msg, done := w.poll(ctx, id, externalID)
	if !done {
		w.logger.Warn("worker stopped mid-job; job left printing", "job_id", id, "external_id", externalID)
		return
	}
	w.finish(ctx, id, status, msg, started)
}

// begin moves a dequeued job to PRINTING. Jobs that were cancelled while
// queued, or are no longer registered, are skipped.
func (w *Worker) begin(ctx context.Context, id int64) (Job, bool) {
	skip := false
	job, err := w.svc.registry.Update(id, func(j *Job) error {
		if j.Status != JobStatusQueued || j.CancelRequested {
			skip = true
			return nil
		}
		if err := w.svc.store.UpdateStatus(ctx, id, JobStatusPrinting, ""); err != nil {
			return persistErr("update status", err)
		}
		j.Status = JobStatusPrinting
		j.UpdatedAt = w.svc.now().UTC()
		return nil
	})
	switch {
	case errors.Is(err, ErrJobNotFound):
		w.logger.Debug("dequeued unknown job", "job_id", id)
		return Job{}, false
	case err != nil:
		w.logger.Error("failed to record printing; job left queued", "job_id", id, "error", err)
		return Job{}, false
	case skip:
		w.logger.Debug("skipping job", "job_id", id, "status", job.Status)
		return Job{}, false
	}
	return job, true
}

func (w *Worker) recordExternalID(ctx context.Context, id int64, externalID int) {
	if err := w.svc.store.SetExternalID(ctx, id, externalID); err != nil {
		w.logger.Warn("failed to record external job id", "job_id", id, "external_id", externalID, "error", err)
	}
	_, _ = w.svc.registry.Update(id, func(j *Job) error {
		j.ExternalID = externalID
		return nil
	})
}

// poll watches the spooler until the job leaves its active list, a
// cancellation is requested, or the job times out. done is false when ctx
// ended first.
func (w *Worker) poll(ctx context.Context, id int64, externalID int) (status JobStatus, msg string, done bool) {
	ticker := w.newTicker(w.svc.cfg.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if w.svc.cfg.JobTimeout > 0 {
		timer := time.NewTimer(w.svc.cfg.JobTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return "", "", false
		case <-deadline:
			if err := w.svc.printer.Cancel(ctx, w.svc.cfg.PrinterName, externalID); err != nil {
				w.logger.Warn("failed to cancel timed out job", "job_id", id, "external_id", externalID, "error", err)
			}
			return JobStatusFailed, timedOutMessage, true
		case <-ticker.C():
		}

		active, err := w.svc.printer.ActiveJobs(ctx)
		if err != nil {
			perr := &PrinterServiceError{Op: "list active jobs", Cause: err}
			w.logger.Error("status poll failed", "job_id", id, "error", err)
			return JobStatusFailed, perr.Error(), true
		}

		if w.cancelRequested(ctx, id) {
			if err := w.svc.printer.Cancel(ctx, w.svc.cfg.PrinterName, externalID); err != nil {
				perr := &PrinterServiceError{Op: "cancel", Cause: err}
				w.logger.Error("spooler cancel failed", "job_id", id, "error", err)
				return JobStatusFailed, perr.Error(), true
			}
			return JobStatusCancelled, "", true
		}

		if _, ok := active[externalID]; !ok {
			return JobStatusCompleted, "", true
		}
	}
}

// cancelRequested re-reads the durable flag, falling back to the registry
// when the store is unavailable.
func (w *Worker) cancelRequested(ctx context.Context, id int64) bool {
	if rec, err := w.svc.store.Get(ctx, id); err == nil {
		if rec.CancelRequested {
			return true
		}
	} else {
		w.logger.Warn("failed to read cancel flag", "job_id", id, "error", err)
	}
	job, ok := w.svc.registry.Get(id)
	return ok && job.CancelRequested
}

// finish records a terminal status, store first. The write outlives ctx so a
// shutdown does not strand a job whose outcome is already known.
func (w *Worker) finish(ctx context.Context, id int64, status JobStatus, msg string, started time.Time) {
	ctx = context.WithoutCancel(ctx)
	job, err := w.svc.registry.Update(id, func(j *Job) error {
		if !j.Status.CanTransition(status) {
			return ErrInvalidTransition
		}
		if err := w.svc.store.UpdateStatus(ctx, id, status, msg); err != nil {
			return persistErr("update status", err)
		}
		j.Status = status
		j.ErrorMessage = msg
		j.UpdatedAt = w.svc.now().UTC()
		return nil
	})
	if err != nil {
		w.logger.Error("failed to record terminal status", "job_id", id, "status", status, "error", err)
		return
	}

	elapsed := time.Since(started)
	w.svc.recorder.RecordFinished(status, elapsed)
	w.svc.notifier.NotifyJob(terminalEvent(status), job)
	w.logger.Info("job finished",
		"job_id", id,
		"status", status,
		"elapsed", elapsed,
		"error", msg)
}

func terminalEvent(status JobStatus) JobEvent {
	switch status {
	case JobStatusCompleted:
		return EventJobCompleted
	case JobStatusCancelled:
		return EventJobCancelled
	default:
		return EventJobFailed
	}
}
