package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/orrn/printdesk/internal/core"
)

// JobFiles is the store view the sweeper needs.
type JobFiles interface {
	ListPurgeable(ctx context.Context, before time.Time) ([]*core.Job, error)
	ClearFilePath(ctx context.Context, id int64) error
}

type Config struct {
	// Retention is how long an upload is kept after its job finished.
	Retention time.Duration
	Interval  time.Duration
	Logger    *slog.Logger
}

// Sweeper deletes the uploaded documents of finished jobs once they are
// older than the retention period. Job records are kept for quota history.
type Sweeper struct {
	store      JobFiles
	retention  time.Duration
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time
	removeFile func(string) error

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(store JobFiles, config Config) (*Sweeper, error) {
	if config.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Sweeper{
		store:      store,
		retention:  config.Retention,
		interval:   config.Interval,
		logger:     config.Logger.With("component", "retention"),
		now:        time.Now,
		removeFile: os.Remove,
		stopCh:     make(chan struct{}),
	}, nil
}

// Start sweeps once, then on every interval until Stop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("upload sweep failed", "removed", n, "error", err)
		} else if n > 0 {
			s.logger.Info("upload sweep", "removed", n)
		}

		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// RunOnce removes every expired upload and returns how many records were
// cleared. A file already missing from disk still has its record cleared.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention).UTC()
	jobs, err := s.store.ListPurgeable(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired uploads: %w", err)
	}

	removed := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.removeFile(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove upload", "job_id", job.ID, "path", job.FilePath, "error", err)
			continue
		}
		if err := s.store.ClearFilePath(ctx, job.ID); err != nil {
			return removed, fmt.Errorf("failed to clear file path for job %d: %w", job.ID, err)
		}
		removed++
	}
	return removed, nil
}
