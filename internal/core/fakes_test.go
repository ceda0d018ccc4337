package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu         sync.Mutex
	nextID     int64
	jobs       map[int64]*Job
	insertErr  error
	getErr     error
	cancelErr  error
	statusErrs map[JobStatus]error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:       make(map[int64]*Job),
		statusErrs: make(map[JobStatus]error),
	}
}

func (s *memStore) Insert(_ context.Context, job *Job) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	j := *job
	j.ID = s.nextID
	s.jobs[j.ID] = &j
	return j.ID, nil
}

func (s *memStore) put(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID > s.nextID {
		s.nextID = job.ID
	}
	s.jobs[job.ID] = &job
}

func (s *memStore) UpdateStatus(_ context.Context, id int64, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statusErrs[status]; err != nil {
		return err
	}
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = status
	j.ErrorMessage = errMsg
	return nil
}

func (s *memStore) SetCancelRequested(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelErr != nil {
		return s.cancelErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.CancelRequested = true
	return nil
}

func (s *memStore) SetExternalID(_ context.Context, id int64, externalID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.ExternalID = externalID
	return nil
}

func (s *memStore) Get(_ context.Context, id int64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := *j
	return &out, nil
}

func (s *memStore) SumPapers(_ context.Context, userID int64, statuses []JobStatus, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, j := range s.jobs {
		if j.UserID != userID || j.CreatedAt.Before(from) || !j.CreatedAt.Before(to) {
			continue
		}
		for _, st := range statuses {
			if j.Status == st {
				total += j.Papers
				break
			}
		}
	}
	return total, nil
}

func (s *memStore) sorted() []*Job {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out := *j
		jobs = append(jobs, &out)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

func (s *memStore) ListPending(context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.sorted() {
		if j.Status == JobStatusQueued || j.Status == JobStatusPrinting {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) ListByUser(_ context.Context, userID int64) ([]JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobSummary
	for _, j := range s.sorted() {
		if j.UserID == userID {
			out = append(out, j.Summary())
		}
	}
	return out, nil
}

func (s *memStore) ListAll(context.Context) ([]JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []JobSummary
	for _, j := range s.sorted() {
		out = append(out, j.Summary())
	}
	return out, nil
}

func (s *memStore) status(id int64) JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j.Status
	}
	return ""
}

type submission struct {
	printer string
	path    string
	title   string
	opts    PrintOptions
}

type fakePrinter struct {
	mu         sync.Mutex
	nextID     int
	active     map[int]struct{}
	submitted  []submission
	cancelled  []int
	keepActive bool
	panicOnSub bool
	submitErr  error
	activeErr  error
	cancelErr  error
}

func newFakePrinter() *fakePrinter {
	return &fakePrinter{nextID: 100, active: make(map[int]struct{})}
}

func (p *fakePrinter) Submit(_ context.Context, printer, filePath, title string, opts PrintOptions) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnSub {
		p.panicOnSub = false
		panic("spooler exploded")
	}
	if p.submitErr != nil {
		return 0, p.submitErr
	}
	p.nextID++
	p.submitted = append(p.submitted, submission{printer: printer, path: filePath, title: title, opts: opts})
	if p.keepActive {
		p.active[p.nextID] = struct{}{}
	}
	return p.nextID, nil
}

func (p *fakePrinter) ActiveJobs(context.Context) (map[int]struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeErr != nil {
		return nil, p.activeErr
	}
	out := make(map[int]struct{}, len(p.active))
	for id := range p.active {
		out[id] = struct{}{}
	}
	return out, nil
}

func (p *fakePrinter) Cancel(_ context.Context, _ string, externalID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, externalID)
	delete(p.active, externalID)
	return nil
}

func (p *fakePrinter) Capabilities(context.Context, string) (*Capabilities, error) {
	return &Capabilities{Duplex: true, Color: false, MaxCopies: MaxCopies}, nil
}

func (p *fakePrinter) Status(context.Context, string) (*PrinterStatus, error) {
	return &PrinterStatus{State: PrinterStateIdle}, nil
}

func (p *fakePrinter) finish(externalID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, externalID)
}

func (p *fakePrinter) submissions() []submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]submission(nil), p.submitted...)
}

func (p *fakePrinter) cancels() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.cancelled...)
}

type eventLog struct {
	mu     sync.Mutex
	events []JobEvent
}

func (e *eventLog) NotifyJob(event JobEvent, _ Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventLog) all() []JobEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]JobEvent(nil), e.events...)
}

var (
	alice = Identity{UserID: 1, Role: RoleUser}
	admin = Identity{UserID: 99, Role: RoleAdmin}
)

func testConfig() Config {
	return Config{
		PrinterName:  "HP-LaserJet-1020",
		MonthlyQuota: 10,
		Location:     time.UTC,
		PollInterval: time.Millisecond,
	}
}

func newTestService(t *testing.T, cfg Config, opts ...Option) (*Service, *memStore, *fakePrinter) {
	t.Helper()
	store := newMemStore()
	printer := newFakePrinter()
	svc := NewService(store, printer, cfg, opts...)
	t.Cleanup(svc.Close)
	return svc, store, printer
}

func startWorker(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(svc).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func upload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	return path
}

func request(t *testing.T, who Identity, pages int) SubmitRequest {
	return SubmitRequest{
		Identity:  who,
		Filename:  "doc.pdf",
		Path:      upload(t),
		Copies:    1,
		ColorMode: ColorModeMonochrome,
		Duplex:    DuplexOneSided,
		Pages:     pages,
	}
}

func waitStatus(t *testing.T, svc *Service, id int64, want JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := svc.Registry().Get(id)
		return ok && job.Status == want
	}, 2*time.Second, 2*time.Millisecond, "job %d never reached %s", id, want)
}

var errBoom = errors.New("boom")
