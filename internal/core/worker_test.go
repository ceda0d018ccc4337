package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerCompletesJob(t *testing.T) {
	events := &eventLog{}
	svc, store, printer := newTestService(t, testConfig(), WithNotifier(events))
	ctx := context.Background()

	req := request(t, alice, 3)
	req.Copies = 2
	req.Duplex = DuplexTwoSidedLong
	job, err := svc.Submit(ctx, req)
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusCompleted)
	assert.Equal(t, JobStatusCompleted, store.status(job.ID))

	subs := printer.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "HP-LaserJet-1020", subs[0].printer)
	assert.Equal(t, req.Path, subs[0].path)
	assert.Equal(t, fmt.Sprintf("PrintJob-%d", job.ID), subs[0].title)
	assert.Equal(t, PrintOptions{Copies: 2, Duplex: DuplexTwoSidedLong, ColorModel: "Gray"}, subs[0].opts)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 101, got.ExternalID)

	require.Eventually(t, func() bool { return len(events.all()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []JobEvent{EventJobSubmitted, EventJobStarted, EventJobCompleted}, events.all())
}

func TestWorkerCancelWhilePrinting(t *testing.T) {
	svc, store, printer := newTestService(t, testConfig())
	printer.keepActive = true
	ctx := context.Background()

	job, err := svc.Submit(ctx, request(t, alice, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusPrinting)

	outcome, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, CancelRequested, outcome)

	waitStatus(t, svc, job.ID, JobStatusCancelled)
	assert.Equal(t, JobStatusCancelled, store.status(job.ID))
	assert.Equal(t, []int{101}, printer.cancels())
}

func TestWorkerSkipsJobCancelledWhileQueued(t *testing.T) {
	svc, _, printer := newTestService(t, testConfig())
	ctx := context.Background()

	first, err := svc.Submit(ctx, request(t, alice, 1))
	require.NoError(t, err)
	second, err := svc.Submit(ctx, request(t, alice, 1))
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, first.ID)
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, second.ID, JobStatusCompleted)

	subs := printer.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, fmt.Sprintf("PrintJob-%d", second.ID), subs[0].title)

	got, _ := svc.Registry().Get(first.ID)
	assert.Equal(t, JobStatusCancelled, got.Status)
}

func TestWorkerSubmitFailure(t *testing.T) {
	svc, store, printer := newTestService(t, testConfig())
	printer.submitErr = errBoom

	job, err := svc.Submit(context.Background(), request(t, alice, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusFailed)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "submit")
	assert.Contains(t, got.ErrorMessage, "boom")
}

func TestWorkerPollFailure(t *testing.T) {
	svc, store, printer := newTestService(t, testConfig())
	printer.activeErr = errBoom

	job, err := svc.Submit(context.Background(), request(t, alice, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusFailed)
	assert.Equal(t, JobStatusFailed, store.status(job.ID))
}

func TestWorkerProcessesInFIFOOrder(t *testing.T) {
	svc, _, printer := newTestService(t, testConfig())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		job, err := svc.Submit(ctx, request(t, admin, 1))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	startWorker(t, svc)
	waitStatus(t, svc, ids[2], JobStatusCompleted)

	subs := printer.submissions()
	require.Len(t, subs, 3)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("PrintJob-%d", id), subs[i].title)
	}
}

func TestWorkerOneJobAtATime(t *testing.T) {
	svc, _, printer := newTestService(t, testConfig())
	printer.keepActive = true
	ctx := context.Background()

	first, err := svc.Submit(ctx, request(t, admin, 1))
	require.NoError(t, err)
	second, err := svc.Submit(ctx, request(t, admin, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, first.ID, JobStatusPrinting)

	time.Sleep(20 * time.Millisecond)
	got, _ := svc.Registry().Get(second.ID)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.Len(t, printer.submissions(), 1)

	printer.finish(101)
	waitStatus(t, svc, first.ID, JobStatusCompleted)
	waitStatus(t, svc, second.ID, JobStatusPrinting)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	svc, _, printer := newTestService(t, testConfig())
	printer.panicOnSub = true
	ctx := context.Background()

	first, err := svc.Submit(ctx, request(t, admin, 1))
	require.NoError(t, err)
	second, err := svc.Submit(ctx, request(t, admin, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, first.ID, JobStatusFailed)
	waitStatus(t, svc, second.ID, JobStatusCompleted)

	got, _ := svc.Registry().Get(first.ID)
	assert.Contains(t, got.ErrorMessage, "spooler exploded")
}

func TestWorkerJobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeout = 30 * time.Millisecond
	svc, store, printer := newTestService(t, cfg)
	printer.keepActive = true

	job, err := svc.Submit(context.Background(), request(t, admin, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusFailed)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, timedOutMessage, got.ErrorMessage)
	assert.Equal(t, []int{101}, printer.cancels())
}

func TestWorkerTerminalWriteFailureKeepsPrinting(t *testing.T) {
	svc, store, _ := newTestService(t, testConfig())
	store.statusErrs[JobStatusCompleted] = errBoom

	job, err := svc.Submit(context.Background(), request(t, admin, 1))
	require.NoError(t, err)

	startWorker(t, svc)
	waitStatus(t, svc, job.ID, JobStatusPrinting)
	require.Eventually(t, func() bool { return svc.Queue().Len() == 0 }, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	got, _ := svc.Registry().Get(job.ID)
	assert.Equal(t, JobStatusPrinting, got.Status)
	assert.Equal(t, JobStatusPrinting, store.status(job.ID))
}

type manualTicker struct {
	ch chan time.Time
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               {}

func TestWorkerPollsOnTick(t *testing.T) {
	svc, _, printer := newTestService(t, testConfig())
	ticker := &manualTicker{ch: make(chan time.Time)}

	job, err := svc.Submit(context.Background(), request(t, admin, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(svc, WithTicker(func(time.Duration) Ticker { return ticker })).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitStatus(t, svc, job.ID, JobStatusPrinting)
	require.Eventually(t, func() bool { return len(printer.submissions()) == 1 }, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	got, _ := svc.Registry().Get(job.ID)
	assert.Equal(t, JobStatusPrinting, got.Status, "no poll without a tick")

	ticker.ch <- time.Now()
	waitStatus(t, svc, job.ID, JobStatusCompleted)
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	svc, _, _ := newTestService(t, testConfig())
	errCh := make(chan error, 1)
	go func() { errCh <- NewWorker(svc).Run(context.Background()) }()

	svc.Close()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerStartsNothingAfterClose(t *testing.T) {
	svc, store, printer := newTestService(t, testConfig())
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		job, err := svc.Submit(ctx, request(t, alice, 1))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	svc.Close()

	err := NewWorker(svc).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, printer.submissions())
	for _, id := range ids {
		assert.Equal(t, JobStatusQueued, store.status(id), "left for the next reload")
	}
}
