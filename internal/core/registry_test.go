package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	legal := map[JobStatus][]JobStatus{
		JobStatusQueued:   {JobStatusPrinting, JobStatusCancelled},
		JobStatusPrinting: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	}
	all := []JobStatus{JobStatusQueued, JobStatusPrinting, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range legal[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
		assert.Equal(t, len(legal[from]) == 0, from.IsTerminal(), "%s terminal", from)
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(&Job{ID: 1, Status: JobStatusQueued}))
	assert.ErrorIs(t, r.Add(&Job{ID: 1}), ErrDuplicateJob)

	_, err := r.Update(1, func(j *Job) error {
		j.Status = JobStatusCompleted
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	job, _ := r.Get(1)
	assert.Equal(t, JobStatusQueued, job.Status, "rejected update leaves job unchanged")

	_, err = r.Update(1, func(j *Job) error {
		j.Status = JobStatusPrinting
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	job, _ = r.Get(1)
	assert.Equal(t, JobStatusQueued, job.Status)

	job, err = r.Update(1, func(j *Job) error {
		j.Status = JobStatusPrinting
		j.CancelRequested = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusPrinting, job.Status)

	_, err = r.Update(1, func(j *Job) error {
		j.CancelRequested = false
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidTransition, "cancel flag never resets")

	_, err = r.Update(2, func(*Job) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRegistryReturnsCopies(t *testing.T) {
	r := NewRegistry()
	orig := &Job{ID: 1, Status: JobStatusQueued}
	require.NoError(t, r.Add(orig))

	orig.Status = JobStatusFailed
	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, JobStatusQueued, got.Status)

	require.NoError(t, r.Add(&Job{ID: 3}))
	require.NoError(t, r.Add(&Job{ID: 2}))
	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{list[0].ID, list[1].ID, list[2].ID})
}

func TestDispatchQueueFIFO(t *testing.T) {
	q := NewDispatchQueue()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, q.Push(i))
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		id, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}
}

func TestDispatchQueuePopBlocks(t *testing.T) {
	q := NewDispatchQueue()
	got := make(chan int64, 1)
	go func() {
		id, err := q.Pop(context.Background())
		if err == nil {
			got <- id
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Push(7))
	select {
	case id := <-got:
		assert.Equal(t, int64(7), id)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestDispatchQueuePopContext(t *testing.T) {
	q := NewDispatchQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchQueueClose(t *testing.T) {
	q := NewDispatchQueue()
	require.NoError(t, q.Push(1))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Push(2), ErrQueueClosed)

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed, "queued ids are not handed out after close")
	assert.Equal(t, 1, q.Len())
}
