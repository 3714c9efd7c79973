package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryQueue_ClaimsOnlyDueJobs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun, MessageID: 1}, 0))
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun, MessageID: 2}, time.Hour))

	jobs, err := q.Claim(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(1), jobs[0].MessageID)
	assert.NotEmpty(t, jobs[0].ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err = q.Claim(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].MessageID)
}

func TestMemoryQueue_ClaimRespectsMax(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Schedule(ctx, Job{Kind: KindCleanup}, 0))
	}

	jobs, err := q.Claim(ctx, time.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Len(t, q.Pending(), 3)
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	q := NewRedisQueue(rdb, "test:jobs")

	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun, MessageID: 7}, 0))
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindStreamRun, MessageID: 8}, time.Hour))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := q.Claim(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, KindCheckRun, jobs[0].Kind)
	assert.Equal(t, int64(7), jobs[0].MessageID)

	// a second claim at the same instant must not return the job again
	jobs, err = q.Claim(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestWorker_DispatchesByKind(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	w := NewWorker(q, WorkerConfig{}, zap.NewNop())

	var checks, cleanups atomic.Int32
	w.Handle(KindCheckRun, func(ctx context.Context, job Job) error {
		checks.Add(1)
		return nil
	}, 0)
	w.Handle(KindCleanup, func(ctx context.Context, job Job) error {
		cleanups.Add(1)
		return errors.New("ignored")
	}, 0)

	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun}, 0))
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun}, 0))
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCleanup}, 0))
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindClearEmpty}, 0))

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int32(2), checks.Load())
	assert.Equal(t, int32(1), cleanups.Load())

	// failed jobs are not retried
	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_AppliesTimeoutAndRecovers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	w := NewWorker(q, WorkerConfig{}, zap.NewNop())

	var sawDeadline atomic.Bool
	w.Handle(KindStreamRun, func(ctx context.Context, job Job) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		panic("boom")
	}, time.Minute)

	require.NoError(t, q.Schedule(ctx, Job{Kind: KindStreamRun}, 0))
	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, sawDeadline.Load())
}

func TestWorker_RunsJobsClaimedBeforeMalformedMember(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	q := NewRedisQueue(rdb, "test:jobs")
	require.NoError(t, q.Schedule(ctx, Job{Kind: KindCheckRun, MessageID: 7}, -time.Second))
	require.NoError(t, rdb.ZAdd(ctx, "test:jobs", redis.Z{
		Score:  float64(time.Now().Add(-time.Millisecond).UnixMilli()),
		Member: "not-json",
	}).Err())

	w := NewWorker(q, WorkerConfig{}, zap.NewNop())
	var runs atomic.Int32
	w.Handle(KindCheckRun, func(ctx context.Context, job Job) error {
		runs.Add(1)
		assert.Equal(t, int64(7), job.MessageID)
		return nil
	}, 0)

	n, err := w.RunOnce(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode job")
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), runs.Load())

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestWorker_RequeuesUnstartedJobsOnShutdown(t *testing.T) {
	q := NewMemoryQueue()
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Schedule(context.Background(), Job{Kind: KindCheckRun, MessageID: int64(i)}, 0))
	}

	w := NewWorker(q, WorkerConfig{Concurrency: 1}, zap.NewNop())
	var runs atomic.Int32
	w.Handle(KindCheckRun, func(ctx context.Context, job Job) error {
		runs.Add(1)
		return nil
	}, 0)

	// hold the only slot so every claimed job fails to start
	require.NoError(t, w.sem.Acquire(context.Background(), 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := w.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Zero(t, runs.Load())
	require.Len(t, q.Pending(), 3)

	w.sem.Release(1)
	n, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), runs.Load())
}
