package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/service/worker"
)

func testConfig() config.Worker {
	return config.Worker{
		Workers:         2,
		QueueSize:       8,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func startPool(t *testing.T, cfg config.Worker) *worker.Pool {
	t.Helper()
	pool, err := worker.NewPool(cfg)
	gt.NoError(t, err).Required()
	gt.NoError(t, pool.Start(context.Background())).Required()
	t.Cleanup(pool.Stop)
	return pool
}

func wait(t *testing.T, h interfaces.JobHandle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Wait(ctx)
}

func TestPoolRunsJob(t *testing.T) {
	pool := startPool(t, testConfig())

	var ran atomic.Int32
	h, err := pool.Enqueue(context.Background(), interfaces.Job{
		Key:  "job-1",
		Name: "test",
		Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		},
	})
	gt.NoError(t, err).Required()
	gt.NoError(t, wait(t, h))
	gt.Value(t, ran.Load()).Equal(int32(1))
}

func TestPoolRetries(t *testing.T) {
	pool := startPool(t, testConfig())

	t.Run("transient failure succeeds on retry", func(t *testing.T) {
		var calls atomic.Int32
		h, err := pool.Enqueue(context.Background(), interfaces.Job{
			Key: "flaky",
			Run: func(ctx context.Context) error {
				if calls.Add(1) < 3 {
					return goerr.New("temporary", goerr.T(model.TagExternal))
				}
				return nil
			},
		})
		gt.NoError(t, err).Required()
		gt.NoError(t, wait(t, h))
		gt.Value(t, calls.Load()).Equal(int32(3))
		gt.Value(t, h.(*worker.Handle).Attempts()).Equal(3)
	})

	t.Run("exhausted retries are terminal", func(t *testing.T) {
		var calls atomic.Int32
		h, err := pool.Enqueue(context.Background(), interfaces.Job{
			Key: "broken",
			Run: func(ctx context.Context) error {
				calls.Add(1)
				return errors.New("still failing")
			},
		})
		gt.NoError(t, err).Required()
		err = wait(t, h)
		gt.Value(t, err).NotNil()
		gt.String(t, err.Error()).Contains("job failed")
		gt.Value(t, calls.Load()).Equal(int32(3))
	})

	t.Run("input errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		h, err := pool.Enqueue(context.Background(), interfaces.Job{
			Key: "invalid",
			Run: func(ctx context.Context) error {
				calls.Add(1)
				return goerr.New("bad input", goerr.T(model.TagInput))
			},
		})
		gt.NoError(t, err).Required()
		err = wait(t, h)
		gt.Bool(t, model.IsInputError(err)).True()
		gt.Value(t, calls.Load()).Equal(int32(1))
	})

	t.Run("panic is a permanent failure", func(t *testing.T) {
		h, err := pool.Enqueue(context.Background(), interfaces.Job{
			Key: "panic",
			Run: func(ctx context.Context) error {
				panic("boom")
			},
		})
		gt.NoError(t, err).Required()
		err = wait(t, h)
		gt.Value(t, err).NotNil()
		gt.Value(t, h.(*worker.Handle).Attempts()).Equal(1)
	})
}

func TestPoolDeduplicatesKeys(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	pool := startPool(t, cfg)

	release := make(chan struct{})
	var calls atomic.Int32
	job := interfaces.Job{
		Key: "conv-1",
		Run: func(ctx context.Context) error {
			calls.Add(1)
			<-release
			return nil
		},
	}

	h1, err := pool.Enqueue(context.Background(), job)
	gt.NoError(t, err).Required()
	h2, err := pool.Enqueue(context.Background(), job)
	gt.NoError(t, err).Required()
	gt.Value(t, h2).Equal(h1)

	close(release)
	gt.NoError(t, wait(t, h1))
	gt.Value(t, calls.Load()).Equal(int32(1))

	t.Run("key is free after completion", func(t *testing.T) {
		h3, err := pool.Enqueue(context.Background(), job)
		gt.NoError(t, err).Required()
		gt.NoError(t, wait(t, h3))
		gt.Value(t, calls.Load()).Equal(int32(2))
	})
}

func TestPoolQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	pool := startPool(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	_, err := pool.Enqueue(context.Background(), interfaces.Job{Key: "running", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	gt.NoError(t, err).Required()
	<-started

	_, err = pool.Enqueue(context.Background(), interfaces.Job{Key: "queued", Run: func(ctx context.Context) error { return nil }})
	gt.NoError(t, err).Required()

	_, err = pool.Enqueue(context.Background(), interfaces.Job{Key: "overflow", Run: func(ctx context.Context) error { return nil }})
	gt.Error(t, err).Is(worker.ErrQueueFull)
}

func TestPoolLifecycle(t *testing.T) {
	pool, err := worker.NewPool(testConfig())
	gt.NoError(t, err).Required()

	_, err = pool.Enqueue(context.Background(), interfaces.Job{Key: "early", Run: func(ctx context.Context) error { return nil }})
	gt.Error(t, err).Is(worker.ErrPoolStopped)

	gt.NoError(t, pool.Start(context.Background())).Required()
	gt.Value(t, pool.Start(context.Background())).NotNil()
	pool.Stop()
	pool.Stop()

	_, err = pool.Enqueue(context.Background(), interfaces.Job{Key: "late", Run: func(ctx context.Context) error { return nil }})
	gt.Error(t, err).Is(worker.ErrPoolStopped)

	t.Run("invalid job", func(t *testing.T) {
		pool := startPool(t, testConfig())
		_, err := pool.Enqueue(context.Background(), interfaces.Job{Key: "no-run"})
		gt.Bool(t, model.IsInputError(err)).True()
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxAttempts = 0
		_, err := worker.NewPool(cfg)
		gt.Bool(t, model.IsInputError(err)).True()
	})
}

func TestPoolStopsWhenStartContextCancelled(t *testing.T) {
	pool, err := worker.NewPool(testConfig())
	gt.NoError(t, err).Required()

	ctx, cancel := context.WithCancel(context.Background())
	gt.NoError(t, pool.Start(ctx)).Required()
	t.Cleanup(pool.Stop)

	h, err := pool.Enqueue(context.Background(), interfaces.Job{Key: "before", Run: func(ctx context.Context) error { return nil }})
	gt.NoError(t, err).Required()
	gt.NoError(t, wait(t, h))

	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err = pool.Enqueue(context.Background(), interfaces.Job{Key: "after", Run: func(ctx context.Context) error { return nil }})
		if err != nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	gt.Error(t, err).Is(worker.ErrPoolStopped)
}
