package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/domain/model/config"
	"github.com/secmon-lab/hermes/pkg/utils/errutil"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

var (
	ErrPoolStopped = goerr.New("worker pool is not running")
	ErrQueueFull   = goerr.New("worker queue is full")
	ErrInvalidJob  = goerr.New("invalid job", goerr.T(model.TagInput))
)

// Handle observes an enqueued job
type Handle struct {
	key  string
	done chan struct{}

	mu       sync.Mutex
	err      error
	attempts int
}

var _ interfaces.JobHandle = &Handle{}

func newHandle(key string) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

// Done is closed when the job reached a terminal state
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the job finished or ctx is done
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "wait for job cancelled", goerr.V("key", h.key))
	}
}

// Err returns the terminal error. It is nil while the job is running.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Attempts returns the number of runs so far
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

func (h *Handle) attempt() {
	h.mu.Lock()
	h.attempts++
	h.mu.Unlock()
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

type task struct {
	job    interfaces.Job
	ctx    context.Context
	handle *Handle
}

// Pool runs jobs on a fixed number of workers with bounded retry.
//
// Architecture assumptions:
// - Single process; key deduplication is not shared between instances
// - Jobs must be idempotent since a failed attempt is retried as a whole
type Pool struct {
	cfg config.Worker

	queue    chan *task
	inflight *xsync.Map[string, *Handle]

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ interfaces.Scheduler = &Pool{}

// NewPool creates a pool. Call Start before enqueueing.
func NewPool(cfg config.Worker) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid worker config", goerr.T(model.TagInput))
	}
	return &Pool{
		cfg:      cfg,
		queue:    make(chan *task, cfg.QueueSize),
		inflight: xsync.NewMap[string, *Handle](),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the workers. Jobs run with a context derived from ctx that
// keeps its logger but not its deadline. Cancelling ctx stops the pool.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return goerr.New("worker pool already started")
	}
	p.running = true

	logging.From(ctx).Info("worker pool starting", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	stopCh := p.stopCh
	go func() {
		select {
		case <-ctx.Done():
			logging.From(ctx).Info("worker pool context cancelled")
			p.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

// Stop signals the workers to stop and waits for running jobs. Jobs still
// queued fail with ErrPoolStopped.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	logging.Default().Info("worker pool stopping")
	p.wg.Wait()

	for {
		select {
		case t := <-p.queue:
			p.complete(t, goerr.Wrap(ErrPoolStopped, "job dropped on shutdown", goerr.V("key", t.job.Key)))
		default:
			logging.Default().Info("worker pool stopped")
			return
		}
	}
}

// Enqueue schedules job. A job whose key is queued or running is not
// scheduled again; the in-flight handle is returned instead.
func (p *Pool) Enqueue(ctx context.Context, job interfaces.Job) (interfaces.JobHandle, error) {
	if job.Key == "" || job.Run == nil {
		return nil, goerr.Wrap(ErrInvalidJob, "job key and function are required", goerr.V("name", job.Name))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil, goerr.Wrap(ErrPoolStopped, "cannot enqueue job", goerr.V("key", job.Key))
	}

	handle, loaded := p.inflight.LoadOrStore(job.Key, newHandle(job.Key))
	if loaded {
		logging.From(ctx).Debug("job already in flight", "key", job.Key, "name", job.Name)
		return handle, nil
	}

	t := &task{
		job:    job,
		ctx:    logging.With(context.Background(), logging.From(ctx)),
		handle: handle,
	}
	select {
	case p.queue <- t:
		return handle, nil
	default:
		p.inflight.Delete(job.Key)
		err := goerr.Wrap(ErrQueueFull, "cannot enqueue job", goerr.V("key", job.Key), goerr.V("queue_size", p.cfg.QueueSize))
		handle.finish(err)
		return nil, err
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case t := <-p.queue:
			p.complete(t, p.execute(t))

		case <-p.stopCh:
			return

		case <-ctx.Done():
			logging.From(ctx).Info("worker context cancelled", "worker", id)
			return
		}
	}
}

func (p *Pool) complete(t *task, err error) {
	p.inflight.Delete(t.job.Key)
	t.handle.finish(err)
}

// execute runs the job until it succeeds, fails permanently or runs out of
// attempts
func (p *Pool) execute(t *task) error {
	ctx := t.ctx
	logger := logging.From(ctx).With("job", t.job.Name, "key", t.job.Key)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialInterval
	b.MaxInterval = p.cfg.MaxInterval

	start := time.Now()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		t.handle.attempt()
		err := p.runOnce(ctx, t.job)
		if err != nil && model.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("job failed, retrying", "error", err, "next", next.String(), "attempt", t.handle.Attempts())
		}),
	)
	if err != nil {
		err = goerr.Wrap(err, "job failed", goerr.V("key", t.job.Key), goerr.V("name", t.job.Name), goerr.V("attempts", t.handle.Attempts()))
		errutil.Handle(ctx, err, "background job failed")
		return err
	}

	logger.Debug("job completed", "attempts", t.handle.Attempts(), "duration", time.Since(start).String())
	return nil
}

func (p *Pool) runOnce(ctx context.Context, job interfaces.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("panic in job", goerr.V("panic", r), goerr.V("key", job.Key), goerr.T(model.TagInput))
		}
	}()
	return job.Run(ctx)
}
