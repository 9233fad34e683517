package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type MemoryOptions struct {
	Workers        int
	BufferSize     int
	EnqueueTimeout time.Duration // wait for room in a full buffer
	Logger         *slog.Logger
	Recorder       Recorder
}

// MemoryQueue runs tasks on in-process workers. Pending retries are lost on
// restart.
type MemoryQueue struct {
	handler        Handler
	tasks          chan Task
	workers        int
	enqueueTimeout time.Duration
	logger         *slog.Logger
	recorder       Recorder

	stopped  chan struct{}
	stopOnce sync.Once
}

func NewMemoryQueue(handler Handler, opts MemoryOptions) *MemoryQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &MemoryQueue{
		handler:        handler,
		tasks:          make(chan Task, opts.BufferSize),
		workers:        opts.Workers,
		enqueueTimeout: opts.EnqueueTimeout,
		logger:         opts.Logger.With(slog.String("component", "notify-memory")),
		recorder:       opts.Recorder,
		stopped:        make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task, maxRetries int, backoff time.Duration) error {
	prepare(&task, maxRetries, backoff)
	return q.push(ctx, task)
}

// push waits for room in the buffer until ctx is done, the queue stops or
// the enqueue timeout passes.
func (q *MemoryQueue) push(ctx context.Context, task Task) error {
	select {
	case <-q.stopped:
		return ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- task:
		return nil
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.tasks <- task:
		return nil
	case <-q.stopped:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}

	<-ctx.Done()
	q.stopOnce.Do(func() { close(q.stopped) })

	wg.Wait()
	return nil
}

func (q *MemoryQueue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.process(ctx, task)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, task Task) {
	if !attempt(ctx, q.handler, task, q.logger, q.recorder) {
		return
	}

	task.Attempt++
	time.AfterFunc(task.Backoff, func() {
		if err := q.push(context.Background(), task); err != nil {
			q.logger.Error("failed to reschedule notification",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()))
		}
	})
}
