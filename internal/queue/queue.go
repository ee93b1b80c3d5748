// Package queue runs deferred processing tasks on an in-process worker
// pool. Execution is at-least-once: transient failures are retried,
// permanent ones are not, and task bodies are expected to be idempotent.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/inboxsift/inboxsift/internal/errs"
)

// Task is one unit of deferred work
type Task struct {
	ID         string
	UserEmail  string
	MessageIDs []string // empty means "fetch recent"
	DaysBack   int
	MaxEmails  int

	attempt int
}

// Handler executes a task
type Handler func(ctx context.Context, task Task) error

// Queue is a bounded in-process task queue
type Queue struct {
	tasks      chan Task
	handler    Handler
	workers    int
	maxRetries int
	backoff    time.Duration
	stopped    atomic.Bool
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// Config for the task queue
type Config struct {
	Workers    int
	Buffer     int
	MaxRetries int
	Backoff    time.Duration
}

// New creates a task queue. Start must be called before Enqueue is useful.
func New(cfg Config, handler Handler, logger *slog.Logger) *Queue {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	buffer := cfg.Buffer
	if buffer < 1 {
		buffer = 64
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 2 * time.Second
	}
	return &Queue{
		tasks:      make(chan Task, buffer),
		handler:    handler,
		workers:    workers,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		logger:     logger.With("component", "queue"),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled,
// at which point intake closes: later Enqueue calls fail instead of
// accepting tasks no worker will ever run.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx)
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		<-ctx.Done()
		q.stopped.Store(true)
	}()
	q.logger.Info("task queue started", "workers", q.workers)
}

// Wait blocks until all workers have exited
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue submits a task and returns its id. Fails when the queue is
// full rather than blocking the triggering request.
func (q *Queue) Enqueue(task Task) (string, error) {
	if q.stopped.Load() {
		return "", errs.New(errs.KindUpstream, "task queue shut down")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	select {
	case q.tasks <- task:
		q.logger.Info("enqueued task", "task_id", task.ID, "user", task.UserEmail)
		return task.ID, nil
	default:
		return "", errs.New(errs.KindUpstream, "task queue full, retry later")
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			q.execute(ctx, task)
		}
	}
}

// execute runs a task, retrying in place with a fixed backoff on
// transient failures. Permanent failures (bad credential, bad input)
// are dropped immediately.
func (q *Queue) execute(ctx context.Context, task Task) {
	for {
		err := q.handler(ctx, task)
		if err == nil {
			q.logger.Info("task completed", "task_id", task.ID, "user", task.UserEmail)
			return
		}

		if !errs.Retryable(err) || task.attempt >= q.maxRetries {
			q.logger.Error("task failed", "task_id", task.ID, "user", task.UserEmail,
				"attempts", task.attempt+1, "error", err)
			return
		}

		task.attempt++
		q.logger.Warn("task retrying", "task_id", task.ID, "attempt", task.attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff):
		}
	}
}
