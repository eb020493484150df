package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/apperr"
	"github.com/ejjays/RN-chatapp/internal/domain"
)

// Job is the pending side-effect update of one persisted message.
type Job struct {
	Message    domain.Message `json:"message"`
	Recipients []string       `json:"recipients"`
}

// Applier performs the idempotent update for a job.
type Applier func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

var ErrQueueFull = errors.New("reconcile queue full")

// applyUntilDone retries transient failures with capped exponential backoff
// until ctx ends. Permanent failures are returned at once.
func applyUntilDone(ctx context.Context, apply Applier, job Job, maxInterval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		err := apply(ctx, job)
		if err != nil && !apperr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// Worker is an in-process Queue drained by a fixed pool of goroutines.
type Worker struct {
	apply       Applier
	log         *zap.Logger
	jobs        chan Job
	workers     int
	maxInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(apply Applier, workers, buffer int, log *zap.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Worker{
		apply:       apply,
		log:         log,
		jobs:        make(chan Job, buffer),
		workers:     workers,
		maxInterval: 5 * time.Second,
	}
}

func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.jobs:
					w.run(ctx, job)
				}
			}
		}()
	}
}

func (w *Worker) run(ctx context.Context, job Job) {
	if err := applyUntilDone(ctx, w.apply, job, w.maxInterval); err != nil {
		w.log.Error("reconcile: giving up on message effects",
			zap.String("chat_id", job.Message.ChatID),
			zap.String("message_id", job.Message.ID),
			zap.Error(err))
	}
}

func (w *Worker) Enqueue(_ context.Context, job Job) error {
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels in-flight retries and waits for the pool to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
