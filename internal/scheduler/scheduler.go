// Package scheduler implements a bounded FIFO job queue drained by a
// fixed pool of workers, with backpressure on enqueue and a
// best-effort graceful drain on shutdown. A failed job is logged and
// dropped rather than retried, since the UID cursor already advanced
// at enqueue time.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of work: an IMAP UID, its raw message bytes, and the
// archive id already assigned to that UID by the time it is enqueued.
type Job struct {
	UID        int64
	ArchiveID  string
	RawMessage []byte
}

// Func processes one job. Its error is logged, never retried
// automatically — delivery is at-least-once per job.
type Func func(ctx context.Context, job Job) error

// Scheduler owns the bounded queue and worker pool.
type Scheduler struct {
	queue   chan Job
	fn      Func
	logger  *slog.Logger
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New constructs a Scheduler with the given queue capacity and worker
// count, and starts the workers immediately.
func New(ctx context.Context, workerCount, queueSize int, fn Func, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	s := &Scheduler{
		queue:  make(chan Job, queueSize),
		fn:     fn,
		logger: logger,
	}

	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.worker(ctx, i)
	}
	return s
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for job := range s.queue {
		if err := s.fn(ctx, job); err != nil {
			s.logger.Error("scheduler: job failed", "worker", id, "uid", job.UID, "error", err)
		}
	}
}

// Enqueue blocks until the job is accepted by the queue or ctx is
// cancelled. MailLoop is the sole producer and is allowed to block,
// throttling IMAP polling naturally.
func (s *Scheduler) Enqueue(ctx context.Context, job Job) error {
	select {
	case s.queue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting new jobs and waits for in-flight and
// already queued jobs to finish, up to deadline. A deadline of zero
// waits indefinitely.
func (s *Scheduler) Shutdown(deadline time.Duration) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if deadline <= 0 {
		<-done
		return
	}

	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn("scheduler: shutdown deadline exceeded, in-flight jobs may be abandoned")
	}
}
