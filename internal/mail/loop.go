package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/mail2rag/internal/scheduler"
	"github.com/Aman-CERP/mail2rag/internal/state"
)

// reconnectBackoff is the fixed sleep after an IMAP error before the
// next tick retries.
const reconnectBackoff = 10 * time.Second

// Loop is the IMAP polling loop: it owns the UID cursor and is the
// sole writer of state.Cursor, the sole producer into the
// scheduler.Scheduler, and the sole caller of Source.
type Loop struct {
	source       Source
	archiver     *Archiver
	scheduler    *scheduler.Scheduler
	store        state.Store
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewLoop constructs a Loop. Routing is handled by Handler (the
// scheduler.Func run once a job is dequeued), not by the polling loop
// itself — Loop's job ends at "enqueue this raw message under this
// archive id".
func NewLoop(source Source, archiver *Archiver, sched *scheduler.Scheduler, store state.Store, pollInterval time.Duration, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Loop{
		source:       source,
		archiver:     archiver,
		scheduler:    sched,
		store:        store,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks, polling on pollInterval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	cursor, err := l.store.Load(ctx)
	if err != nil {
		return err
	}

	l.tick(ctx, cursor)

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx, cursor)
		}
	}
}

// tick runs one poll cycle. Any IMAP-layer error is logged and
// swallowed: the loop simply waits reconnectBackoff and tries again on
// the following regular tick (or sooner, since the sleep here runs
// inline before returning control to Run's ticker).
func (l *Loop) tick(ctx context.Context, cursor *state.Cursor) {
	if err := l.source.EnsureSession(ctx); err != nil {
		l.logger.Error("mail: imap session error", "error", err)
		sleepOrDone(ctx, reconnectBackoff)
		return
	}

	messages, err := l.source.FetchNewSince(ctx, cursor.LastUID)
	if err != nil {
		l.logger.Error("mail: imap fetch error", "error", err)
		sleepOrDone(ctx, reconnectBackoff)
		return
	}

	for _, msg := range messages {
		archiveID, err := l.store.GetOrCreateArchiveID(ctx, cursor, msg.UID)
		if err != nil {
			l.logger.Error("mail: failed to assign archive id", "uid", msg.UID, "error", err)
			continue
		}

		if l.archiver != nil {
			if err := l.archiver.WriteRaw(archiveID, msg.Raw); err != nil {
				l.logger.Error("mail: failed to archive raw message", "uid", msg.UID, "error", err)
				continue
			}
		}

		job := scheduler.Job{UID: msg.UID, ArchiveID: archiveID, RawMessage: msg.Raw}
		if err := l.scheduler.Enqueue(ctx, job); err != nil {
			// Context cancelled: stop this tick, the cursor is left at
			// the last successfully enqueued UID.
			l.logger.Warn("mail: enqueue cancelled", "uid", msg.UID, "error", err)
			return
		}

		cursor.LastUID = msg.UID
		if err := l.store.Save(ctx, cursor); err != nil {
			l.logger.Error("mail: failed to persist cursor", "uid", msg.UID, "error", err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
