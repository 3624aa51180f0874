package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshotter persists the leaderboard for a date
type Snapshotter interface {
	Snapshot(ctx context.Context, date time.Time) error
}

// SnapshotWorker periodically persists the daily leaderboard snapshot.
// Repeated runs on the same day overwrite that day's snapshot.
type SnapshotWorker struct {
	snapshots Snapshotter
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewSnapshotWorker creates a new snapshot worker; now may be nil
func NewSnapshotWorker(
	snapshots Snapshotter,
	interval time.Duration,
	now func() time.Time,
	logger *slog.Logger,
) *SnapshotWorker {
	if now == nil {
		now = time.Now
	}
	return &SnapshotWorker{
		snapshots: snapshots,
		interval:  interval,
		now:       now,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background snapshot loop
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("snapshot worker started", "interval", w.interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background snapshot loop and waits for an in-flight run
func (w *SnapshotWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("snapshot worker stopped")
	return nil
}

// run is the main worker loop
func (w *SnapshotWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}

// RunOnce takes a single snapshot for the current UTC date. A failure is
// logged and leaves live reads unaffected.
func (w *SnapshotWorker) RunOnce(ctx context.Context) error {
	startTime := time.Now()
	date := w.now().UTC()

	if err := w.snapshots.Snapshot(ctx, date); err != nil {
		w.logger.Error("snapshot cycle failed",
			"date", date.Format(time.DateOnly),
			"error", err,
		)
		return err
	}

	w.logger.Info("snapshot cycle completed",
		"date", date.Format(time.DateOnly),
		"duration", time.Since(startTime),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SnapshotWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
