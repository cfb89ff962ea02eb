package syncer

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWatchdogInterval is how often the watchdog sweeps for stuck locks.
const DefaultWatchdogInterval = 5 * time.Minute

// Watchdog periodically releases sync locks held past the stuck timeout.
// It does not signal the tasks that held them.
type Watchdog struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
}

// NewWatchdog returns a Watchdog sweeping every interval.
func NewWatchdog(c *Coordinator, interval time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{
		coordinator: c,
		interval:    interval,
		logger:      logger.With("component", "watchdog"),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("watchdog started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	released, err := w.coordinator.CleanupStuckSyncs(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("stuck sync sweep failed", "error", err)
		}
		return
	}
	if released > 0 {
		w.logger.Warn("stuck sync sweep released locks", "released", released)
	}
}
