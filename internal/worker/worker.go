// Package worker runs background maintenance for the output directory.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner removes documents older than maxAge and reports how many it deleted.
type Cleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// Config controls Worker behavior.
type Config struct {
	// Interval between sweeps. Zero disables the worker.
	Interval time.Duration
	// MaxAge is the retention horizon passed to the cleaner.
	MaxAge time.Duration
}

// Worker periodically sweeps expired documents out of the store.
type Worker struct {
	cleaner Cleaner
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(cleaner Cleaner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cleaner: cleaner,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, sweeping once per interval until the context finishes. The first
// sweep happens immediately.
func (w *Worker) Run(ctx context.Context) {
	if w.cleaner == nil || w.cfg.Interval <= 0 || w.cfg.MaxAge <= 0 {
		w.logger.Info("retention worker disabled",
			zap.Duration("interval", w.cfg.Interval),
			zap.Duration("max_age", w.cfg.MaxAge),
		)
		return
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs a single cleanup pass and returns the number of removed files.
func (w *Worker) Sweep(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	removed, err := w.cleaner.Cleanup(ctx, w.cfg.MaxAge)
	if err != nil {
		w.logger.Error("retention sweep failed", zap.Error(err))
		return removed
	}
	if removed > 0 {
		w.logger.Info("retention sweep removed files", zap.Int("removed", removed))
	} else {
		w.logger.Debug("retention sweep found nothing to remove")
	}
	return removed
}
