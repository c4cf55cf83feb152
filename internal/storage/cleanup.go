package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupWorker removes local artifacts older than maxAge.
type CleanupWorker struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCleanupWorker(dir string, maxAge, interval time.Duration, log *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		log:      log.With(zap.String("service", "artifact_cleanup")),
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.RunOnce()
			}
		}
	}()
	w.log.Info("artifact cleanup started", zap.Duration("max_age", w.maxAge), zap.Duration("interval", w.interval))
}

func (w *CleanupWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.log.Info("artifact cleanup stopped")
}

// RunOnce deletes expired files and returns how many were removed.
func (w *CleanupWorker) RunOnce() int {
	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		return 0
	}

	removed := 0
	err := filepath.Walk(w.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && time.Since(info.ModTime()) > w.maxAge {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		w.log.Error("artifact cleanup failed", zap.String("dir", w.dir), zap.Error(err))
	}
	if removed > 0 {
		w.log.Info("removed expired artifacts", zap.Int("count", removed))
	}
	return removed
}
