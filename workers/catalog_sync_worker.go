// workers/catalog_sync_worker.go
package workers

import (
	"context"
	"time"

	"course-progression/logger"
)

// CatalogLoader is implemented by services.Catalog.
type CatalogLoader interface {
	Load(ctx context.Context) error
}

// CatalogSyncWorker reloads the course catalog from its source on an interval.
type CatalogSyncWorker struct {
	catalog  CatalogLoader
	interval time.Duration
	timeout  time.Duration
	source   string
	log      *logger.Logger
}

func NewCatalogSyncWorker(catalog CatalogLoader, interval time.Duration, source string, log *logger.Logger) *CatalogSyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CatalogSyncWorker{
		catalog:  catalog,
		interval: interval,
		timeout:  30 * time.Second,
		source:   source,
		log:      log.With("worker", "CatalogSyncWorker"),
	}
}

// Start runs the refresh loop until ctx is cancelled. The initial load is
// done by the caller so startup can fail fast on a broken catalog.
func (w *CatalogSyncWorker) Start(ctx context.Context) {
	w.log.Info("starting catalog sync worker", "source", w.source, "interval", w.interval)
	go w.run(ctx)
}

func (w *CatalogSyncWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.syncOnce(ctx)
		case <-ctx.Done():
			w.log.Info("catalog sync worker stopped")
			return
		}
	}
}

func (w *CatalogSyncWorker) syncOnce(ctx context.Context) {
	loadCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	start := time.Now()
	if err := w.catalog.Load(loadCtx); err != nil {
		w.log.Warn("catalog refresh failed; keeping previous snapshot", "source", w.source, "error", err)
		return
	}
	w.log.Debug("catalog refreshed", "source", w.source, "took", time.Since(start))
}
