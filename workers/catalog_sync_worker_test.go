package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"course-progression/logger"

	"github.com/stretchr/testify/assert"
)

type countingLoader struct {
	calls int32
	err   error
}

func (l *countingLoader) Load(ctx context.Context) error {
	atomic.AddInt32(&l.calls, 1)
	return l.err
}

func TestCatalogSyncWorkerReloadsUntilCancelled(t *testing.T) {
	loader := &countingLoader{}
	w := NewCatalogSyncWorker(loader, 10*time.Millisecond, "file://catalog.json", logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&loader.calls) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(30 * time.Millisecond)
	stopped := atomic.LoadInt32(&loader.calls)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&loader.calls), "no reloads after cancel")
}

func TestCatalogSyncWorkerSurvivesErrors(t *testing.T) {
	loader := &countingLoader{err: errors.New("bucket unavailable")}
	w := NewCatalogSyncWorker(loader, time.Minute, "r2://bucket/catalog.json", logger.Nop())

	w.syncOnce(context.Background())
	w.syncOnce(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.calls))
}
