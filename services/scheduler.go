// services/scheduler.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartStreakScheduler runs ExpireStaleStreaks shortly after midnight in the
// tracker's location. The caller owns the returned scheduler and shuts it down.
func (t *StreakTracker) StartStreakScheduler(ctx context.Context, timeout time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(t.Location))
	if err != nil {
		return nil, fmt.Errorf("create streak scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			jobCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if _, err := t.ExpireStaleStreaks(jobCtx); err != nil {
				t.log.Error("streak expiry job failed", "error", err)
			}
		}),
		gocron.WithName("expire-stale-streaks"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule streak expiry: %w", err)
	}

	sched.Start()
	t.log.Info("streak scheduler started", "location", t.Location.String())
	return sched, nil
}
