package services_test

import (
	"context"
	"testing"
	"time"

	"course-progression/services"
	"course-progression/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStreakScheduler(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	tracker := services.NewStreakTracker(testutil.DB(t), defaultStreakPolicy, loc, testutil.Logger(t))

	sched, err := tracker.StartStreakScheduler(context.Background(), time.Second)
	require.NoError(t, err)
	defer func() { assert.NoError(t, sched.Shutdown()) }()

	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "expire-stale-streaks", jobs[0].Name())

	next, err := jobs[0].NextRun()
	require.NoError(t, err)
	local := next.In(loc)
	assert.Equal(t, 0, local.Hour())
	assert.Equal(t, 5, local.Minute())
}
