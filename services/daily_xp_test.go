package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"course-progression/apperr"
	"course-progression/services"
	"course-progression/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDailyXPAccumulatesPerDay(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	clock := testutil.NewClock(day(2026, 3, 10, 9))
	tracker := services.NewDailyXPTracker(db, time.UTC, testutil.Logger(t))
	tracker.Now = clock.Now

	require.NoError(t, tracker.RecordDailyXP(ctx, "u1", clock.Now(), services.XPBreakdown{Lessons: 50, Streak: 5, LessonsCompleted: 1}))
	require.NoError(t, tracker.RecordDailyXP(ctx, "u1", clock.Now().Add(2*time.Hour), services.XPBreakdown{Games: 20, GamesCompleted: 1}))

	today, err := tracker.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", today.Day)
	assert.Equal(t, int64(50), today.XPFromLessons)
	assert.Equal(t, int64(20), today.XPFromGames)
	assert.Equal(t, int64(5), today.XPFromStreak)
	assert.Equal(t, int64(75), today.TotalXP)
	assert.Equal(t, 1, today.LessonsCompleted)
	assert.Equal(t, 1, today.GamesCompleted)

	var count int64
	require.NoError(t, db.Table("daily_xp").Where("user_id = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count, "one row per user per day")
}

func TestDailyXPDayFollowsLocation(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+9", 9*60*60)
	tracker := services.NewDailyXPTracker(testutil.DB(t), loc, testutil.Logger(t))
	tracker.Now = testutil.NewClock(day(2026, 3, 10, 21)).Now

	// 20:00 UTC on the 10th is already the 11th at UTC+9.
	require.NoError(t, tracker.RecordDailyXP(ctx, "u1", day(2026, 3, 10, 20), services.XPBreakdown{Lessons: 10, LessonsCompleted: 1}))

	today, err := tracker.Today(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-11", today.Day)
	assert.Equal(t, int64(10), today.TotalXP)
}

func TestDailyXPTodayEmpty(t *testing.T) {
	tracker := services.NewDailyXPTracker(testutil.DB(t), time.UTC, testutil.Logger(t))
	tracker.Now = testutil.NewClock(day(2026, 3, 10, 9)).Now

	today, err := tracker.Today(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", today.Day)
	assert.Equal(t, int64(0), today.TotalXP)
}

func TestDailyXPHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(day(2026, 3, 10, 9))
	tracker := services.NewDailyXPTracker(testutil.DB(t), time.UTC, testutil.Logger(t))
	tracker.Now = clock.Now

	for i := 0; i < 5; i++ {
		at := clock.Now().AddDate(0, 0, -i)
		require.NoError(t, tracker.RecordDailyXP(ctx, "u1", at, services.XPBreakdown{Lessons: int64(10 * (i + 1)), LessonsCompleted: 1}))
	}

	rows, err := tracker.History(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-03-10", rows[0].Day)
	assert.Equal(t, "2026-03-09", rows[1].Day)
	assert.Equal(t, "2026-03-08", rows[2].Day)
	assert.Equal(t, int64(10), rows[0].TotalXP)
}

func TestRecordDailyXPRejectsNegative(t *testing.T) {
	tracker := services.NewDailyXPTracker(testutil.DB(t), time.UTC, testutil.Logger(t))
	err := tracker.RecordDailyXP(context.Background(), "u1", day(2026, 3, 10, 9), services.XPBreakdown{Lessons: -1})
	assert.True(t, errors.Is(err, apperr.Validation))
}
