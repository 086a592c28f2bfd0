package services

import (
	"context"
	"fmt"
	"time"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// XPBreakdown is one activity's contribution to a day.
type XPBreakdown struct {
	Lessons          int64
	Games            int64
	Streak           int64
	LessonsCompleted int
	GamesCompleted   int
}

func (b XPBreakdown) Total() int64 {
	return b.Lessons + b.Games + b.Streak
}

// DailyXPTracker keeps one DailyXP row per user per calendar day.
type DailyXPTracker struct {
	DB       *gorm.DB
	Location *time.Location
	Now      func() time.Time
	log      *logger.Logger
}

func NewDailyXPTracker(db *gorm.DB, loc *time.Location, log *logger.Logger) *DailyXPTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyXPTracker{
		DB:       db,
		Location: loc,
		Now:      time.Now,
		log:      log.With("service", "DailyXPTracker"),
	}
}

// RecordDailyXP adds breakdown to the row for date's calendar day.
// Every call accumulates; each one stands for a distinct activity.
func (d *DailyXPTracker) RecordDailyXP(ctx context.Context, externalUserID string, date time.Time, b XPBreakdown) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return d.RecordDailyXPTx(tx, externalUserID, date, b)
	})
}

func (d *DailyXPTracker) RecordDailyXPTx(tx *gorm.DB, externalUserID string, date time.Time, b XPBreakdown) error {
	if b.Lessons < 0 || b.Games < 0 || b.Streak < 0 || b.LessonsCompleted < 0 || b.GamesCompleted < 0 {
		return apperr.Validationf("daily xp breakdown must be non-negative")
	}

	row := models.DailyXP{
		UserID:           externalUserID,
		Day:              models.DayKey(date, d.Location),
		XPFromLessons:    b.Lessons,
		XPFromGames:      b.Games,
		XPFromStreak:     b.Streak,
		TotalXP:          b.Total(),
		LessonsCompleted: b.LessonsCompleted,
		GamesCompleted:   b.GamesCompleted,
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"xp_from_lessons":   gorm.Expr("daily_xp.xp_from_lessons + ?", b.Lessons),
			"xp_from_games":     gorm.Expr("daily_xp.xp_from_games + ?", b.Games),
			"xp_from_streak":    gorm.Expr("daily_xp.xp_from_streak + ?", b.Streak),
			"total_xp":          gorm.Expr("daily_xp.total_xp + ?", b.Total()),
			"lessons_completed": gorm.Expr("daily_xp.lessons_completed + ?", b.LessonsCompleted),
			"games_completed":   gorm.Expr("daily_xp.games_completed + ?", b.GamesCompleted),
			"updated_at":        d.Now().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("record daily xp for %s on %s: %w", externalUserID, row.Day, err)
	}
	return nil
}

// Today returns today's row, or an empty row if nothing was recorded yet.
func (d *DailyXPTracker) Today(ctx context.Context, externalUserID string) (*models.DailyXP, error) {
	day := models.DayKey(d.Now(), d.Location)
	var row models.DailyXP
	res := d.DB.WithContext(ctx).
		Where("user_id = ? AND day = ?", externalUserID, day).
		Limit(1).Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("load daily xp for %s: %w", externalUserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &models.DailyXP{UserID: externalUserID, Day: day}, nil
	}
	return &row, nil
}

// History returns the recorded days within the last `days` days, newest first.
func (d *DailyXPTracker) History(ctx context.Context, externalUserID string, days int) ([]models.DailyXP, error) {
	if days < 1 || days > 365 {
		days = 30
	}
	now := d.Now().In(d.Location)
	since := models.DayKey(now.AddDate(0, 0, -(days - 1)), d.Location)

	var rows []models.DailyXP
	err := d.DB.WithContext(ctx).
		Where("user_id = ? AND day >= ?", externalUserID, since).
		Order("day DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load daily xp history for %s: %w", externalUserID, err)
	}
	return rows, nil
}
