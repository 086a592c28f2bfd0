package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DailyXP aggregates a learner's XP per calendar day.
// (user_id, day) is unique; day is YYYY-MM-DD in the service time zone.
type DailyXP struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;uniqueIndex:idx_daily_xp_user_day,priority:1" json:"user_id"`
	Day    string `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_xp_user_day,priority:2" json:"day"`

	XPFromLessons    int64 `json:"xp_from_lessons" gorm:"not null;default:0"`
	XPFromGames      int64 `json:"xp_from_games" gorm:"not null;default:0"`
	XPFromStreak     int64 `json:"xp_from_streak" gorm:"not null;default:0"`
	TotalXP          int64 `json:"total_xp" gorm:"not null;default:0"`
	LessonsCompleted int   `json:"lessons_completed" gorm:"not null;default:0"`
	GamesCompleted   int   `json:"games_completed" gorm:"not null;default:0"`

	Timestamps
}

func (DailyXP) TableName() string {
	return "daily_xp"
}

func (d *DailyXP) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// XPSource tags where an XP award came from.
type XPSource string

const (
	XPSourceLesson XPSource = "lesson"
	XPSourceGame   XPSource = "game"
	XPSourceStreak XPSource = "streak"
	XPSourceBonus  XPSource = "bonus"
)

// DayLayout is the format of DailyXP.Day.
const DayLayout = "2006-01-02"

// DayKey truncates t to the calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}
