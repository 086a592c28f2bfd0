package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LessonStatus string

const (
	LessonLocked     LessonStatus = "LOCKED"
	LessonUnlocked   LessonStatus = "UNLOCKED"
	LessonInProgress LessonStatus = "IN_PROGRESS"
	LessonCompleted  LessonStatus = "COMPLETED"
)

// Started reports whether startLesson has run for this row.
func (s LessonStatus) Started() bool {
	return s == LessonInProgress || s == LessonCompleted
}

// CourseLessonProgress is a learner's state on one lesson.
// The completion fields are written once, on the first passing completion,
// and replayed verbatim to later completions of the same lesson.
type CourseLessonProgress struct {
	ID       string       `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string       `gorm:"not null;uniqueIndex:idx_lesson_progress_user_lesson,priority:1;index:idx_lesson_progress_user_course,priority:1" json:"user_id"`
	LessonID string       `gorm:"not null;uniqueIndex:idx_lesson_progress_user_lesson,priority:2" json:"lesson_id"`
	CourseID string       `gorm:"not null;index:idx_lesson_progress_user_course,priority:2" json:"course_id"`
	Status   LessonStatus `gorm:"type:varchar(16);not null;default:'LOCKED'" json:"status"`

	Score            *int `json:"score,omitempty"`
	LastScore        *int `json:"last_score,omitempty"`
	Attempts         int  `json:"attempts" gorm:"not null;default:0"`
	TimeSpentSeconds int  `json:"time_spent_seconds" gorm:"not null;default:0"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Recorded completion result
	XPAwarded     int64 `json:"xp_awarded" gorm:"not null;default:0"`
	StreakBonusXP int64 `json:"streak_bonus_xp" gorm:"not null;default:0"`
	LeveledUp     bool  `json:"leveled_up" gorm:"not null;default:false"`
	LevelAfter    int   `json:"level_after" gorm:"not null;default:0"`

	Timestamps
}

func (CourseLessonProgress) TableName() string {
	return "course_lesson_progress"
}

func (p *CourseLessonProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
