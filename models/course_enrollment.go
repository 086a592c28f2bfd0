package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EnrollmentStatus string

const (
	EnrollmentNotStarted EnrollmentStatus = "NOT_STARTED"
	EnrollmentInProgress EnrollmentStatus = "IN_PROGRESS"
	EnrollmentCompleted  EnrollmentStatus = "COMPLETED"
)

// CourseEnrollment is a learner's relationship to a course.
type CourseEnrollment struct {
	ID       string           `gorm:"primaryKey;type:uuid" json:"id"`
	UserID   string           `gorm:"not null;uniqueIndex:idx_enrollment_user_course,priority:1" json:"user_id"`
	CourseID string           `gorm:"not null;uniqueIndex:idx_enrollment_user_course,priority:2;index" json:"course_id"`
	Status   EnrollmentStatus `gorm:"type:varchar(16);not null;default:'NOT_STARTED'" json:"status"`

	TotalXPEarned   int64 `json:"total_xp_earned" gorm:"not null;default:0"`
	ProgressPercent int   `json:"progress_percent" gorm:"not null;default:0"`

	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`

	Timestamps
}

func (e *CourseEnrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
