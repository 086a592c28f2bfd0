package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Certificate is issued once per (user, course) when the enrollment completes.
type Certificate struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string    `gorm:"not null;uniqueIndex:idx_certificate_user_course,priority:1" json:"user_id"`
	CourseID    string    `gorm:"not null;uniqueIndex:idx_certificate_user_course,priority:2" json:"course_id"`
	Code        string    `gorm:"uniqueIndex;not null" json:"code"` // e.g., "intro-to-fractions-1a2b3c4d"
	CourseTitle string    `json:"course_title"`
	IssuedAt    time.Time `json:"issued_at"`
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
