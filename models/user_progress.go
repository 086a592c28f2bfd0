package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserProgress tracks XP, level and streak for each learner (denormalized for performance).
// TotalXP is lifetime earned XP; spending only moves SpentXP.
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // id issued by the auth collaborator

	// Core progression
	TotalXP       int64 `json:"total_xp" gorm:"not null;default:0"`
	SpentXP       int64 `json:"spent_xp" gorm:"not null;default:0"`
	CurrentLevel  int   `json:"current_level" gorm:"not null;default:1"`
	XPToNextLevel int64 `json:"xp_to_next_level" gorm:"not null;default:100"`

	// Streak
	CurrentStreak    int        `json:"current_streak" gorm:"not null;default:0"`
	LongestStreak    int        `json:"longest_streak" gorm:"not null;default:0"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`

	// Milestones
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

// AvailableXP is what can still be spent on reveals.
func (p *UserProgress) AvailableXP() int64 {
	if p.TotalXP <= p.SpentXP {
		return 0
	}
	return p.TotalXP - p.SpentXP
}

func (p *UserProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times. Rows owned by this service are never deleted.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
