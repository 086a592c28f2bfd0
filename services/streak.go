package services

import (
	"context"
	"fmt"
	"time"

	"course-progression/logger"
	"course-progression/models"

	"gorm.io/gorm"
)

// StreakBonusTier grants Percent extra XP once the streak is at least MinStreak days.
type StreakBonusTier struct {
	MinStreak int
	Percent   int
}

// StreakPolicy is the stepped bonus table. Tiers must be sorted by MinStreak
// with non-decreasing Percent.
type StreakPolicy struct {
	Tiers []StreakBonusTier
}

// BonusPercent returns the highest tier reached by streak.
func (p StreakPolicy) BonusPercent(streak int) int {
	pct := 0
	for _, t := range p.Tiers {
		if streak >= t.MinStreak && t.Percent > pct {
			pct = t.Percent
		}
	}
	return pct
}

// CalculateXPWithStreak returns the bonus-adjusted XP and the bonus part alone, rounded down.
func (p StreakPolicy) CalculateXPWithStreak(baseXP int64, currentStreak int) (total int64, bonus int64) {
	if baseXP <= 0 {
		return 0, 0
	}
	bonus = baseXP * int64(p.BonusPercent(currentStreak)) / 100
	return baseXP + bonus, bonus
}

// StreakState is the part of UserProgress the streak machine reads and writes.
type StreakState struct {
	Current      int
	Longest      int
	LastActivity *time.Time
}

// StreakUpdate describes one transition.
type StreakUpdate struct {
	Previous int  `json:"previous"`
	Current  int  `json:"current"`
	Longest  int  `json:"longest"`
	Changed  bool `json:"changed"`
	Reset    bool `json:"reset"`
}

// civilDay maps t to midnight UTC of its calendar date in loc, so day
// differences are whole multiples of 24h regardless of DST.
func civilDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts calendar days from a to b in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	return int(civilDay(b, loc).Sub(civilDay(a, loc)).Hours() / 24)
}

// NextStreak applies one activity at now to state.
//
//	no previous activity   -> 1
//	same calendar day      -> unchanged
//	exactly one day later  -> +1
//	two or more days later -> reset to 1
func NextStreak(state StreakState, now time.Time, loc *time.Location) StreakUpdate {
	up := StreakUpdate{Previous: state.Current, Current: state.Current, Longest: state.Longest}

	switch {
	case state.LastActivity == nil:
		up.Current = 1
		up.Changed = true
	default:
		gap := DaysBetween(*state.LastActivity, now, loc)
		switch {
		case gap <= 0:
			// already counted today; a clock skew backwards is treated the same way
			if up.Current < 1 {
				up.Current = 1
				up.Changed = true
			}
		case gap == 1:
			up.Current = state.Current + 1
			up.Changed = true
		default:
			up.Current = 1
			up.Changed = true
			up.Reset = true
		}
	}

	if up.Current > up.Longest {
		up.Longest = up.Current
	}
	return up
}

// StreakStatus is the streak block of GET level/status.
type StreakStatus struct {
	Current          int        `json:"current"`
	Longest          int        `json:"longest"`
	LastActivityDate *time.Time `json:"lastActivityDate,omitempty"`
	ActiveToday      bool       `json:"activeToday"`
	BonusPercent     int        `json:"bonusPercent"`
}

// StreakTracker reads and writes the streak fields of UserProgress.
type StreakTracker struct {
	DB       *gorm.DB
	Policy   StreakPolicy
	Location *time.Location
	Now      func() time.Time
	log      *logger.Logger
}

func NewStreakTracker(db *gorm.DB, policy StreakPolicy, loc *time.Location, log *logger.Logger) *StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakTracker{
		DB:       db,
		Policy:   policy,
		Location: loc,
		Now:      time.Now,
		log:      log.With("service", "StreakTracker"),
	}
}

// RecordActivityTx advances the streak for prog at now and persists it.
func (t *StreakTracker) RecordActivityTx(tx *gorm.DB, prog *models.UserProgress, now time.Time) (StreakUpdate, error) {
	up := NextStreak(StreakState{
		Current:      prog.CurrentStreak,
		Longest:      prog.LongestStreak,
		LastActivity: prog.LastActivityDate,
	}, now, t.Location)

	ts := now.UTC()
	if err := tx.Model(&models.UserProgress{}).Where("id = ?", prog.ID).Updates(map[string]interface{}{
		"current_streak":     up.Current,
		"longest_streak":     up.Longest,
		"last_activity_date": ts,
	}).Error; err != nil {
		return up, fmt.Errorf("update streak for %s: %w", prog.ExternalUserID, err)
	}

	prog.CurrentStreak = up.Current
	prog.LongestStreak = up.Longest
	prog.LastActivityDate = &ts

	if up.Reset {
		t.log.Info("streak reset", "user_id", prog.ExternalUserID, "previous", up.Previous)
	} else if up.Changed {
		t.log.Debug("streak advanced", "user_id", prog.ExternalUserID, "current", up.Current)
	}
	return up, nil
}

// StatusFor reports the streak as it stands at now. A streak whose last
// activity is older than yesterday is already broken and reported as 0.
func (t *StreakTracker) StatusFor(prog *models.UserProgress, now time.Time) StreakStatus {
	st := StreakStatus{
		Current:          prog.CurrentStreak,
		Longest:          prog.LongestStreak,
		LastActivityDate: prog.LastActivityDate,
	}
	if prog.LastActivityDate == nil {
		st.Current = 0
	} else {
		gap := DaysBetween(*prog.LastActivityDate, now, t.Location)
		st.ActiveToday = gap <= 0
		if gap >= 2 {
			st.Current = 0
		}
	}
	st.BonusPercent = t.Policy.BonusPercent(st.Current)
	return st
}

// ExpireStaleStreaks persists NO_STREAK (0) for users with no activity since
// before yesterday. Returns the number of rows changed.
func (t *StreakTracker) ExpireStaleStreaks(ctx context.Context) (int64, error) {
	now := t.Now()
	y, m, d := now.In(t.Location).Date()
	startOfYesterday := time.Date(y, m, d-1, 0, 0, 0, 0, t.Location).UTC()

	res := t.DB.WithContext(ctx).Model(&models.UserProgress{}).
		Where("current_streak > 0 AND last_activity_date < ?", startOfYesterday).
		Update("current_streak", 0)
	if res.Error != nil {
		return 0, fmt.Errorf("expire stale streaks: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		t.log.Info("stale streaks expired", "count", res.RowsAffected, "cutoff", startOfYesterday)
	}
	return res.RowsAffected, nil
}
