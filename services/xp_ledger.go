package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BaseXPPerLevel scales the level curve: level n → n+1 needs floor(BaseXPPerLevel * n^1.5).
const BaseXPPerLevel = 100

// MaxLevel bounds the level loop; cumulative XP at this level is ~4e11.
const MaxLevel = 10000

// XPForNextLevel returns XP required to reach level+1 from level.
// floor(100 * n^1.5) == floor(sqrt(10000 * n^3)), computed exactly in integers.
func XPForNextLevel(level int) int64 {
	if level < 1 {
		level = 1
	}
	n := uint64(level)
	return int64(isqrt(BaseXPPerLevel * BaseXPPerLevel * n * n * n))
}

// CumulativeXPForLevel is the total XP at which level is reached (level 1 = 0).
func CumulativeXPForLevel(level int) int64 {
	var total int64
	for n := 1; n < level && n < MaxLevel; n++ {
		total += XPForNextLevel(n)
	}
	return total
}

// LevelForXP returns the largest level whose cumulative threshold is <= totalXP.
func LevelForXP(totalXP int64) int {
	level := 1
	threshold := XPForNextLevel(1)
	for level < MaxLevel && totalXP >= threshold {
		level++
		threshold += XPForNextLevel(level)
	}
	return level
}

func isqrt(x uint64) uint64 {
	r := uint64(math.Sqrt(float64(x)))
	for r*r > x {
		r--
	}
	for (r+1)*(r+1) <= x {
		r++
	}
	return r
}

// LevelStatus is the level block of GET level/status.
type LevelStatus struct {
	CurrentLevel     int   `json:"currentLevel"`
	TotalXP          int64 `json:"totalXP"`
	XPToNextLevel    int64 `json:"xpToNextLevel"`
	XPInCurrentLevel int64 `json:"xpInCurrentLevel"`
	AvailableXP      int64 `json:"availableXP"`
}

// LevelStatusFor derives the level block from a progress row.
func LevelStatusFor(prog *models.UserProgress) LevelStatus {
	level := prog.CurrentLevel
	if computed := LevelForXP(prog.TotalXP); computed > level {
		level = computed
	}
	start := CumulativeXPForLevel(level)
	return LevelStatus{
		CurrentLevel:     level,
		TotalXP:          prog.TotalXP,
		XPToNextLevel:    start + XPForNextLevel(level) - prog.TotalXP,
		XPInCurrentLevel: prog.TotalXP - start,
		AvailableXP:      prog.AvailableXP(),
	}
}

// RevealPolicy prices answer reveals: proportional to question points, damped by level.
type RevealPolicy struct {
	Multiplier int64
	Damping    int64
}

// CalculateRevealCost = max(1, floor(points * Multiplier * Damping / (Damping + level - 1))).
func (p RevealPolicy) CalculateRevealCost(questionPoints int, userLevel int) int64 {
	if questionPoints < 0 {
		questionPoints = 0
	}
	if userLevel < 1 {
		userLevel = 1
	}
	mult, damp := p.Multiplier, p.Damping
	if mult < 1 {
		mult = 1
	}
	if damp < 1 {
		damp = 1
	}
	cost := int64(questionPoints) * mult * damp / (damp + int64(userLevel) - 1)
	if cost < 1 {
		return 1
	}
	return cost
}

// AwardResult is what an XP award reports back.
type AwardResult struct {
	NewTotalXP    int64 `json:"newTotalXP"`
	LeveledUp     bool  `json:"leveledUp"`
	NewLevel      int   `json:"newLevel"`
	PreviousLevel int   `json:"previousLevel"`
}

// XPLedger owns TotalXP, SpentXP and the level fields of UserProgress.
type XPLedger struct {
	DB     *gorm.DB
	Reveal RevealPolicy
	Now    func() time.Time
	log    *logger.Logger
}

func NewXPLedger(db *gorm.DB, reveal RevealPolicy, log *logger.Logger) *XPLedger {
	return &XPLedger{
		DB:     db,
		Reveal: reveal,
		Now:    time.Now,
		log:    log.With("service", "XPLedger"),
	}
}

// EnsureProgressRecord returns the user's progress row, creating it on first use.
// Safe under concurrent first touches: the insert is ON CONFLICT DO NOTHING.
func (l *XPLedger) EnsureProgressRecord(tx *gorm.DB, externalUserID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	res := tx.Where("external_user_id = ?", externalUserID).Limit(1).Find(&prog)
	if res.Error != nil {
		return nil, fmt.Errorf("load progress for %s: %w", externalUserID, res.Error)
	}
	if res.RowsAffected > 0 {
		return &prog, nil
	}

	prog = models.UserProgress{
		ExternalUserID: externalUserID,
		CurrentLevel:   1,
		XPToNextLevel:  XPForNextLevel(1),
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoNothing: true,
	}).Create(&prog).Error; err != nil {
		return nil, fmt.Errorf("create progress for %s: %w", externalUserID, err)
	}

	var stored models.UserProgress
	if err := tx.Where("external_user_id = ?", externalUserID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload progress for %s: %w", externalUserID, err)
	}
	return &stored, nil
}

// GetProgress is a read-only lookup that does not create rows.
func (l *XPLedger) GetProgress(ctx context.Context, externalUserID string) (*models.UserProgress, error) {
	var prog models.UserProgress
	res := l.DB.WithContext(ctx).Where("external_user_id = ?", externalUserID).Limit(1).Find(&prog)
	if res.Error != nil {
		return nil, fmt.Errorf("load progress for %s: %w", externalUserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return &models.UserProgress{ExternalUserID: externalUserID, CurrentLevel: 1, XPToNextLevel: XPForNextLevel(1)}, nil
	}
	return &prog, nil
}

// AwardXP atomically adds amount to the user's XP and recomputes level.
func (l *XPLedger) AwardXP(ctx context.Context, externalUserID string, amount int64, source models.XPSource) (*AwardResult, error) {
	var result *AwardResult
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = l.AwardXPTx(tx, externalUserID, amount, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AwardXPTx is AwardXP inside the caller's transaction.
func (l *XPLedger) AwardXPTx(tx *gorm.DB, externalUserID string, amount int64, source models.XPSource) (*AwardResult, error) {
	if amount < 0 {
		return nil, apperr.Validationf("xp amount must be non-negative, got %d", amount)
	}

	prog, err := l.EnsureProgressRecord(tx, externalUserID)
	if err != nil {
		return nil, err
	}
	oldLevel := prog.CurrentLevel
	if amount == 0 {
		return &AwardResult{NewTotalXP: prog.TotalXP, NewLevel: oldLevel, PreviousLevel: oldLevel}, nil
	}

	// Increment in SQL so concurrent awards never lose an update.
	if err := tx.Model(&models.UserProgress{}).
		Where("id = ?", prog.ID).
		Update("total_xp", gorm.Expr("total_xp + ?", amount)).Error; err != nil {
		return nil, fmt.Errorf("award xp to %s: %w", externalUserID, err)
	}
	if err := tx.Where("id = ?", prog.ID).First(prog).Error; err != nil {
		return nil, fmt.Errorf("reload progress for %s: %w", externalUserID, err)
	}

	// A single award may cross several thresholds; level never goes down.
	newLevel := LevelForXP(prog.TotalXP)
	if newLevel < prog.CurrentLevel {
		newLevel = prog.CurrentLevel
	}

	updates := map[string]interface{}{
		"current_level":    newLevel,
		"xp_to_next_level": CumulativeXPForLevel(newLevel+1) - prog.TotalXP,
	}
	if newLevel > oldLevel {
		updates["last_level_up_at"] = l.Now().UTC()
	}
	if err := tx.Model(&models.UserProgress{}).Where("id = ?", prog.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update level for %s: %w", externalUserID, err)
	}

	l.log.Info("xp awarded",
		"user_id", externalUserID,
		"amount", amount,
		"source", source,
		"total_xp", prog.TotalXP,
		"level", newLevel,
	)

	return &AwardResult{
		NewTotalXP:    prog.TotalXP,
		LeveledUp:     newLevel > oldLevel,
		NewLevel:      newLevel,
		PreviousLevel: oldLevel,
	}, nil
}

// RevealAnswerWithXP spends cost XP. Fails with InsufficientXP when the
// spendable balance is below cost; returns the remaining balance.
func (l *XPLedger) RevealAnswerWithXP(ctx context.Context, externalUserID string, cost int64) (int64, error) {
	var remaining int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = l.RevealAnswerWithXPTx(tx, externalUserID, cost)
		return err
	})
	return remaining, err
}

func (l *XPLedger) RevealAnswerWithXPTx(tx *gorm.DB, externalUserID string, cost int64) (int64, error) {
	if cost < 1 {
		return 0, apperr.Validationf("reveal cost must be positive, got %d", cost)
	}
	prog, err := l.EnsureProgressRecord(tx, externalUserID)
	if err != nil {
		return 0, err
	}

	res := tx.Model(&models.UserProgress{}).
		Where("id = ? AND total_xp - spent_xp >= ?", prog.ID, cost).
		Update("spent_xp", gorm.Expr("spent_xp + ?", cost))
	if res.Error != nil {
		return 0, fmt.Errorf("spend xp for %s: %w", externalUserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, apperr.WithDetails(apperr.KindInsufficientXP,
			map[string]int64{"available": prog.AvailableXP(), "cost": cost},
			"need %d XP, have %d", cost, prog.AvailableXP())
	}

	if err := tx.Where("id = ?", prog.ID).First(prog).Error; err != nil {
		return 0, fmt.Errorf("reload progress for %s: %w", externalUserID, err)
	}
	l.log.Info("xp spent on reveal", "user_id", externalUserID, "cost", cost, "remaining", prog.AvailableXP())
	return prog.AvailableXP(), nil
}
