package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/models"

	"gorm.io/gorm"
)

// ProgressionOptions are the tunables of the progression engine.
type ProgressionOptions struct {
	PassMark         int
	Location         *time.Location
	Streak           StreakPolicy
	Reveal           RevealPolicy
	OperationTimeout time.Duration
}

// ProgressionService composes the gate, ledger, streak and enrollment
// components into the user-facing operations. Each operation is one
// database transaction.
type ProgressionService struct {
	DB           *gorm.DB
	Catalog      CatalogReader
	Locker       Locker
	Ledger       *XPLedger
	Streaks      *StreakTracker
	Daily        *DailyXPTracker
	Gate         *LessonGate
	Enrollments  *EnrollmentManager
	Certificates *CertificateService

	PassMark         int
	OperationTimeout time.Duration
	now              func() time.Time
	log              *logger.Logger
}

func NewProgressionService(db *gorm.DB, catalog CatalogReader, locker Locker, opts ProgressionOptions, log *logger.Logger) *ProgressionService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 5 * time.Second
	}
	enrollments := NewEnrollmentManager(db, catalog, log)
	s := &ProgressionService{
		DB:               db,
		Catalog:          catalog,
		Locker:           locker,
		Ledger:           NewXPLedger(db, opts.Reveal, log),
		Streaks:          NewStreakTracker(db, opts.Streak, opts.Location, log),
		Daily:            NewDailyXPTracker(db, opts.Location, log),
		Gate:             NewLessonGate(db, catalog, enrollments, log),
		Enrollments:      enrollments,
		Certificates:     NewCertificateService(db, log),
		PassMark:         opts.PassMark,
		OperationTimeout: opts.OperationTimeout,
		now:              time.Now,
		log:              log.With("service", "ProgressionService"),
	}
	return s
}

// SetClock replaces the time source of the service and its components.
func (s *ProgressionService) SetClock(now func() time.Time) {
	s.now = now
	s.Ledger.Now = now
	s.Streaks.Now = now
	s.Daily.Now = now
	s.Enrollments.Now = now
}

func (s *ProgressionService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.OperationTimeout)
}

func (s *ProgressionService) lookupLesson(lessonID string) (*models.Lesson, *models.Course, error) {
	if lessonID == "" {
		return nil, nil, apperr.Validationf("lessonId is required")
	}
	lesson, course, ok := s.Catalog.Lesson(lessonID)
	if !ok {
		return nil, nil, apperr.NotFoundf("lesson %s not found", lessonID)
	}
	return lesson, course, nil
}

func lessonLockKey(userID, lessonID string) string {
	return "lesson:" + userID + ":" + lessonID
}

// StartLesson opens a lesson for the user; see LessonGate.StartLessonTx.
func (s *ProgressionService) StartLesson(ctx context.Context, userID, lessonID string) (*models.CourseLessonProgress, error) {
	lesson, course, err := s.lookupLesson(lessonID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.Locker.Lock(ctx, lessonLockKey(userID, lessonID))
	if err != nil {
		return nil, fmt.Errorf("lock lesson %s for %s: %w", lessonID, userID, err)
	}
	defer unlock()

	var progress *models.CourseLessonProgress
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		progress, err = s.Gate.StartLessonTx(tx, userID, lesson, course, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}

// CompleteLessonInput is the body of POST lessons/{id}/complete.
type CompleteLessonInput struct {
	Score            *int
	TimeSpentSeconds int
}

// NextLessonRef identifies the lesson unlocked by a completion.
type NextLessonRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// CompletionResult is returned by CompleteLesson. Failed attempts only carry
// Passed, Score, PassMark and Attempts.
type CompletionResult struct {
	Passed             bool                `json:"passed"`
	Score              *int                `json:"score,omitempty"`
	PassMark           int                 `json:"passMark,omitempty"`
	Attempts           int                 `json:"attempts,omitempty"`
	AlreadyCompleted   bool                `json:"alreadyCompleted,omitempty"`
	XPAwarded          int64               `json:"xpAwarded,omitempty"`
	StreakBonus        int64               `json:"streakBonus,omitempty"`
	Streak             int                 `json:"streak,omitempty"`
	NextLessonUnlocked bool                `json:"nextLessonUnlocked,omitempty"`
	NextLesson         *NextLessonRef      `json:"nextLesson,omitempty"`
	LeveledUp          bool                `json:"leveledUp,omitempty"`
	NewLevel           int                 `json:"newLevel,omitempty"`
	CourseCompleted    bool                `json:"courseCompleted,omitempty"`
	Certificate        *models.Certificate `json:"certificate,omitempty"`
}

func (s *ProgressionService) validateCompletion(lesson *models.Lesson, in CompleteLessonInput) error {
	if in.Score != nil && (*in.Score < 0 || *in.Score > 100) {
		return apperr.WithDetails(apperr.KindValidation, map[string]int{"score": *in.Score},
			"score must be between 0 and 100")
	}
	if in.TimeSpentSeconds < 0 {
		return apperr.WithDetails(apperr.KindValidation, map[string]int{"timeSpent": in.TimeSpentSeconds},
			"timeSpent must not be negative")
	}
	if lesson.HasQuiz && in.Score == nil {
		return apperr.Validationf("lesson %q has a quiz; score is required", lesson.Title)
	}
	return nil
}

// passed applies the pass mark (inclusive) to quiz lessons. Lessons without a
// quiz always pass; a score sent for them is only recorded.
func (s *ProgressionService) passed(lesson *models.Lesson, in CompleteLessonInput) bool {
	if !lesson.HasQuiz {
		return true
	}
	return in.Score != nil && *in.Score >= s.PassMark
}

// CompleteLesson records a completion attempt. The first passing completion
// awards XP (with streak bonus), updates daily XP and the streak, unlocks the
// next lesson and, for the course's final lesson, completes the enrollment.
// Later passing completions replay the recorded result without side effects.
func (s *ProgressionService) CompleteLesson(ctx context.Context, userID, lessonID string, in CompleteLessonInput) (*CompletionResult, error) {
	lesson, course, err := s.lookupLesson(lessonID)
	if err != nil {
		return nil, err
	}
	if err := s.validateCompletion(lesson, in); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	unlock, err := s.Locker.Lock(ctx, lessonLockKey(userID, lessonID))
	if err != nil {
		return nil, fmt.Errorf("lock lesson %s for %s: %w", lessonID, userID, err)
	}
	defer unlock()

	var result *CompletionResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.completeLessonTx(tx, userID, lesson, course, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ProgressionService) completeLessonTx(tx *gorm.DB, userID string, lesson *models.Lesson, course *models.Course, in CompleteLessonInput) (*CompletionResult, error) {
	now := s.now()
	ts := now.UTC()

	row, err := s.Gate.ProgressTx(tx, userID, lesson.ID)
	if err != nil {
		return nil, err
	}
	if row == nil || !row.Status.Started() {
		return nil, apperr.WithDetails(apperr.KindLessonNotStarted, map[string]string{"lessonId": lesson.ID},
			"lesson %q has not been started", lesson.Title)
	}

	if !s.passed(lesson, in) {
		if err := tx.Model(&models.CourseLessonProgress{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"last_score":         in.Score,
			"time_spent_seconds": gorm.Expr("time_spent_seconds + ?", in.TimeSpentSeconds),
		}).Error; err != nil {
			return nil, fmt.Errorf("record failed attempt %s/%s: %w", userID, lesson.ID, err)
		}
		if err := s.Enrollments.touchTx(tx, userID, course.ID, now); err != nil {
			return nil, err
		}
		s.log.Info("lesson attempt failed", "user_id", userID, "lesson_id", lesson.ID, "score", *in.Score, "pass_mark", s.PassMark)
		return &CompletionResult{Passed: false, Score: in.Score, PassMark: s.PassMark, Attempts: row.Attempts}, nil
	}

	if row.Status == models.LessonCompleted {
		return s.replayCompletionTx(tx, userID, course, row)
	}

	// Claim the completion. Only one writer can move the row to COMPLETED.
	claim := tx.Model(&models.CourseLessonProgress{}).
		Where("id = ? AND status <> ?", row.ID, models.LessonCompleted).
		Updates(map[string]interface{}{
			"status":             models.LessonCompleted,
			"score":              in.Score,
			"last_score":         in.Score,
			"completed_at":       ts,
			"time_spent_seconds": gorm.Expr("time_spent_seconds + ?", in.TimeSpentSeconds),
		})
	if claim.Error != nil {
		return nil, fmt.Errorf("complete lesson %s/%s: %w", userID, lesson.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		stored, err := s.Gate.ProgressTx(tx, userID, lesson.ID)
		if err != nil {
			return nil, err
		}
		return s.replayCompletionTx(tx, userID, course, stored)
	}

	prog, err := s.Ledger.EnsureProgressRecord(tx, userID)
	if err != nil {
		return nil, err
	}
	streak, err := s.Streaks.RecordActivityTx(tx, prog, now)
	if err != nil {
		return nil, err
	}

	totalXP, bonusXP := s.Streaks.Policy.CalculateXPWithStreak(lesson.XPReward, streak.Current)
	award, err := s.Ledger.AwardXPTx(tx, userID, totalXP, models.XPSourceLesson)
	if err != nil {
		return nil, err
	}
	if err := s.Daily.RecordDailyXPTx(tx, userID, now, XPBreakdown{
		Lessons:          lesson.XPReward,
		Streak:           bonusXP,
		LessonsCompleted: 1,
	}); err != nil {
		return nil, err
	}

	if err := tx.Model(&models.CourseLessonProgress{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"xp_awarded":      totalXP,
		"streak_bonus_xp": bonusXP,
		"leveled_up":      award.LeveledUp,
		"level_after":     award.NewLevel,
	}).Error; err != nil {
		return nil, fmt.Errorf("record completion result %s/%s: %w", userID, lesson.ID, err)
	}

	next, unlocked, err := s.Gate.UnlockNextTx(tx, userID, course, lesson.ID)
	if err != nil {
		return nil, err
	}
	courseCompleted, err := s.Enrollments.RecordLessonCompletionTx(tx, userID, course, totalXP, now)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{
		Passed:             true,
		Score:              in.Score,
		PassMark:           s.PassMark,
		Attempts:           row.Attempts,
		XPAwarded:          totalXP,
		StreakBonus:        bonusXP,
		Streak:             streak.Current,
		NextLessonUnlocked: unlocked,
		LeveledUp:          award.LeveledUp,
		NewLevel:           award.NewLevel,
		CourseCompleted:    courseCompleted,
	}
	if next != nil {
		result.NextLesson = &NextLessonRef{ID: next.ID, Title: next.Title}
	}
	if courseCompleted {
		cert, err := s.Certificates.IssueTx(tx, userID, course, now)
		if err != nil {
			return nil, err
		}
		result.Certificate = cert
	}

	s.log.Info("lesson completed",
		"user_id", userID,
		"lesson_id", lesson.ID,
		"xp", totalXP,
		"streak_bonus", bonusXP,
		"streak", streak.Current,
		"level", award.NewLevel,
		"leveled_up", award.LeveledUp,
		"course_completed", courseCompleted,
	)
	return result, nil
}

// replayCompletionTx rebuilds the result recorded by the first passing completion.
func (s *ProgressionService) replayCompletionTx(tx *gorm.DB, userID string, course *models.Course, row *models.CourseLessonProgress) (*CompletionResult, error) {
	result := &CompletionResult{
		Passed:           true,
		Score:            row.Score,
		PassMark:         s.PassMark,
		Attempts:         row.Attempts,
		AlreadyCompleted: true,
		XPAwarded:        row.XPAwarded,
		StreakBonus:      row.StreakBonusXP,
		LeveledUp:        row.LeveledUp,
		NewLevel:         row.LevelAfter,
	}
	if next := course.NextLesson(row.LessonID); next != nil {
		result.NextLessonUnlocked = true
		result.NextLesson = &NextLessonRef{ID: next.ID, Title: next.Title}
	} else {
		var cert models.Certificate
		res := tx.Where("user_id = ? AND course_id = ?", userID, course.ID).Limit(1).Find(&cert)
		if res.Error != nil {
			return nil, fmt.Errorf("load certificate %s/%s: %w", userID, course.ID, res.Error)
		}
		if res.RowsAffected > 0 {
			result.CourseCompleted = true
			result.Certificate = &cert
		}
	}
	return result, nil
}

// RevealResult is returned by RevealAnswer.
type RevealResult struct {
	Cost        int64 `json:"cost"`
	RemainingXP int64 `json:"remainingXP"`
}

// RevealAnswer prices a reveal from the question's points and the user's
// level, then spends that XP.
func (s *ProgressionService) RevealAnswer(ctx context.Context, userID string, questionPoints int) (*RevealResult, error) {
	if questionPoints < 0 {
		return nil, apperr.Validationf("questionPoints must not be negative")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result RevealResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prog, err := s.Ledger.EnsureProgressRecord(tx, userID)
		if err != nil {
			return err
		}
		result.Cost = s.Ledger.Reveal.CalculateRevealCost(questionPoints, LevelStatusFor(prog).CurrentLevel)
		result.RemainingXP, err = s.Ledger.RevealAnswerWithXPTx(tx, userID, result.Cost)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// LevelStatusResponse is the body of GET level/status.
type LevelStatusResponse struct {
	Level   LevelStatus     `json:"level"`
	DailyXP *models.DailyXP `json:"dailyXP"`
	Streak  StreakStatus    `json:"streak"`
}

func (s *ProgressionService) LevelStatus(ctx context.Context, userID string) (*LevelStatusResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	prog, err := s.Ledger.GetProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	daily, err := s.Daily.Today(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &LevelStatusResponse{
		Level:   LevelStatusFor(prog),
		DailyXP: daily,
		Streak:  s.Streaks.StatusFor(prog, s.now()),
	}, nil
}

func (s *ProgressionService) UserStats(ctx context.Context, userID string) (*CourseStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Enrollments.GetUserCourseStats(ctx, userID)
}

func (s *ProgressionService) DailyHistory(ctx context.Context, userID string, days int) ([]models.DailyXP, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Daily.History(ctx, userID, days)
}

func (s *ProgressionService) Enroll(ctx context.Context, userID, courseID string) (*models.CourseEnrollment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Enrollments.Enroll(ctx, userID, courseID)
}

func (s *ProgressionService) CourseOutline(ctx context.Context, userID, courseID string) ([]LessonOutline, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.Gate.CourseOutline(ctx, userID, courseID)
}

// IsTimeout reports whether err came from the operation deadline or lock wait.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLockTimeout)
}
