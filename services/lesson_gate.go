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

// LessonGate enforces linear unlock order and records attempts.
type LessonGate struct {
	DB          *gorm.DB
	Catalog     CatalogReader
	Enrollments *EnrollmentManager
	log         *logger.Logger
}

func NewLessonGate(db *gorm.DB, catalog CatalogReader, enrollments *EnrollmentManager, log *logger.Logger) *LessonGate {
	return &LessonGate{
		DB:          db,
		Catalog:     catalog,
		Enrollments: enrollments,
		log:         log.With("service", "LessonGate"),
	}
}

// ProgressTx returns the user's row for lessonID, or nil.
func (g *LessonGate) ProgressTx(tx *gorm.DB, externalUserID, lessonID string) (*models.CourseLessonProgress, error) {
	var row models.CourseLessonProgress
	res := tx.Where("user_id = ? AND lesson_id = ?", externalUserID, lessonID).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("load lesson progress %s/%s: %w", externalUserID, lessonID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

// IsUnlockedTx: the row is past LOCKED, the lesson opens the course, or its
// immediate predecessor is COMPLETED.
func (g *LessonGate) IsUnlockedTx(tx *gorm.DB, externalUserID string, lesson *models.Lesson, course *models.Course, row *models.CourseLessonProgress) (bool, error) {
	if row != nil && row.Status != models.LessonLocked {
		return true, nil
	}
	if course.IsFirstLesson(lesson.ID) {
		return true, nil
	}
	prev := course.PreviousLesson(lesson.ID)
	if prev == nil {
		return false, nil
	}
	prevRow, err := g.ProgressTx(tx, externalUserID, prev.ID)
	if err != nil {
		return false, err
	}
	return prevRow != nil && prevRow.Status == models.LessonCompleted, nil
}

// StartLessonTx opens (or re-enters) a lesson. A COMPLETED lesson stays
// COMPLETED; every start counts as an attempt.
func (g *LessonGate) StartLessonTx(tx *gorm.DB, externalUserID string, lesson *models.Lesson, course *models.Course, now time.Time) (*models.CourseLessonProgress, error) {
	row, err := g.ProgressTx(tx, externalUserID, lesson.ID)
	if err != nil {
		return nil, err
	}
	unlocked, err := g.IsUnlockedTx(tx, externalUserID, lesson, course, row)
	if err != nil {
		return nil, err
	}
	if !unlocked {
		details := map[string]string{"lessonId": lesson.ID}
		if prev := course.PreviousLesson(lesson.ID); prev != nil {
			details["requiredLessonId"] = prev.ID
		}
		return nil, apperr.WithDetails(apperr.KindLessonLocked, details,
			"lesson %q is locked until the previous lesson is completed", lesson.Title)
	}

	enrollment, _, err := g.Enrollments.EnsureEnrollmentTx(tx, externalUserID, course, models.EnrollmentInProgress, now)
	if err != nil {
		return nil, err
	}
	if err := g.Enrollments.MarkInProgressTx(tx, enrollment, now); err != nil {
		return nil, err
	}

	ts := now.UTC()
	if row == nil {
		fresh := models.CourseLessonProgress{
			UserID:    externalUserID,
			LessonID:  lesson.ID,
			CourseID:  course.ID,
			Status:    models.LessonInProgress,
			Attempts:  1,
			StartedAt: &ts,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
			DoNothing: true,
		}).Create(&fresh)
		if res.Error != nil {
			return nil, fmt.Errorf("start lesson %s/%s: %w", externalUserID, lesson.ID, res.Error)
		}
		if res.RowsAffected > 0 {
			g.log.Info("lesson started", "user_id", externalUserID, "lesson_id", lesson.ID, "attempts", 1)
			return g.ProgressTx(tx, externalUserID, lesson.ID)
		}
		// lost an insert race; fall through to the update path
	}

	updates := map[string]interface{}{
		"attempts": gorm.Expr("attempts + 1"),
		"status": gorm.Expr("CASE WHEN status = ? THEN status ELSE ? END",
			models.LessonCompleted, models.LessonInProgress),
		"started_at": gorm.Expr("COALESCE(started_at, ?)", ts),
	}
	if err := tx.Model(&models.CourseLessonProgress{}).
		Where("user_id = ? AND lesson_id = ?", externalUserID, lesson.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("restart lesson %s/%s: %w", externalUserID, lesson.ID, err)
	}

	stored, err := g.ProgressTx(tx, externalUserID, lesson.ID)
	if err != nil {
		return nil, err
	}
	g.log.Info("lesson started", "user_id", externalUserID, "lesson_id", lesson.ID, "attempts", stored.Attempts)
	return stored, nil
}

// UnlockNextTx makes the lesson after lessonID UNLOCKED. Returns nil, false
// when lessonID is the course's last lesson.
func (g *LessonGate) UnlockNextTx(tx *gorm.DB, externalUserID string, course *models.Course, lessonID string) (*models.Lesson, bool, error) {
	next := course.NextLesson(lessonID)
	if next == nil {
		return nil, false, nil
	}

	row := models.CourseLessonProgress{
		UserID:   externalUserID,
		LessonID: next.ID,
		CourseID: course.ID,
		Status:   models.LessonUnlocked,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("unlock lesson %s/%s: %w", externalUserID, next.ID, err)
	}
	if err := tx.Model(&models.CourseLessonProgress{}).
		Where("user_id = ? AND lesson_id = ? AND status = ?", externalUserID, next.ID, models.LessonLocked).
		Update("status", models.LessonUnlocked).Error; err != nil {
		return nil, false, fmt.Errorf("unlock lesson %s/%s: %w", externalUserID, next.ID, err)
	}
	return next, true, nil
}

// LessonOutline is one line of GET courses/{id}/outline.
type LessonOutline struct {
	LessonID    string              `json:"lessonId"`
	Title       string              `json:"title"`
	Order       int                 `json:"order"`
	XPReward    int64               `json:"xpReward"`
	HasQuiz     bool                `json:"hasQuiz"`
	Status      models.LessonStatus `json:"status"`
	Score       *int                `json:"score,omitempty"`
	Attempts    int                 `json:"attempts"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// CourseOutline derives every lesson's effective status for the user,
// including lessons that have no row yet.
func (g *LessonGate) CourseOutline(ctx context.Context, externalUserID, courseID string) ([]LessonOutline, error) {
	course, ok := g.Catalog.Course(courseID)
	if !ok {
		return nil, apperr.NotFoundf("course %s not found", courseID)
	}

	var rows []models.CourseLessonProgress
	if len(course.Lessons) > 0 {
		if err := g.DB.WithContext(ctx).
			Where("user_id = ? AND lesson_id IN ?", externalUserID, course.LessonIDs()).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load course progress %s/%s: %w", externalUserID, courseID, err)
		}
	}
	byLesson := make(map[string]*models.CourseLessonProgress, len(rows))
	for i := range rows {
		byLesson[rows[i].LessonID] = &rows[i]
	}

	out := make([]LessonOutline, len(course.Lessons))
	prevCompleted := true
	for i, l := range course.Lessons {
		item := LessonOutline{
			LessonID: l.ID,
			Title:    l.Title,
			Order:    l.Order,
			XPReward: l.XPReward,
			HasQuiz:  l.HasQuiz,
			Status:   models.LessonLocked,
		}
		if row, ok := byLesson[l.ID]; ok {
			item.Status = row.Status
			item.Score = row.Score
			item.Attempts = row.Attempts
			item.CompletedAt = row.CompletedAt
		}
		if item.Status == models.LessonLocked && prevCompleted {
			item.Status = models.LessonUnlocked
		}
		prevCompleted = item.Status == models.LessonCompleted
		out[i] = item
	}
	return out, nil
}
