package services

import (
	"context"
	"fmt"
	"time"

	"course-progression/apperr"
	"course-progression/logger"
	"course-progression/models"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollmentManager owns CourseEnrollment rows.
type EnrollmentManager struct {
	DB      *gorm.DB
	Catalog CatalogReader
	Now     func() time.Time
	log     *logger.Logger
}

func NewEnrollmentManager(db *gorm.DB, catalog CatalogReader, log *logger.Logger) *EnrollmentManager {
	return &EnrollmentManager{
		DB:      db,
		Catalog: catalog,
		Now:     time.Now,
		log:     log.With("service", "EnrollmentManager"),
	}
}

// MissingPrerequisite names a course that still has to be completed.
type MissingPrerequisite struct {
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
}

func (m *EnrollmentManager) course(courseID string) (*models.Course, error) {
	course, ok := m.Catalog.Course(courseID)
	if !ok {
		return nil, apperr.NotFoundf("course %s not found", courseID)
	}
	return course, nil
}

// GetMissingPrerequisites lists the course's prerequisites the user has not completed.
func (m *EnrollmentManager) GetMissingPrerequisites(ctx context.Context, externalUserID, courseID string) ([]MissingPrerequisite, error) {
	course, err := m.course(courseID)
	if err != nil {
		return nil, err
	}
	return m.missingPrerequisitesTx(m.DB.WithContext(ctx), externalUserID, course)
}

func (m *EnrollmentManager) missingPrerequisitesTx(tx *gorm.DB, externalUserID string, course *models.Course) ([]MissingPrerequisite, error) {
	if len(course.PrerequisiteIDs) == 0 {
		return nil, nil
	}

	var completed []string
	if err := tx.Model(&models.CourseEnrollment{}).
		Where("user_id = ? AND course_id IN ? AND status = ?", externalUserID, course.PrerequisiteIDs, models.EnrollmentCompleted).
		Pluck("course_id", &completed).Error; err != nil {
		return nil, fmt.Errorf("load completed prerequisites for %s: %w", externalUserID, err)
	}
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}

	var missing []MissingPrerequisite
	for _, id := range course.PrerequisiteIDs {
		if done[id] {
			continue
		}
		title := id
		if pre, ok := m.Catalog.Course(id); ok {
			title = pre.Title
		}
		missing = append(missing, MissingPrerequisite{CourseID: id, Title: title})
	}
	return missing, nil
}

// CheckPrerequisites fails with PrerequisitesNotMet listing the missing course titles.
func (m *EnrollmentManager) CheckPrerequisites(ctx context.Context, externalUserID, courseID string) error {
	course, err := m.course(courseID)
	if err != nil {
		return err
	}
	return m.checkPrerequisitesTx(m.DB.WithContext(ctx), externalUserID, course)
}

func (m *EnrollmentManager) checkPrerequisitesTx(tx *gorm.DB, externalUserID string, course *models.Course) error {
	missing, err := m.missingPrerequisitesTx(tx, externalUserID, course)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	titles := make([]string, len(missing))
	for i, p := range missing {
		titles[i] = p.Title
	}
	return apperr.WithDetails(apperr.KindPrerequisitesNotMet,
		map[string]interface{}{"missing": titles},
		"complete %d prerequisite course(s) before %q", len(missing), course.Title)
}

// Enroll creates a NOT_STARTED enrollment after checking prerequisites.
// Enrolling twice returns the existing row.
func (m *EnrollmentManager) Enroll(ctx context.Context, externalUserID, courseID string) (*models.CourseEnrollment, error) {
	course, err := m.course(courseID)
	if err != nil {
		return nil, err
	}
	var enrollment *models.CourseEnrollment
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		enrollment, _, err = m.EnsureEnrollmentTx(tx, externalUserID, course, models.EnrollmentNotStarted, m.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// EnsureEnrollmentTx loads the enrollment or creates it with status after the
// prerequisite check. created reports whether this call inserted the row.
func (m *EnrollmentManager) EnsureEnrollmentTx(tx *gorm.DB, externalUserID string, course *models.Course, status models.EnrollmentStatus, now time.Time) (*models.CourseEnrollment, bool, error) {
	existing, err := m.findTx(tx, externalUserID, course.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := m.checkPrerequisitesTx(tx, externalUserID, course); err != nil {
		return nil, false, err
	}

	ts := now.UTC()
	row := models.CourseEnrollment{
		UserID:         externalUserID,
		CourseID:       course.ID,
		Status:         status,
		LastAccessedAt: ts,
	}
	if status == models.EnrollmentInProgress {
		row.StartedAt = &ts
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create enrollment %s/%s: %w", externalUserID, course.ID, res.Error)
	}

	stored, err := m.findTx(tx, externalUserID, course.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("enrollment %s/%s vanished after insert", externalUserID, course.ID)
	}
	if res.RowsAffected > 0 {
		m.log.Info("enrolled", "user_id", externalUserID, "course_id", course.ID, "status", status)
	}
	return stored, res.RowsAffected > 0, nil
}

func (m *EnrollmentManager) findTx(tx *gorm.DB, externalUserID, courseID string) (*models.CourseEnrollment, error) {
	var row models.CourseEnrollment
	res := tx.Where("user_id = ? AND course_id = ?", externalUserID, courseID).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("load enrollment %s/%s: %w", externalUserID, courseID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &row, nil
}

// MarkInProgressTx moves a NOT_STARTED enrollment to IN_PROGRESS and bumps activity.
func (m *EnrollmentManager) MarkInProgressTx(tx *gorm.DB, enrollment *models.CourseEnrollment, now time.Time) error {
	ts := now.UTC()
	if enrollment.Status == models.EnrollmentNotStarted {
		res := tx.Model(&models.CourseEnrollment{}).
			Where("id = ? AND status = ?", enrollment.ID, models.EnrollmentNotStarted).
			Updates(map[string]interface{}{
				"status":           models.EnrollmentInProgress,
				"started_at":       ts,
				"last_accessed_at": ts,
			})
		if res.Error != nil {
			return fmt.Errorf("start enrollment %s: %w", enrollment.ID, res.Error)
		}
		if res.RowsAffected > 0 {
			enrollment.Status = models.EnrollmentInProgress
			enrollment.StartedAt = &ts
			enrollment.LastAccessedAt = ts
			return nil
		}
	}
	return m.touchTx(tx, enrollment.UserID, enrollment.CourseID, now)
}

// UpdateEnrollmentActivity bumps LastAccessedAt without touching status.
func (m *EnrollmentManager) UpdateEnrollmentActivity(ctx context.Context, externalUserID, courseID string) error {
	return m.touchTx(m.DB.WithContext(ctx), externalUserID, courseID, m.Now())
}

func (m *EnrollmentManager) touchTx(tx *gorm.DB, externalUserID, courseID string, now time.Time) error {
	if err := tx.Model(&models.CourseEnrollment{}).
		Where("user_id = ? AND course_id = ?", externalUserID, courseID).
		Update("last_accessed_at", now.UTC()).Error; err != nil {
		return fmt.Errorf("touch enrollment %s/%s: %w", externalUserID, courseID, err)
	}
	return nil
}

// RecordLessonCompletionTx adds xp to the enrollment, refreshes its progress
// percentage and completes it once every lesson of the course is COMPLETED.
// courseCompleted is true only for the call that performed the transition.
func (m *EnrollmentManager) RecordLessonCompletionTx(tx *gorm.DB, externalUserID string, course *models.Course, xp int64, now time.Time) (courseCompleted bool, err error) {
	ts := now.UTC()

	var done int64
	if len(course.Lessons) > 0 {
		if err := tx.Model(&models.CourseLessonProgress{}).
			Where("user_id = ? AND lesson_id IN ? AND status = ?", externalUserID, course.LessonIDs(), models.LessonCompleted).
			Count(&done).Error; err != nil {
			return false, fmt.Errorf("count completed lessons %s/%s: %w", externalUserID, course.ID, err)
		}
	}
	percent := 100
	if n := len(course.Lessons); n > 0 {
		percent = int(done * 100 / int64(n))
	}

	if err := tx.Model(&models.CourseEnrollment{}).
		Where("user_id = ? AND course_id = ?", externalUserID, course.ID).
		Updates(map[string]interface{}{
			"total_xp_earned":  gorm.Expr("total_xp_earned + ?", xp),
			"progress_percent": percent,
			"last_accessed_at": ts,
		}).Error; err != nil {
		return false, fmt.Errorf("update enrollment %s/%s: %w", externalUserID, course.ID, err)
	}

	if int(done) < len(course.Lessons) {
		return false, nil
	}

	res := tx.Model(&models.CourseEnrollment{}).
		Where("user_id = ? AND course_id = ? AND status <> ?", externalUserID, course.ID, models.EnrollmentCompleted).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentCompleted,
			"completed_at": ts,
		})
	if res.Error != nil {
		return false, fmt.Errorf("complete enrollment %s/%s: %w", externalUserID, course.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		m.log.Info("course completed", "user_id", externalUserID, "course_id", course.ID)
	}
	return res.RowsAffected > 0, nil
}

// ListEnrollments returns the user's enrollments, most recently used first.
func (m *EnrollmentManager) ListEnrollments(ctx context.Context, externalUserID string) ([]models.CourseEnrollment, error) {
	var rows []models.CourseEnrollment
	if err := m.DB.WithContext(ctx).
		Where("user_id = ?", externalUserID).
		Order("last_accessed_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list enrollments for %s: %w", externalUserID, err)
	}
	return rows, nil
}

// CourseStats is the read-only rollup behind GET users/{id}/stats.
type CourseStats struct {
	UserID                string  `json:"userId"`
	EnrolledCourses       int64   `json:"enrolledCourses"`
	InProgressCourses     int64   `json:"inProgressCourses"`
	CompletedCourses      int64   `json:"completedCourses"`
	TotalXPEarned         int64   `json:"totalXPEarned"`
	AverageScore          float64 `json:"averageScore"`
	TotalTimeSpentSeconds int64   `json:"totalTimeSpentSeconds"`
	LessonsCompleted      int64   `json:"lessonsCompleted"`
	CertificatesEarned    int64   `json:"certificatesEarned"`
}

// GetUserCourseStats aggregates enrollments, lesson progress and certificates.
func (m *EnrollmentManager) GetUserCourseStats(ctx context.Context, externalUserID string) (*CourseStats, error) {
	stats := &CourseStats{UserID: externalUserID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var rows []struct {
			Status models.EnrollmentStatus
			Count  int64
			XP     int64
		}
		if err := m.DB.WithContext(gctx).Model(&models.CourseEnrollment{}).
			Select("status, COUNT(*) AS count, COALESCE(SUM(total_xp_earned), 0) AS xp").
			Where("user_id = ?", externalUserID).
			Group("status").
			Scan(&rows).Error; err != nil {
			return fmt.Errorf("aggregate enrollments for %s: %w", externalUserID, err)
		}
		for _, r := range rows {
			stats.EnrolledCourses += r.Count
			stats.TotalXPEarned += r.XP
			switch r.Status {
			case models.EnrollmentInProgress:
				stats.InProgressCourses = r.Count
			case models.EnrollmentCompleted:
				stats.CompletedCourses = r.Count
			}
		}
		return nil
	})

	g.Go(func() error {
		var agg struct {
			AvgScore         *float64
			TotalTime        int64
			LessonsCompleted int64
		}
		if err := m.DB.WithContext(gctx).Model(&models.CourseLessonProgress{}).
			Select(`AVG(CASE WHEN status = ? THEN score END) AS avg_score,
				COALESCE(SUM(time_spent_seconds), 0) AS total_time,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS lessons_completed`,
				models.LessonCompleted, models.LessonCompleted).
			Where("user_id = ?", externalUserID).
			Scan(&agg).Error; err != nil {
			return fmt.Errorf("aggregate lesson progress for %s: %w", externalUserID, err)
		}
		if agg.AvgScore != nil {
			stats.AverageScore = *agg.AvgScore
		}
		stats.TotalTimeSpentSeconds = agg.TotalTime
		stats.LessonsCompleted = agg.LessonsCompleted
		return nil
	})

	g.Go(func() error {
		if err := m.DB.WithContext(gctx).Model(&models.Certificate{}).
			Where("user_id = ?", externalUserID).
			Count(&stats.CertificatesEarned).Error; err != nil {
			return fmt.Errorf("count certificates for %s: %w", externalUserID, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}
