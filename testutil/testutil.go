package testutil

import (
	"sync"
	"testing"
	"time"

	"course-progression/logger"
	"course-progression/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB opens a fresh in-memory SQLite database with every model migrated.
// A single connection keeps the shared-cache database alive and serializes
// writers the way row locks would on Postgres.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("test db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.UserProgress{},
		&models.DailyXP{},
		&models.CourseEnrollment{},
		&models.CourseLessonProgress{},
		&models.Certificate{},
	); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	return db
}

// Clock is a settable time source for services that take a Now func.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Fixture course and lesson ids.
const (
	CourseBasics   = "fractions-basics"
	CourseAdvanced = "fractions-advanced"

	LessonIntro    = "fb-1-intro"
	LessonHalves   = "fb-2-halves"
	LessonQuarters = "fb-3-quarters"

	LessonAdvancedIntro = "fa-1-mixed-numbers"
)

// Courses is a small catalog: a three-lesson basics course (the first and
// last lessons have quizzes) and an advanced course that requires it.
func Courses() []models.Course {
	return []models.Course{
		{
			ID:    CourseBasics,
			Title: "Fractions Basics",
			Lessons: []models.Lesson{
				{ID: LessonIntro, Title: "What is a fraction", Order: 1, XPReward: 50, HasQuiz: true},
				{ID: LessonHalves, Title: "Halves", Order: 2, XPReward: 50},
				{ID: LessonQuarters, Title: "Quarters", Order: 3, XPReward: 75, HasQuiz: true},
			},
		},
		{
			ID:              CourseAdvanced,
			Title:           "Fractions Advanced",
			PrerequisiteIDs: []string{CourseBasics},
			Lessons: []models.Lesson{
				{ID: LessonAdvancedIntro, Title: "Mixed numbers", Order: 1, XPReward: 100, HasQuiz: true},
			},
		},
	}
}

func Score(n int) *int {
	return &n
}
