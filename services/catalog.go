package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"course-progression/logger"
	"course-progression/models"

	"github.com/gosimple/slug"
	"golang.org/x/sync/singleflight"
)

// CatalogSource yields the raw catalog document (local file or R2 object).
type CatalogSource interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// CatalogReader is the read-only view the progression engine depends on.
type CatalogReader interface {
	Course(courseID string) (*models.Course, bool)
	Lesson(lessonID string) (*models.Lesson, *models.Course, bool)
	Courses() []models.Course
}

type catalogDocument struct {
	Courses []models.Course `json:"courses"`
}

type catalogSnapshot struct {
	courses map[string]*models.Course
	lessons map[string]*models.Lesson
	ordered []string
}

// Catalog holds the current course/lesson ordering and prerequisites.
// Reloads swap the whole snapshot; concurrent reloads are collapsed.
type Catalog struct {
	source          CatalogSource
	defaultLessonXP int64
	log             *logger.Logger

	mu   sync.RWMutex
	snap *catalogSnapshot

	loads singleflight.Group
}

func NewCatalog(source CatalogSource, defaultLessonXP int64, log *logger.Logger) *Catalog {
	return &Catalog{
		source:          source,
		defaultLessonXP: defaultLessonXP,
		log:             log.With("service", "Catalog"),
		snap:            &catalogSnapshot{courses: map[string]*models.Course{}, lessons: map[string]*models.Lesson{}},
	}
}

// NewStaticCatalog builds a catalog from in-memory courses (tests, seeding).
func NewStaticCatalog(courses []models.Course, defaultLessonXP int64, log *logger.Logger) (*Catalog, error) {
	c := NewCatalog(nil, defaultLessonXP, log)
	snap, err := buildSnapshot(courses, defaultLessonXP)
	if err != nil {
		return nil, err
	}
	c.snap = snap
	return c, nil
}

// Load fetches and swaps in a fresh snapshot. A failed load keeps the previous one.
func (c *Catalog) Load(ctx context.Context) error {
	if c.source == nil {
		return fmt.Errorf("catalog has no source")
	}
	_, err, _ := c.loads.Do("catalog", func() (interface{}, error) {
		raw, err := c.source.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		var doc catalogDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("invalid catalog document: %w", err)
		}
		snap, err := buildSnapshot(doc.Courses, c.defaultLessonXP)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.snap = snap
		c.mu.Unlock()

		c.log.Info("catalog loaded", "courses", len(snap.courses), "lessons", len(snap.lessons))
		return nil, nil
	})
	return err
}

func buildSnapshot(courses []models.Course, defaultLessonXP int64) (*catalogSnapshot, error) {
	snap := &catalogSnapshot{
		courses: make(map[string]*models.Course, len(courses)),
		lessons: map[string]*models.Lesson{},
	}
	for i := range courses {
		course := courses[i]
		if course.ID == "" {
			return nil, fmt.Errorf("course #%d has no id", i)
		}
		if _, dup := snap.courses[course.ID]; dup {
			return nil, fmt.Errorf("duplicate course id %q", course.ID)
		}
		if course.Slug == "" {
			course.Slug = slug.Make(course.Title)
		}

		lessons := append([]models.Lesson(nil), course.Lessons...)
		sort.SliceStable(lessons, func(a, b int) bool { return lessons[a].Order < lessons[b].Order })
		for j := range lessons {
			if lessons[j].ID == "" {
				return nil, fmt.Errorf("course %q: lesson #%d has no id", course.ID, j)
			}
			if lessons[j].XPReward < 0 {
				return nil, fmt.Errorf("lesson %q: negative xp_reward", lessons[j].ID)
			}
			if lessons[j].XPReward == 0 {
				lessons[j].XPReward = defaultLessonXP
			}
			lessons[j].CourseID = course.ID
		}
		course.Lessons = lessons
		course.PrerequisiteIDs = append([]string(nil), course.PrerequisiteIDs...)

		stored := &course
		snap.courses[course.ID] = stored
		snap.ordered = append(snap.ordered, course.ID)
		for j := range stored.Lessons {
			l := &stored.Lessons[j]
			if _, dup := snap.lessons[l.ID]; dup {
				return nil, fmt.Errorf("duplicate lesson id %q", l.ID)
			}
			snap.lessons[l.ID] = l
		}
	}

	for _, course := range snap.courses {
		for _, pre := range course.PrerequisiteIDs {
			if pre == course.ID {
				return nil, fmt.Errorf("course %q lists itself as a prerequisite", course.ID)
			}
			if _, ok := snap.courses[pre]; !ok {
				return nil, fmt.Errorf("course %q: unknown prerequisite %q", course.ID, pre)
			}
		}
	}
	return snap, nil
}

func (c *Catalog) current() *catalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Catalog) Course(courseID string) (*models.Course, bool) {
	course, ok := c.current().courses[courseID]
	return course, ok
}

func (c *Catalog) Lesson(lessonID string) (*models.Lesson, *models.Course, bool) {
	snap := c.current()
	lesson, ok := snap.lessons[lessonID]
	if !ok {
		return nil, nil, false
	}
	return lesson, snap.courses[lesson.CourseID], true
}

func (c *Catalog) Courses() []models.Course {
	snap := c.current()
	out := make([]models.Course, 0, len(snap.ordered))
	for _, id := range snap.ordered {
		out = append(out, *snap.courses[id])
	}
	return out
}
