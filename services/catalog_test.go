package services_test

import (
	"context"
	"errors"
	"testing"

	"course-progression/models"
	"course-progression/services"
	"course-progression/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	body  []byte
	err   error
	calls int
}

func (s *stubSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls++
	return s.body, s.err
}

const catalogJSON = `{"courses":[
  {"id":"c1","title":"Counting to Ten","lessons":[
    {"id":"c1-b","title":"Six to ten","order":2,"xp_reward":40},
    {"id":"c1-a","title":"One to five","order":1,"has_quiz":true}
  ]},
  {"id":"c2","title":"Adding","prerequisite_ids":["c1"],"lessons":[
    {"id":"c2-a","title":"Plus one","order":1}
  ]}
]}`

func TestCatalogLoad(t *testing.T) {
	src := &stubSource{body: []byte(catalogJSON)}
	catalog := services.NewCatalog(src, 50, testutil.Logger(t))
	require.NoError(t, catalog.Load(context.Background()))

	course, ok := catalog.Course("c1")
	require.True(t, ok)
	assert.Equal(t, "counting-to-ten", course.Slug)
	assert.Equal(t, []string{"c1-a", "c1-b"}, course.LessonIDs(), "lessons sorted by order")
	assert.Equal(t, int64(50), course.Lessons[0].XPReward, "default xp applied")
	assert.Equal(t, int64(40), course.Lessons[1].XPReward)

	lesson, owner, ok := catalog.Lesson("c2-a")
	require.True(t, ok)
	assert.Equal(t, "c2", owner.ID)
	assert.Equal(t, "c2", lesson.CourseID)

	_, _, ok = catalog.Lesson("missing")
	assert.False(t, ok)
	assert.Len(t, catalog.Courses(), 2)
}

func TestCatalogFailedReloadKeepsSnapshot(t *testing.T) {
	src := &stubSource{body: []byte(catalogJSON)}
	catalog := services.NewCatalog(src, 50, testutil.Logger(t))
	require.NoError(t, catalog.Load(context.Background()))

	src.body, src.err = nil, errors.New("bucket unavailable")
	require.Error(t, catalog.Load(context.Background()))

	_, ok := catalog.Course("c1")
	assert.True(t, ok)
}

func TestCatalogRejectsBadDocuments(t *testing.T) {
	cases := map[string][]models.Course{
		"duplicate lesson": {
			{ID: "a", Title: "A", Lessons: []models.Lesson{{ID: "x", Order: 1}}},
			{ID: "b", Title: "B", Lessons: []models.Lesson{{ID: "x", Order: 1}}},
		},
		"unknown prerequisite": {
			{ID: "a", Title: "A", PrerequisiteIDs: []string{"zzz"}},
		},
		"self prerequisite": {
			{ID: "a", Title: "A", PrerequisiteIDs: []string{"a"}},
		},
		"negative xp": {
			{ID: "a", Title: "A", Lessons: []models.Lesson{{ID: "x", Order: 1, XPReward: -1}}},
		},
	}
	for name, courses := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := services.NewStaticCatalog(courses, 50, testutil.Logger(t))
			assert.Error(t, err)
		})
	}
}

func TestCatalogWithoutSource(t *testing.T) {
	catalog, err := services.NewStaticCatalog(testutil.Courses(), 50, testutil.Logger(t))
	require.NoError(t, err)
	assert.Error(t, catalog.Load(context.Background()))

	course, ok := catalog.Course(testutil.CourseBasics)
	require.True(t, ok)
	assert.True(t, course.IsFirstLesson(testutil.LessonIntro))
	assert.Equal(t, testutil.LessonHalves, course.NextLesson(testutil.LessonIntro).ID)
	assert.Nil(t, course.NextLesson(testutil.LessonQuarters))
}
