package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"course-progression/apperr"
	"course-progression/models"
	"course-progression/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollChecksPrerequisites(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProgression(t)

	missing, err := svc.Enrollments.GetMissingPrerequisites(ctx, "u1", testutil.CourseAdvanced)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "Fractions Basics", missing[0].Title)

	_, err = svc.Enroll(ctx, "u1", testutil.CourseAdvanced)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.PrerequisitesNotMet))
	appErr, _ := apperr.As(err)
	assert.Equal(t, map[string]interface{}{"missing": []string{"Fractions Basics"}}, appErr.Details)

	completeCourse(t, svc, "u1")

	require.NoError(t, svc.Enrollments.CheckPrerequisites(ctx, "u1", testutil.CourseAdvanced))
	enrollment, err := svc.Enroll(ctx, "u1", testutil.CourseAdvanced)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentNotStarted, enrollment.Status)

	again, err := svc.Enroll(ctx, "u1", testutil.CourseAdvanced)
	require.NoError(t, err)
	assert.Equal(t, enrollment.ID, again.ID, "enrolling twice returns the existing row")
}

func TestEnrollUnknownCourse(t *testing.T) {
	svc, _, _ := newProgression(t)
	_, err := svc.Enroll(context.Background(), "u1", "no-such-course")
	assert.True(t, errors.Is(err, apperr.NotFound))
}

func TestGetUserCourseStats(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProgression(t)

	completeCourse(t, svc, "u1")
	_, err := svc.Enroll(ctx, "u1", testutil.CourseAdvanced)
	require.NoError(t, err)

	stats, err := svc.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EnrolledCourses)
	assert.Equal(t, int64(1), stats.CompletedCourses)
	assert.Equal(t, int64(0), stats.InProgressCourses)
	assert.Equal(t, int64(3), stats.LessonsCompleted)
	assert.Equal(t, int64(1), stats.CertificatesEarned)
	assert.Equal(t, int64(175), stats.TotalXPEarned)
	assert.Equal(t, int64(90), stats.TotalTimeSpentSeconds)
	// scores 85, 100 (non-quiz lesson), 70
	assert.InDelta(t, 85.0, stats.AverageScore, 0.001)

	empty, err := svc.UserStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.EnrolledCourses)
	assert.Equal(t, 0.0, empty.AverageScore)
}

func TestListEnrollmentsAndActivity(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newProgression(t)

	_, err := svc.Enroll(ctx, "u1", testutil.CourseBasics)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, svc.Enrollments.UpdateEnrollmentActivity(ctx, "u1", testutil.CourseBasics))

	rows, err := svc.Enrollments.ListEnrollments(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.EnrollmentNotStarted, rows[0].Status, "activity does not change status")
	assert.True(t, rows[0].LastAccessedAt.Equal(clock.Now().UTC()))
}
