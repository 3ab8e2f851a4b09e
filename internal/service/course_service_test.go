package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

func newCourseFixture(t *testing.T) (*CourseService, *memCourseStore, *memAssignmentStore, *memCache) {
	t.Helper()
	store := newMemCourseStore()
	assignments := newMemAssignmentStore()
	cacheRepo := newMemCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	svc := NewCourseService(store, newFixtureUsers(), assignments, newMemNotificationStore(), cache, nil, nil, zap.NewNop())
	return svc, store, assignments, cacheRepo
}

func TestCourseCreate(t *testing.T) {
	svc, _, _, _ := newCourseFixture(t)
	ctx := context.Background()

	course, err := svc.Create(ctx, actorOf(teacherUser), models.CreateCourseRequest{Title: "  Intro to Go  ", MaxStudents: 30})
	require.NoError(t, err)
	assert.Equal(t, "Intro to Go", course.Title)
	assert.Equal(t, "intro-to-go", course.Slug)
	assert.Equal(t, teacherUser.ID, course.TeacherID)

	_, err = svc.Create(ctx, actorOf(studentA), models.CreateCourseRequest{Title: "Nope"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.Create(ctx, actorOf(teacherUser), models.CreateCourseRequest{Title: "x"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-24 * time.Hour)
	_, err = svc.Create(ctx, actorOf(teacherUser), models.CreateCourseRequest{Title: "Backwards", StartDate: &start, EndDate: &end})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCourseCreateByAdminForTeacher(t *testing.T) {
	svc, _, _, _ := newCourseFixture(t)
	ctx := context.Background()

	course, err := svc.Create(ctx, actorOf(adminUser), models.CreateCourseRequest{Title: "Chemistry", TeacherID: otherTeacher.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, otherTeacher.ID, course.TeacherID)

	_, err = svc.Create(ctx, actorOf(adminUser), models.CreateCourseRequest{Title: "Chemistry", TeacherID: studentA.ID.Hex()})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestCourseUpdateOwnership(t *testing.T) {
	svc, store, _, cacheRepo := newCourseFixture(t)
	ctx := context.Background()

	existing := newCourse(10)
	existing.Students = models.Roster{{StudentID: studentA.ID, Status: models.EnrollmentStatusActive}}
	store.put(existing)
	require.NoError(t, cacheRepo.Set(ctx, StudentCoursesKey(studentA.ID), []models.StudentCourse{}, time.Minute))

	title := "Algebra II"
	_, err := svc.Update(ctx, actorOf(otherTeacher), existing.ID, models.UpdateCourseRequest{Title: &title})
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	updated, err := svc.Update(ctx, actorOf(teacherUser), existing.ID, models.UpdateCourseRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "algebra-ii", updated.Slug)
	assert.Len(t, store.get(existing.ID).Students, 1, "update never touches membership")
	assert.False(t, cacheRepo.has(StudentCoursesKey(studentA.ID)))
}

func TestCourseDeleteCascades(t *testing.T) {
	svc, store, assignments, _ := newCourseFixture(t)
	ctx := context.Background()

	existing := newCourse(0)
	store.put(existing)
	require.NoError(t, assignments.Create(ctx, &models.Assignment{ID: models.NewID(), CourseID: existing.ID, TeacherID: teacherUser.ID, Title: "HW"}))

	assert.ErrorIs(t, svc.Delete(ctx, actorOf(otherTeacher), existing.ID), appErrors.ErrNotOwner)
	require.NoError(t, svc.Delete(ctx, actorOf(teacherUser), existing.ID))

	_, err := svc.Get(ctx, existing.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	remaining, err := assignments.ListByCourse(ctx, existing.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestCourseListAndTeacherCourses(t *testing.T) {
	svc, store, _, _ := newCourseFixture(t)
	ctx := context.Background()
	store.put(newCourse(0))
	mine := newCourse(0)
	mine.TeacherID = otherTeacher.ID
	store.put(mine)

	all, page, err := svc.List(ctx, models.CourseFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, page.TotalCount)
	assert.Equal(t, 1, page.Page)

	theirs, err := svc.TeacherCourses(ctx, otherTeacher.ID)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, mine.ID, theirs[0].ID)
}
