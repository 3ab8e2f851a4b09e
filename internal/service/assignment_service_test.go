package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

type memAssignmentStore struct {
	mu          sync.Mutex
	assignments map[string]*models.Assignment
}

func newMemAssignmentStore() *memAssignmentStore {
	return &memAssignmentStore{assignments: make(map[string]*models.Assignment)}
}

func copyAssignment(a *models.Assignment) *models.Assignment {
	cp := *a
	cp.Submissions = append([]models.Submission{}, a.Submissions...)
	return &cp
}

func (m *memAssignmentStore) Create(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Submissions == nil {
		a.Submissions = []models.Submission{}
	}
	m.assignments[a.ID.Hex()] = copyAssignment(a)
	return nil
}

func (m *memAssignmentStore) FindByID(ctx context.Context, id models.ID) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assignments[id.Hex()]; ok {
		return copyAssignment(a), nil
	}
	return nil, mongo.ErrNoDocuments
}

func (m *memAssignmentStore) ListByCourse(ctx context.Context, courseID models.ID) ([]models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.CourseID.Equal(courseID) {
			out = append(out, *copyAssignment(a))
		}
	}
	return out, nil
}

func (m *memAssignmentStore) Update(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.assignments[a.ID.Hex()]
	if !ok {
		return mongo.ErrNoDocuments
	}
	cp := copyAssignment(a)
	cp.Submissions = stored.Submissions
	m.assignments[a.ID.Hex()] = cp
	return nil
}

func (m *memAssignmentStore) Delete(ctx context.Context, id models.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id.Hex()]; !ok {
		return mongo.ErrNoDocuments
	}
	delete(m.assignments, id.Hex())
	return nil
}

func (m *memAssignmentStore) DeleteByCourse(ctx context.Context, courseID models.ID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, a := range m.assignments {
		if a.CourseID.Equal(courseID) {
			delete(m.assignments, k)
			n++
		}
	}
	return n, nil
}

func (m *memAssignmentStore) AddSubmission(ctx context.Context, id models.ID, sub models.Submission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id.Hex()]
	if !ok || a.DeadlinePassed(sub.SubmittedAt) {
		return false, nil
	}
	if _, exists := a.SubmissionOf(sub.StudentID); exists {
		return false, nil
	}
	a.Submissions = append(a.Submissions, sub)
	return true, nil
}

func (m *memAssignmentStore) GradeSubmission(ctx context.Context, id, teacherID, studentID models.ID, grade float64, feedback string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id.Hex()]
	if !ok || !a.TeacherID.Equal(teacherID) {
		return false, nil
	}
	sub, ok := a.SubmissionOf(studentID)
	if !ok {
		return false, nil
	}
	sub.Grade = &grade
	sub.Feedback = feedback
	sub.Status = models.SubmissionStatusGraded
	sub.GradedAt = &at
	return true, nil
}

var assignmentClock = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newAssignmentFixture(t *testing.T) (*AssignmentService, *memAssignmentStore, *models.Course) {
	t.Helper()
	course := newCourse(0)
	course.Students = models.Roster{
		{StudentID: studentA.ID, Status: models.EnrollmentStatusActive},
		{StudentID: studentB.ID, Status: models.EnrollmentStatusActive},
	}
	store := newMemAssignmentStore()
	svc := NewAssignmentService(store, newMemCourseStore(course), NewMetricsService(), nil, nil, zap.NewNop())
	svc.now = func() time.Time { return assignmentClock }
	return svc, store, course
}

func createHomework(t *testing.T, svc *AssignmentService, course *models.Course, due time.Time) *models.Assignment {
	t.Helper()
	a, err := svc.Create(context.Background(), actorOf(teacherUser), models.CreateAssignmentRequest{
		CourseID: course.ID.Hex(),
		Title:    "Homework 1",
		DueDate:  due,
		MaxScore: 100,
	})
	require.NoError(t, err)
	return a
}

func TestAssignmentCreateRequiresOwner(t *testing.T) {
	svc, _, course := newAssignmentFixture(t)

	_, err := svc.Create(context.Background(), actorOf(otherTeacher), models.CreateAssignmentRequest{
		CourseID: course.ID.Hex(), Title: "Homework", DueDate: assignmentClock, MaxScore: 10,
	})
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	_, err = svc.Create(context.Background(), actorOf(teacherUser), models.CreateAssignmentRequest{
		CourseID: "not-an-id", Title: "Homework", DueDate: assignmentClock, MaxScore: 10,
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidID)

	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))
	assert.Equal(t, teacherUser.ID, a.TeacherID)
	assert.Equal(t, course.ID, a.CourseID)
}

func TestAssignmentSubmitScenario(t *testing.T) {
	svc, _, course := newAssignmentFixture(t)
	ctx := context.Background()
	a := createHomework(t, svc, course, assignmentClock.Add(24*time.Hour))

	sub, err := svc.Submit(ctx, actorOf(studentA), a.ID, models.SubmitAssignmentRequest{Content: "my answer"})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, sub.Status)

	_, err = svc.Submit(ctx, actorOf(studentA), a.ID, models.SubmitAssignmentRequest{Content: "my answer"})
	assert.ErrorIs(t, err, appErrors.ErrAlreadySubmitted)

	svc.now = func() time.Time { return assignmentClock.Add(48 * time.Hour) }
	_, err = svc.Submit(ctx, actorOf(studentA), a.ID, models.SubmitAssignmentRequest{Content: "again"})
	assert.ErrorIs(t, err, appErrors.ErrDeadlinePassed, "deadline wins over the duplicate check")

	_, err = svc.Submit(ctx, actorOf(studentB), a.ID, models.SubmitAssignmentRequest{Content: "late"})
	assert.ErrorIs(t, err, appErrors.ErrDeadlinePassed)
}

func TestAssignmentSubmitRequiresEnrollment(t *testing.T) {
	svc, _, course := newAssignmentFixture(t)
	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))

	_, err := svc.Submit(context.Background(), actorOf(studentC), a.ID, models.SubmitAssignmentRequest{Content: "x"})
	assert.ErrorIs(t, err, appErrors.ErrNotEnrolled)

	_, err = svc.Submit(context.Background(), actorOf(teacherUser), a.ID, models.SubmitAssignmentRequest{Content: "x"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAssignmentSubmitNeedsContentOrFiles(t *testing.T) {
	svc, _, course := newAssignmentFixture(t)
	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))

	_, err := svc.Submit(context.Background(), actorOf(studentA), a.ID, models.SubmitAssignmentRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Submit(context.Background(), actorOf(studentA), a.ID, models.SubmitAssignmentRequest{FileURLs: []string{"https://files.example.com/a.pdf"}})
	require.NoError(t, err)
}

func TestAssignmentGrade(t *testing.T) {
	svc, store, course := newAssignmentFixture(t)
	ctx := context.Background()
	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))
	_, err := svc.Submit(ctx, actorOf(studentA), a.ID, models.SubmitAssignmentRequest{Content: "answer"})
	require.NoError(t, err)

	score := func(v float64) *float64 { return &v }

	_, err = svc.Grade(ctx, actorOf(teacherUser), a.ID, models.GradeSubmissionRequest{StudentID: studentA.ID.Hex(), Grade: score(101)})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Grade(ctx, actorOf(otherTeacher), a.ID, models.GradeSubmissionRequest{StudentID: studentA.ID.Hex(), Grade: score(90)})
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	_, err = svc.Grade(ctx, actorOf(teacherUser), a.ID, models.GradeSubmissionRequest{StudentID: studentB.ID.Hex(), Grade: score(90)})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	graded, err := svc.Grade(ctx, actorOf(teacherUser), a.ID, models.GradeSubmissionRequest{StudentID: studentA.ID.Hex(), Grade: score(100), Feedback: "great"})
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusGraded, graded.Status)

	stored, _ := store.FindByID(ctx, a.ID)
	sub, ok := stored.SubmissionOf(studentA.ID)
	require.True(t, ok)
	require.NotNil(t, sub.Grade)
	assert.Equal(t, 100.0, *sub.Grade)
	assert.Equal(t, "great", sub.Feedback)

	mine, err := svc.MySubmission(ctx, actorOf(studentA), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "great", mine.Feedback)
}

func TestAssignmentVisibility(t *testing.T) {
	svc, _, course := newAssignmentFixture(t)
	ctx := context.Background()
	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))
	for _, s := range []*models.User{studentA, studentB} {
		_, err := svc.Submit(ctx, actorOf(s), a.ID, models.SubmitAssignmentRequest{Content: s.Name})
		require.NoError(t, err)
	}

	asStudent, err := svc.Get(ctx, actorOf(studentA), a.ID)
	require.NoError(t, err)
	require.Len(t, asStudent.Submissions, 1)
	assert.Equal(t, studentA.ID, asStudent.Submissions[0].StudentID)

	asTeacher, err := svc.ListByCourse(ctx, actorOf(teacherUser), course.ID)
	require.NoError(t, err)
	require.Len(t, asTeacher, 1)
	assert.Len(t, asTeacher[0].Submissions, 2)

	_, err = svc.ListByCourse(ctx, actorOf(studentC), course.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestAssignmentUpdateAndDelete(t *testing.T) {
	svc, store, course := newAssignmentFixture(t)
	ctx := context.Background()
	a := createHomework(t, svc, course, assignmentClock.Add(time.Hour))

	title := "Homework 1 (revised)"
	updated, err := svc.Update(ctx, actorOf(teacherUser), a.ID, models.UpdateAssignmentRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	_, err = svc.Update(ctx, actorOf(otherTeacher), a.ID, models.UpdateAssignmentRequest{Title: &title})
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	require.NoError(t, svc.Delete(ctx, actorOf(teacherUser), a.ID))
	_, err = store.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)

	err = svc.Delete(ctx, actorOf(teacherUser), a.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
