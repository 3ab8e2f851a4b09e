package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/storage"
)

func newExportFixture(t *testing.T) (*ExportService, *models.Course) {
	t.Helper()
	course := newCourse(0)
	course.Students = models.Roster{
		{StudentID: studentA.ID, Status: models.EnrollmentStatusActive, EnrolledAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{StudentID: studentB.ID, Status: models.EnrollmentStatusActive, EnrolledAt: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)},
	}

	grade := 87.5
	assignments := newMemAssignmentStore()
	require.NoError(t, assignments.Create(context.Background(), &models.Assignment{
		ID:        models.NewID(),
		CourseID:  course.ID,
		TeacherID: teacherUser.ID,
		Title:     "Essay",
		MaxScore:  100,
		Submissions: []models.Submission{
			{StudentID: studentA.ID, Status: models.SubmissionStatusGraded, Grade: &grade},
			{StudentID: studentB.ID, Status: models.SubmissionStatusSubmitted},
		},
	}))

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Minute)

	svc := NewExportService(newMemCourseStore(course), newFixtureUsers(), assignments, files, signer, NewMetricsService(), nil, zap.NewNop(),
		ExportConfig{APIPrefix: "/api/v1", Retention: time.Hour})
	return svc, course
}

func TestExportGradesCSV(t *testing.T) {
	svc, course := newExportFixture(t)

	result, err := svc.Generate(context.Background(), actorOf(teacherUser), course.ID, models.ExportRequest{Kind: models.ExportKindGrades, Format: models.ExportFormatCSV})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/exports/download?token="))
	assert.True(t, strings.HasSuffix(result.FileName, ".csv"))

	meta, body, err := svc.Open(result.Token)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "text/csv", meta.ContentType)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Essay (/100)")
	assert.Contains(t, content, "Sam A,a@example.com,87.5")
	assert.Contains(t, content, "Sam B,b@example.com,submitted")
}

func TestExportRosterPDF(t *testing.T) {
	svc, course := newExportFixture(t)

	result, err := svc.Generate(context.Background(), actorOf(adminUser), course.ID, models.ExportRequest{Kind: models.ExportKindRoster, Format: models.ExportFormatPDF})
	require.NoError(t, err)

	meta, body, err := svc.Open(result.Token)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "application/pdf", meta.ContentType)

	head := make([]byte, 4)
	_, err = io.ReadFull(body, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(head))
}

func TestExportRequiresOwner(t *testing.T) {
	svc, course := newExportFixture(t)

	_, err := svc.Generate(context.Background(), actorOf(otherTeacher), course.ID, models.ExportRequest{Kind: models.ExportKindRoster, Format: models.ExportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrNotOwner)

	_, err = svc.Generate(context.Background(), actorOf(teacherUser), course.ID, models.ExportRequest{Kind: "attendance", Format: models.ExportFormatCSV})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportOpenRejectsBadToken(t *testing.T) {
	svc, _ := newExportFixture(t)

	_, _, err := svc.Open("garbage")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}
