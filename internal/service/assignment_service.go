package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

type assignmentRepository interface {
	Create(ctx context.Context, assignment *models.Assignment) error
	FindByID(ctx context.Context, id models.ID) (*models.Assignment, error)
	ListByCourse(ctx context.Context, courseID models.ID) ([]models.Assignment, error)
	Update(ctx context.Context, assignment *models.Assignment) error
	Delete(ctx context.Context, id models.ID) error
	AddSubmission(ctx context.Context, assignmentID models.ID, submission models.Submission) (bool, error)
	GradeSubmission(ctx context.Context, assignmentID, teacherID, studentID models.ID, grade float64, feedback string, at time.Time) (bool, error)
}

type courseLookup interface {
	FindByID(ctx context.Context, id models.ID) (*models.Course, error)
}

// AssignmentService handles assignments, submissions and grading.
type AssignmentService struct {
	repo      assignmentRepository
	courses   courseLookup
	metrics   *MetricsService
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAssignmentService constructs an AssignmentService.
func NewAssignmentService(repo assignmentRepository, courses courseLookup, metrics *MetricsService, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &AssignmentService{repo: repo, courses: courses, metrics: metrics, audit: audit, validator: validate, logger: logger, now: time.Now}
}

// Create adds an assignment to a course owned by the caller.
func (s *AssignmentService) Create(ctx context.Context, actor models.Actor, req models.CreateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid assignment payload")
	}
	courseID, err := parseID(req.CourseID, "course_id")
	if err != nil {
		return nil, err
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}

	assignment := &models.Assignment{
		ID:          models.NewID(),
		CourseID:    course.ID,
		TeacherID:   course.TeacherID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		DueDate:     req.DueDate.UTC(),
		MaxScore:    req.MaxScore,
	}
	if err := s.repo.Create(ctx, assignment); err != nil {
		return nil, appErrors.Internal(err, "failed to create assignment")
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionAssignmentCreate, Resource: "assignment", ResourceID: assignment.ID,
		Details: map[string]interface{}{"course_id": course.ID.Hex()}})
	return assignment, nil
}

// ListByCourse lists a course's assignments. Students only see their own submission.
func (s *AssignmentService) ListByCourse(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.Assignment, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, course); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list assignments")
	}
	for i := range items {
		redactSubmissions(actor, course, &items[i])
	}
	return items, nil
}

// Get returns one assignment under the same visibility rules as ListByCourse.
func (s *AssignmentService) Get(ctx context.Context, actor models.Actor, id models.ID) (*models.Assignment, error) {
	assignment, course, err := s.loadWithCourse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canView(actor, course); err != nil {
		return nil, err
	}
	redactSubmissions(actor, course, assignment)
	return assignment, nil
}

// Update changes the descriptive fields of an assignment.
func (s *AssignmentService) Update(ctx context.Context, actor models.Actor, id models.ID, req models.UpdateAssignmentRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid assignment payload")
	}
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !assignment.TeacherID.Equal(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}
	if req.Title != nil {
		assignment.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		assignment.Description = *req.Description
	}
	if req.DueDate != nil {
		assignment.DueDate = req.DueDate.UTC()
	}
	if req.MaxScore != nil {
		for _, sub := range assignment.Submissions {
			if sub.Grade != nil && *sub.Grade > *req.MaxScore {
				return nil, appErrors.Clone(appErrors.ErrValidation, "max_score is below an existing grade")
			}
		}
		assignment.MaxScore = *req.MaxScore
	}
	if err := s.repo.Update(ctx, assignment); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to update assignment")
	}
	return assignment, nil
}

// Delete removes an assignment with its submissions.
func (s *AssignmentService) Delete(ctx context.Context, actor models.Actor, id models.ID) error {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && !assignment.TeacherID.Equal(actor.ID) {
		return appErrors.ErrNotOwner
	}
	if err := s.repo.Delete(ctx, assignment.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Internal(err, "failed to delete assignment")
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionAssignmentDelete, Resource: "assignment", ResourceID: assignment.ID})
	return nil
}

// Submit stores the caller's single submission. The deadline is checked before
// anything else, so a late call fails with DEADLINE_PASSED even after a prior submission.
func (s *AssignmentService) Submit(ctx context.Context, actor models.Actor, id models.ID, req models.SubmitAssignmentRequest) (*models.Submission, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid submission payload")
	}
	now := s.now().UTC()

	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkSubmit(assignment, actor.ID, now); err != nil {
		s.metrics.RecordSubmission(submissionOutcome(err))
		return nil, err
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, err
	}
	if course.StateOf(actor.ID) != models.MembershipEnrolled {
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "only enrolled students can submit")
	}

	submission := models.Submission{
		StudentID:   actor.ID,
		Content:     req.Content,
		FileURLs:    req.FileURLs,
		Status:      models.SubmissionStatusSubmitted,
		SubmittedAt: now,
	}
	if submission.FileURLs == nil {
		submission.FileURLs = []string{}
	}
	stored, err := s.repo.AddSubmission(ctx, assignment.ID, submission)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store submission")
	}
	if !stored {
		latest, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkSubmit(latest, actor.ID, now); err != nil {
			s.metrics.RecordSubmission(submissionOutcome(err))
			return nil, err
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "assignment changed concurrently, please retry")
	}

	s.metrics.RecordSubmission("accepted")
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionSubmit, Resource: "assignment", ResourceID: assignment.ID})
	return &submission, nil
}

// Grade sets a grade between zero and the assignment's max score.
func (s *AssignmentService) Grade(ctx context.Context, actor models.Actor, id models.ID, req models.GradeSubmissionRequest) (*models.Submission, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid grade payload")
	}
	studentID, err := parseID(req.StudentID, "studentId")
	if err != nil {
		return nil, err
	}
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !assignment.TeacherID.Equal(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}
	grade := *req.Grade
	if grade < 0 || grade > assignment.MaxScore {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grade must be between 0 and %g", assignment.MaxScore))
	}
	if _, ok := assignment.SubmissionOf(studentID); !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
	}

	at := s.now().UTC()
	matched, err := s.repo.GradeSubmission(ctx, assignment.ID, assignment.TeacherID, studentID, grade, req.Feedback, at)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to grade submission")
	}
	if !matched {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
	}

	sub, _ := assignment.SubmissionOf(studentID)
	sub.Grade = &grade
	sub.Feedback = req.Feedback
	sub.Status = models.SubmissionStatusGraded
	sub.GradedAt = &at

	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionGrade, Resource: "assignment", ResourceID: assignment.ID,
		Details: map[string]interface{}{"student_id": studentID.Hex(), "grade": grade}})
	return sub, nil
}

// MySubmission returns the caller's submission.
func (s *AssignmentService) MySubmission(ctx context.Context, actor models.Actor, id models.ID) (*models.Submission, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sub, ok := assignment.SubmissionOf(actor.ID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "submission not found")
	}
	return sub, nil
}

func (s *AssignmentService) load(ctx context.Context, id models.ID) (*models.Assignment, error) {
	assignment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Internal(err, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) loadCourse(ctx context.Context, id models.ID) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

func (s *AssignmentService) loadWithCourse(ctx context.Context, id models.ID) (*models.Assignment, *models.Course, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	course, err := s.loadCourse(ctx, assignment.CourseID)
	if err != nil {
		return nil, nil, err
	}
	return assignment, course, nil
}

func checkSubmit(assignment *models.Assignment, studentID models.ID, at time.Time) error {
	if assignment.DeadlinePassed(at) {
		return appErrors.ErrDeadlinePassed
	}
	if _, ok := assignment.SubmissionOf(studentID); ok {
		return appErrors.ErrAlreadySubmitted
	}
	return nil
}

func submissionOutcome(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrDeadlinePassed):
		return "late"
	case errors.Is(err, appErrors.ErrAlreadySubmitted):
		return "duplicate"
	default:
		return "rejected"
	}
}

func canView(actor models.Actor, course *models.Course) error {
	if actor.IsAdmin() || course.IsOwnedBy(actor.ID) || course.StateOf(actor.ID) == models.MembershipEnrolled {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "assignments are visible to course members only")
}

// redactSubmissions hides other students' work from a student viewer.
func redactSubmissions(actor models.Actor, course *models.Course, assignment *models.Assignment) {
	if actor.IsAdmin() || course.IsOwnedBy(actor.ID) {
		return
	}
	own := make([]models.Submission, 0, 1)
	if sub, ok := assignment.SubmissionOf(actor.ID); ok {
		own = append(own, *sub)
	}
	assignment.Submissions = own
}
