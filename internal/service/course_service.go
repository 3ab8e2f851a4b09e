package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/response"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id models.ID) (*models.Course, error)
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, id models.ID) error
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByTeacher(ctx context.Context, teacherID models.ID) ([]models.Course, error)
}

// courseDependents removes records hanging off a deleted course.
type courseDependents interface {
	DeleteByCourse(ctx context.Context, courseID models.ID) (int64, error)
}

type courseNotifications interface {
	DeleteByCourse(ctx context.Context, courseID models.ID) error
}

// CourseService handles course CRUD. Membership changes live in EnrollmentService.
type CourseService struct {
	repo          courseRepository
	users         userDirectory
	assignments   courseDependents
	notifications courseNotifications
	cache         *CacheService
	audit         *AuditService
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseRepository, users userDirectory, assignments courseDependents, notifications courseNotifications, cache *CacheService, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &CourseService{
		repo:          repo,
		users:         users,
		assignments:   assignments,
		notifications: notifications,
		cache:         cache,
		audit:         audit,
		validator:     validate,
		logger:        logger,
	}
}

// List returns paginated courses.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *response.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list courses")
	}
	return courses, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id models.ID) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

// TeacherCourses lists the courses owned by a teacher.
func (s *CourseService) TeacherCourses(ctx context.Context, teacherID models.ID) ([]models.Course, error) {
	courses, err := s.repo.FindByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load teacher courses")
	}
	return courses, nil
}

// Create adds a course owned by the calling teacher, or by the named teacher when an
// admin creates it.
func (s *CourseService) Create(ctx context.Context, actor models.Actor, req models.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid course payload")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}

	ownerID := actor.ID
	switch {
	case actor.IsAdmin() && req.TeacherID != "":
		id, err := parseID(req.TeacherID, "teacher_id")
		if err != nil {
			return nil, err
		}
		if err := s.requireTeacher(ctx, id); err != nil {
			return nil, err
		}
		ownerID = id
	case actor.IsTeacher(), actor.IsAdmin():
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can create courses")
	}

	course := &models.Course{
		ID:          models.NewID(),
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		TeacherID:   ownerID,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		MeetingLink: req.MeetingLink,
		Schedule:    req.Schedule,
		MaxStudents: req.MaxStudents,
	}
	course.Slug = slug.Make(course.Title)

	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Internal(err, "failed to create course")
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionCourseCreate, Resource: "course", ResourceID: course.ID,
		Details: map[string]interface{}{"title": course.Title, "teacher_id": ownerID.Hex()}})
	return course, nil
}

// Update changes descriptive fields. Only the owner or an admin may update.
func (s *CourseService) Update(ctx context.Context, actor models.Actor, id models.ID, req models.UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}

	if req.Title != nil {
		course.Title = strings.TrimSpace(*req.Title)
		course.Slug = slug.Make(course.Title)
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.StartDate != nil {
		course.StartDate = req.StartDate
	}
	if req.EndDate != nil {
		course.EndDate = req.EndDate
	}
	if req.MeetingLink != nil {
		course.MeetingLink = *req.MeetingLink
	}
	if req.Schedule != nil {
		course.Schedule = *req.Schedule
	}
	if req.MaxStudents != nil {
		course.MaxStudents = *req.MaxStudents
	}
	if course.StartDate != nil && course.EndDate != nil && course.EndDate.Before(*course.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}

	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to update course")
	}
	s.cache.InvalidateStudents(ctx, memberIDs(course)...)
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionCourseUpdate, Resource: "course", ResourceID: course.ID})
	return course, nil
}

// Delete removes a course with its assignments and course-scoped notifications.
func (s *CourseService) Delete(ctx context.Context, actor models.Actor, id models.ID) error {
	course, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return appErrors.ErrNotOwner
	}

	if err := s.repo.Delete(ctx, course.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Internal(err, "failed to delete course")
	}

	removed, err := s.assignments.DeleteByCourse(ctx, course.ID)
	if err != nil {
		s.logger.Warn("failed to delete course assignments", zap.String("course_id", course.ID.Hex()), zap.Error(err))
	}
	if err := s.notifications.DeleteByCourse(ctx, course.ID); err != nil {
		s.logger.Warn("failed to delete course notifications", zap.String("course_id", course.ID.Hex()), zap.Error(err))
	}

	s.cache.InvalidateStudents(ctx, memberIDs(course)...)
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionCourseDelete, Resource: "course", ResourceID: course.ID,
		Details: map[string]interface{}{"assignments_removed": removed}})
	return nil
}

func (s *CourseService) requireTeacher(ctx context.Context, id models.ID) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Internal(err, "failed to load teacher")
	}
	if user.Role != models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrValidation, "teacher_id does not belong to a teacher")
	}
	return nil
}

func memberIDs(course *models.Course) []models.ID {
	ids := course.Students.StudentIDs()
	return append(ids, course.PendingStudents...)
}
