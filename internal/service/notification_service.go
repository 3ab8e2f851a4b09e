package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/response"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	FindByID(ctx context.Context, id models.ID) (*models.Notification, error)
	ListForAudience(ctx context.Context, audience models.NotificationAudience, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, audience models.NotificationAudience) (int64, error)
	MarkRead(ctx context.Context, id, userID models.ID) error
	Delete(ctx context.Context, id models.ID) error
}

type notificationCourses interface {
	FindByID(ctx context.Context, id models.ID) (*models.Course, error)
	FindByTeacher(ctx context.Context, teacherID models.ID) ([]models.Course, error)
}

type enrolledCourses interface {
	EnrolledCourseIDs(ctx context.Context, studentID models.ID) ([]models.ID, error)
}

// NotificationService publishes notifications and serves per-user feeds.
type NotificationService struct {
	repo       notificationRepository
	courses    notificationCourses
	enrollment enrolledCourses
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(repo notificationRepository, courses notificationCourses, enrollment enrolledCourses, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &NotificationService{repo: repo, courses: courses, enrollment: enrollment, validator: validate, logger: logger}
}

// Create publishes a notification. Admins may address any scope. Teachers may address
// their own courses or explicit recipients.
func (s *NotificationService) Create(ctx context.Context, actor models.Actor, req models.CreateNotificationRequest) (*models.Notification, error) {
	if actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students cannot publish notifications")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid notification payload")
	}
	if !req.Global && req.CourseID == "" && len(req.Recipients) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification needs a scope: global, course_id or recipients")
	}
	if req.Global && !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can publish global notifications")
	}

	n := &models.Notification{
		ID:         models.NewID(),
		Title:      strings.TrimSpace(req.Title),
		Content:    req.Content,
		Global:     req.Global,
		Recipients: []models.ID{},
		CreatedBy:  actor.ID,
		ReadBy:     []models.ID{},
	}
	if req.CourseID != "" {
		courseID, err := parseID(req.CourseID, "course_id")
		if err != nil {
			return nil, err
		}
		course, err := s.courses.FindByID(ctx, courseID)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, appErrors.Internal(err, "failed to load course")
		}
		if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
			return nil, appErrors.ErrNotOwner
		}
		n.CourseID = &course.ID
	}
	for _, raw := range req.Recipients {
		id, err := parseID(raw, "recipients")
		if err != nil {
			return nil, err
		}
		if !models.ContainsID(n.Recipients, id) {
			n.Recipients = append(n.Recipients, id)
		}
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, appErrors.Internal(err, "failed to create notification")
	}
	s.logger.Info("notification published",
		zap.String("notification_id", n.ID.Hex()),
		zap.Bool("global", n.Global),
		zap.Int("recipients", len(n.Recipients)))
	return n, nil
}

// List returns the caller's feed with per-user read flags.
func (s *NotificationService) List(ctx context.Context, actor models.Actor, filter models.NotificationFilter) ([]models.NotificationView, *response.Pagination, error) {
	audience, err := s.audienceFor(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	items, total, err := s.repo.ListForAudience(ctx, audience, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list notifications")
	}
	views := make([]models.NotificationView, 0, len(items))
	for i := range items {
		views = append(views, models.NotificationView{Notification: &items[i], Read: items[i].ReadByUser(actor.ID)})
	}
	return views, pagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns how many visible notifications the caller has not read.
func (s *NotificationService) UnreadCount(ctx context.Context, actor models.Actor) (int64, error) {
	audience, err := s.audienceFor(ctx, actor)
	if err != nil {
		return 0, err
	}
	count, err := s.repo.CountUnread(ctx, audience)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to count notifications")
	}
	return count, nil
}

// MarkRead records that the caller read a notification visible to them.
func (s *NotificationService) MarkRead(ctx context.Context, actor models.Actor, id models.ID) error {
	n, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	audience, err := s.audienceFor(ctx, actor)
	if err != nil {
		return err
	}
	if !visibleTo(n, audience) {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	if err := s.repo.MarkRead(ctx, n.ID, actor.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to mark notification read")
	}
	return nil
}

// Delete removes a notification. Only its author or an admin may do this.
func (s *NotificationService) Delete(ctx context.Context, actor models.Actor, id models.ID) error {
	n, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && !n.CreatedBy.Equal(actor.ID) {
		return appErrors.Clone(appErrors.ErrForbidden, "only the author can delete this notification")
	}
	if err := s.repo.Delete(ctx, n.ID); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Internal(err, "failed to delete notification")
	}
	return nil
}

func (s *NotificationService) load(ctx context.Context, id models.ID) (*models.Notification, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Internal(err, "failed to load notification")
	}
	return n, nil
}

// audienceFor resolves the course scopes a user can read: enrolled courses for
// students and owned courses for teachers.
func (s *NotificationService) audienceFor(ctx context.Context, actor models.Actor) (models.NotificationAudience, error) {
	audience := models.NotificationAudience{UserID: actor.ID}
	switch {
	case actor.IsStudent():
		ids, err := s.enrollment.EnrolledCourseIDs(ctx, actor.ID)
		if err != nil {
			return audience, err
		}
		audience.CourseIDs = ids
	case actor.IsTeacher():
		courses, err := s.courses.FindByTeacher(ctx, actor.ID)
		if err != nil {
			return audience, appErrors.Internal(err, "failed to load teacher courses")
		}
		for _, c := range courses {
			audience.CourseIDs = append(audience.CourseIDs, c.ID)
		}
	}
	return audience, nil
}

func visibleTo(n *models.Notification, audience models.NotificationAudience) bool {
	if n.Global || models.ContainsID(n.Recipients, audience.UserID) {
		return true
	}
	return n.CourseID != nil && models.ContainsID(audience.CourseIDs, *n.CourseID)
}
