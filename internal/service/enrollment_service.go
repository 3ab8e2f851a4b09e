package service

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
)

// maxTransitionAttempts bounds how often a transition is re-diagnosed after its
// conditional update lost a race.
const maxTransitionAttempts = 3

type enrollmentRepository interface {
	FindByID(ctx context.Context, id models.ID) (*models.Course, error)
	FindByStudent(ctx context.Context, studentID models.ID, includePending bool) ([]models.Course, error)
	AddPending(ctx context.Context, courseID, studentID models.ID, policy models.CapacityPolicy) (bool, error)
	Approve(ctx context.Context, courseID, teacherID models.ID, record models.EnrollmentRecord) (bool, error)
	RemovePending(ctx context.Context, courseID, studentID, ownerID models.ID) (bool, error)
	RemoveEnrolled(ctx context.Context, courseID, studentID models.ID) (bool, error)
	ForceEnroll(ctx context.Context, courseID models.ID, record models.EnrollmentRecord) (bool, error)
}

type userDirectory interface {
	FindByID(ctx context.Context, id models.ID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []models.ID) (map[string]models.User, error)
}

// EnrollmentConfig holds workflow policy.
type EnrollmentConfig struct {
	CapacityPolicy models.CapacityPolicy
	CacheTTL       time.Duration
}

// EnrollmentService moves students between NONE, PENDING and ENROLLED on a course.
// Each transition checks the loaded course for a precise error, then applies a
// conditional update whose filter restates the same preconditions.
type EnrollmentService struct {
	repo    enrollmentRepository
	users   userDirectory
	cache   *CacheService
	metrics *MetricsService
	audit   *AuditService
	logger  *zap.Logger
	config  EnrollmentConfig
	now     func() time.Time
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, users userDirectory, cache *CacheService, metrics *MetricsService, audit *AuditService, logger *zap.Logger, config EnrollmentConfig) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CapacityPolicy == "" {
		config.CapacityPolicy = models.CapacityEnrolled
	}
	return &EnrollmentService{
		repo:    repo,
		users:   users,
		cache:   cache,
		metrics: metrics,
		audit:   audit,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Policy reports the configured capacity policy.
func (s *EnrollmentService) Policy() models.CapacityPolicy {
	return s.config.CapacityPolicy
}

// Request asks to join a course: NONE -> PENDING.
func (s *EnrollmentService) Request(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error) {
	if !actor.IsStudent() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can request enrollment")
	}
	student := actor.ID
	err := s.transition(ctx, TransitionRequest, courseID,
		func(c *models.Course) error { return checkRequest(c, student, s.config.CapacityPolicy) },
		func(c *models.Course) (bool, error) {
			return s.repo.AddPending(ctx, c.ID, student, s.config.CapacityPolicy)
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionRequest, actor.ID, courseID, student)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: student, State: models.MembershipPending}, nil
}

// CancelRequest withdraws the caller's own pending request: PENDING -> NONE.
func (s *EnrollmentService) CancelRequest(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error) {
	student := actor.ID
	err := s.transition(ctx, TransitionCancel, courseID,
		func(c *models.Course) error { return checkCancel(c, student) },
		func(c *models.Course) (bool, error) {
			return s.repo.RemovePending(ctx, c.ID, student, models.NilID)
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionCancel, actor.ID, courseID, student)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: student, State: models.MembershipNone}, nil
}

// Approve admits a pending student. Only the owning teacher may approve, and approval
// never takes the roster past MaxStudents: PENDING -> ENROLLED.
func (s *EnrollmentService) Approve(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error) {
	teacher := actor.ID
	err := s.transition(ctx, TransitionApprove, courseID,
		func(c *models.Course) error { return checkApprove(c, teacher, studentID) },
		func(c *models.Course) (bool, error) {
			return s.repo.Approve(ctx, c.ID, teacher, s.newRecord(studentID))
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionApprove, actor.ID, courseID, studentID)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: studentID, State: models.MembershipEnrolled}, nil
}

// Reject declines a pending request: PENDING -> NONE.
func (s *EnrollmentService) Reject(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error) {
	teacher := actor.ID
	err := s.transition(ctx, TransitionReject, courseID,
		func(c *models.Course) error { return checkReject(c, teacher, studentID) },
		func(c *models.Course) (bool, error) {
			return s.repo.RemovePending(ctx, c.ID, studentID, teacher)
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionReject, actor.ID, courseID, studentID)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: studentID, State: models.MembershipNone}, nil
}

// Unenroll removes the caller from a course roster: ENROLLED -> NONE.
func (s *EnrollmentService) Unenroll(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error) {
	student := actor.ID
	err := s.transition(ctx, TransitionUnenroll, courseID,
		func(c *models.Course) error { return checkUnenroll(c, student) },
		func(c *models.Course) (bool, error) {
			return s.repo.RemoveEnrolled(ctx, c.ID, student)
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionUnenroll, actor.ID, courseID, student)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: student, State: models.MembershipNone}, nil
}

// AdminAdd enrolls a student directly, ignoring ownership and capacity. Repeating the
// call leaves the roster unchanged.
func (s *EnrollmentService) AdminAdd(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.requireStudent(ctx, studentID); err != nil {
		return nil, err
	}
	err := s.transition(ctx, TransitionAdminAdd, courseID,
		func(c *models.Course) error { return checkAdminAdd(c, studentID) },
		func(c *models.Course) (bool, error) {
			if c.StateOf(studentID) == models.MembershipEnrolled {
				return s.repo.RemovePending(ctx, c.ID, studentID, models.NilID)
			}
			return s.repo.ForceEnroll(ctx, c.ID, s.newRecord(studentID))
		})
	switch {
	case errors.Is(err, errNothingToDo):
	case err != nil:
		return nil, err
	default:
		s.afterTransition(ctx, TransitionAdminAdd, actor.ID, courseID, studentID)
	}
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: studentID, State: models.MembershipEnrolled}, nil
}

// AdminRemove drops a student from either list, ignoring ownership.
func (s *EnrollmentService) AdminRemove(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	err := s.transition(ctx, TransitionAdminRemove, courseID,
		func(c *models.Course) error { return checkAdminRemove(c, studentID) },
		func(c *models.Course) (bool, error) {
			removed := false
			if c.StateOf(studentID) == models.MembershipEnrolled {
				ok, err := s.repo.RemoveEnrolled(ctx, c.ID, studentID)
				if err != nil {
					return false, err
				}
				removed = ok
			}
			if models.ContainsID(c.PendingStudents, studentID) {
				ok, err := s.repo.RemovePending(ctx, c.ID, studentID, models.NilID)
				if err != nil {
					return false, err
				}
				removed = removed || ok
			}
			return removed, nil
		})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, TransitionAdminRemove, actor.ID, courseID, studentID)
	return &models.EnrollmentStatus{CourseID: courseID, StudentID: studentID, State: models.MembershipNone}, nil
}

// Status reports a student's membership state. Students may only ask about themselves.
func (s *EnrollmentService) Status(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.ID.Equal(studentID) && !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return nil, appErrors.ErrForbidden
	}
	return &models.EnrollmentStatus{CourseID: course.ID, StudentID: studentID, State: course.StateOf(studentID)}, nil
}

// PendingRequests lists students awaiting approval, in request order.
func (s *EnrollmentService) PendingRequests(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.UserSummary, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) {
		return nil, appErrors.ErrNotOwner
	}
	people, err := s.users.FindByIDs(ctx, course.PendingStudents)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	out := make([]models.UserSummary, 0, len(course.PendingStudents))
	for _, id := range course.PendingStudents {
		out = append(out, summaryFor(people, id))
	}
	return out, nil
}

// Roster lists enrolled students. Visible to the owner, admins and enrolled students.
func (s *EnrollmentService) Roster(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.RosterEntry, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !course.IsOwnedBy(actor.ID) && course.StateOf(actor.ID) != models.MembershipEnrolled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "roster is visible to course members only")
	}
	return s.rosterEntries(ctx, course)
}

func (s *EnrollmentService) rosterEntries(ctx context.Context, course *models.Course) ([]models.RosterEntry, error) {
	people, err := s.users.FindByIDs(ctx, course.Students.StudentIDs())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	out := make([]models.RosterEntry, 0, len(course.Students))
	for _, rec := range course.Students {
		out = append(out, models.RosterEntry{Student: summaryFor(people, rec.StudentID), EnrolledAt: rec.EnrolledAt, Status: rec.Status})
	}
	return out, nil
}

// StudentCourses returns the courses a student is enrolled in or waiting for.
func (s *EnrollmentService) StudentCourses(ctx context.Context, studentID models.ID) ([]models.StudentCourse, bool, error) {
	key := StudentCoursesKey(studentID)
	var cached []models.StudentCourse
	if s.cache.Get(ctx, key, &cached) {
		return cached, true, nil
	}

	courses, err := s.repo.FindByStudent(ctx, studentID, true)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load student courses")
	}
	out := make([]models.StudentCourse, 0, len(courses))
	for i := range courses {
		out = append(out, models.StudentCourse{Course: &courses[i], State: courses[i].StateOf(studentID)})
	}
	s.cache.Set(ctx, key, out, s.config.CacheTTL)
	return out, false, nil
}

// EnrolledCourseIDs lists the courses the student is enrolled in. Pending courses are excluded.
func (s *EnrollmentService) EnrolledCourseIDs(ctx context.Context, studentID models.ID) ([]models.ID, error) {
	courses, err := s.repo.FindByStudent(ctx, studentID, false)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student courses")
	}
	ids := make([]models.ID, 0, len(courses))
	for _, c := range courses {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// transition runs check and apply against a freshly loaded course. When apply reports
// that its conditional update matched nothing, the course is reloaded and re-checked
// so the caller gets the error that now applies.
func (s *EnrollmentService) transition(ctx context.Context, name string, courseID models.ID, check func(*models.Course) error, apply func(*models.Course) (bool, error)) error {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		course, err := s.loadCourse(ctx, courseID)
		if err != nil {
			return err
		}
		if err := check(course); err != nil {
			return err
		}
		changed, err := apply(course)
		if err != nil {
			return appErrors.Internal(err, "failed to update enrollment")
		}
		if changed {
			s.metrics.RecordTransition(name)
			return nil
		}
		s.metrics.RecordTransitionConflict(name)
		s.logger.Debug("enrollment update lost a race, re-checking",
			zap.String("transition", name), zap.String("course_id", courseID.Hex()), zap.Int("attempt", attempt+1))
	}
	return appErrors.Clone(appErrors.ErrConflict, "course changed concurrently, please retry")
}

func (s *EnrollmentService) afterTransition(ctx context.Context, name string, actorID, courseID, studentID models.ID) {
	s.cache.InvalidateStudents(ctx, studentID)
	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    actorID,
		Action:     models.AuditActionEnrollment,
		Resource:   "course",
		ResourceID: courseID,
		Details:    map[string]interface{}{"transition": name, "student_id": studentID.Hex()},
	})
	s.logger.Info("enrollment transition",
		zap.String("transition", name),
		zap.String("course_id", courseID.Hex()),
		zap.String("student_id", studentID.Hex()),
		zap.String("actor_id", actorID.Hex()))
}

func (s *EnrollmentService) loadCourse(ctx context.Context, id models.ID) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

func (s *EnrollmentService) requireStudent(ctx context.Context, id models.ID) error {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Internal(err, "failed to load student")
	}
	if user.Role != models.RoleStudent {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}
	return nil
}

func (s *EnrollmentService) newRecord(studentID models.ID) models.EnrollmentRecord {
	return models.EnrollmentRecord{StudentID: studentID, EnrolledAt: s.now().UTC(), Status: models.EnrollmentStatusActive}
}

func summaryFor(people map[string]models.User, id models.ID) models.UserSummary {
	if u, ok := people[id.Hex()]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: id}
}
