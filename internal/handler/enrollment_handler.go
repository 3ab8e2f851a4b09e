package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/middleware"
	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/response"
)

type enrollmentService interface {
	Request(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error)
	CancelRequest(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error)
	Approve(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)
	Reject(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)
	Unenroll(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error)
	AdminAdd(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)
	AdminRemove(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)
	Status(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)
	PendingRequests(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.UserSummary, error)
	Roster(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.RosterEntry, error)
	StudentCourses(ctx context.Context, studentID models.ID) ([]models.StudentCourse, bool, error)
}

// EnrollmentHandler exposes the enrollment workflow to students, teachers and admins.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler builds an enrollment handler.
func NewEnrollmentHandler(svc enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

type studentTransition func(ctx context.Context, actor models.Actor, courseID models.ID) (*models.EnrollmentStatus, error)

type ownerTransition func(ctx context.Context, actor models.Actor, courseID, studentID models.ID) (*models.EnrollmentStatus, error)

// Request godoc
// @Summary Request enrollment in a course
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "ALREADY_PENDING, ALREADY_ENROLLED or COURSE_FULL"
// @Router /courses/{id}/enroll [post]
func (h *EnrollmentHandler) Request(c *gin.Context) {
	h.runStudent(c, h.service.Request)
}

// CancelRequest godoc
// @Summary Withdraw a pending enrollment request
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "NOT_PENDING"
// @Router /courses/{id}/enroll [delete]
func (h *EnrollmentHandler) CancelRequest(c *gin.Context) {
	h.runStudent(c, h.service.CancelRequest)
}

// Unenroll godoc
// @Summary Leave a course
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "NOT_ENROLLED"
// @Router /courses/{id}/unenroll [delete]
func (h *EnrollmentHandler) Unenroll(c *gin.Context) {
	h.runStudent(c, h.service.Unenroll)
}

// Approve godoc
// @Summary Approve a pending student
// @Tags Teachers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body models.StudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "NOT_PENDING or COURSE_FULL"
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /teachers/courses/{id}/approve [patch]
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	h.runForStudentInBody(c, h.service.Approve)
}

// Reject godoc
// @Summary Reject a pending student
// @Tags Teachers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body models.StudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "NOT_PENDING"
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /teachers/courses/{id}/reject [patch]
func (h *EnrollmentHandler) Reject(c *gin.Context) {
	h.runForStudentInBody(c, h.service.Reject)
}

// AdminAdd godoc
// @Summary Enroll a student directly
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body models.StudentRequest true "Student"
// @Success 200 {object} response.Envelope
// @Router /admin/courses/{id}/students [post]
func (h *EnrollmentHandler) AdminAdd(c *gin.Context) {
	h.runForStudentInBody(c, h.service.AdminAdd)
}

// AdminRemove godoc
// @Summary Remove a student from a course
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope "NOT_ENROLLED"
// @Router /admin/courses/{id}/students/{studentId} [delete]
func (h *EnrollmentHandler) AdminRemove(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	studentID, err := pathID(c, "studentId")
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.service.AdminRemove(c.Request.Context(), actor, courseID, studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// Status godoc
// @Summary Caller's membership state in a course
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param student_id query string false "Student to inspect (owner or admin)"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/enrollment [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	studentID := actor.ID
	if raw := c.Query("student_id"); raw != "" {
		parsed, err := models.ParseID(raw)
		if err != nil {
			response.Error(c, invalidIDError("student_id", err))
			return
		}
		studentID = parsed
	}
	status, err := h.service.Status(c.Request.Context(), actor, courseID, studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// Pending godoc
// @Summary Students awaiting approval
// @Tags Teachers
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /teachers/courses/{id}/pending [get]
func (h *EnrollmentHandler) Pending(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	students, err := h.service.PendingRequests(c.Request.Context(), actor, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, students)
}

// Roster godoc
// @Summary Enrolled students of a course
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/students [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	roster, err := h.service.Roster(c.Request.Context(), actor, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, roster)
}

// MyCourses godoc
// @Summary Courses the calling student is enrolled in or waiting for
// @Tags Enrollment
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /courses/mine [get]
func (h *EnrollmentHandler) MyCourses(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !actor.IsStudent() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only students have enrollments"))
		return
	}
	courses, hit, err := h.service.StudentCourses(c.Request.Context(), actor.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, courses, nil, middleware.ExtractMeta(c))
}

func (h *EnrollmentHandler) runStudent(c *gin.Context, op studentTransition) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	status, err := op(c.Request.Context(), actor, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

func (h *EnrollmentHandler) runForStudentInBody(c *gin.Context, op ownerTransition) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	var req models.StudentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	studentID, err := models.ParseID(req.StudentID)
	if err != nil {
		response.Error(c, invalidIDError("studentId", err))
		return
	}
	status, err := op(c.Request.Context(), actor, courseID, studentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// actorAndID resolves the caller and the :id path parameter, writing the error
// response itself when either is missing.
func actorAndID(c *gin.Context) (models.Actor, models.ID, bool) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return models.Actor{}, models.NilID, false
	}
	courseID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return models.Actor{}, models.NilID, false
	}
	return actor, courseID, true
}
