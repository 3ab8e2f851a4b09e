package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/pkg/response"
)

type assignmentService interface {
	Create(ctx context.Context, actor models.Actor, req models.CreateAssignmentRequest) (*models.Assignment, error)
	ListByCourse(ctx context.Context, actor models.Actor, courseID models.ID) ([]models.Assignment, error)
	Get(ctx context.Context, actor models.Actor, id models.ID) (*models.Assignment, error)
	Update(ctx context.Context, actor models.Actor, id models.ID, req models.UpdateAssignmentRequest) (*models.Assignment, error)
	Delete(ctx context.Context, actor models.Actor, id models.ID) error
	Submit(ctx context.Context, actor models.Actor, id models.ID, req models.SubmitAssignmentRequest) (*models.Submission, error)
	Grade(ctx context.Context, actor models.Actor, id models.ID, req models.GradeSubmissionRequest) (*models.Submission, error)
	MySubmission(ctx context.Context, actor models.Actor, id models.ID) (*models.Submission, error)
}

// AssignmentHandler exposes assignment and submission endpoints.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler builds an assignment handler.
func NewAssignmentHandler(svc assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// Create godoc
// @Summary Create assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.CreateAssignmentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// ListByCourse godoc
// @Summary Assignments of a course
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/assignments [get]
func (h *AssignmentHandler) ListByCourse(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	items, err := h.service.ListByCourse(c.Request.Context(), actor, courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, items)
}

// Get godoc
// @Summary Get assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	assignment, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Update godoc
// @Summary Update assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param payload body models.UpdateAssignmentRequest true "Assignment fields"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [put]
func (h *AssignmentHandler) Update(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req models.UpdateAssignmentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	assignment, err := h.service.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, assignment)
}

// Delete godoc
// @Summary Delete assignment
// @Tags Assignments
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Submit godoc
// @Summary Submit work for an assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param payload body models.SubmitAssignmentRequest true "Submission"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope "DEADLINE_PASSED, ALREADY_SUBMITTED or NOT_ENROLLED"
// @Router /assignments/{id}/submit [post]
func (h *AssignmentHandler) Submit(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req models.SubmitAssignmentRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	submission, err := h.service.Submit(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, submission)
}

// Grade godoc
// @Summary Grade a submission
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Param payload body models.GradeSubmissionRequest true "Grade"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /assignments/{id}/grade [post]
func (h *AssignmentHandler) Grade(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	var req models.GradeSubmissionRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	submission, err := h.service.Grade(c.Request.Context(), actor, id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, submission)
}

// MySubmission godoc
// @Summary Caller's own submission
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id}/submission [get]
func (h *AssignmentHandler) MySubmission(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	submission, err := h.service.MySubmission(c.Request.Context(), actor, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, submission)
}
