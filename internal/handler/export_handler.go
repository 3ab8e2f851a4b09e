package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/response"
)

type exportService interface {
	Generate(ctx context.Context, actor models.Actor, courseID models.ID, req models.ExportRequest) (*models.ExportResult, error)
	Open(token string) (*models.ExportFile, io.ReadCloser, error)
}

// ExportHandler generates course reports and serves signed downloads.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds an export handler.
func NewExportHandler(svc exportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Generate godoc
// @Summary Generate a roster or gradebook report
// @Tags Exports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body models.ExportRequest true "Report kind and format"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope "NOT_OWNER"
// @Router /courses/{id}/exports [post]
func (h *ExportHandler) Generate(c *gin.Context) {
	actor, courseID, ok := actorAndID(c)
	if !ok {
		return
	}
	var req models.ExportRequest
	if err := bindJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Generate(c.Request.Context(), actor, courseID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a generated report
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	meta, body, err := h.service.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, meta.Size, meta.ContentType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", meta.FileName),
		"Cache-Control":       "no-store",
	})
}
