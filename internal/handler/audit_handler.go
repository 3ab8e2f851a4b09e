package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/models"
	"github.com/noah-isme/classroom-api/pkg/response"
)

type auditHistory interface {
	History(ctx context.Context, actor models.Actor, resource string, resourceID models.ID, limit int) ([]models.AuditLog, error)
}

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	service auditHistory
}

// NewAuditHandler builds an audit handler.
func NewAuditHandler(svc auditHistory) *AuditHandler {
	return &AuditHandler{service: svc}
}

// History godoc
// @Summary Audit entries for one resource
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param resource path string true "Resource kind, e.g. course or user"
// @Param id path string true "Resource ID"
// @Param limit query int false "Maximum entries (default 50)"
// @Success 200 {object} response.Envelope
// @Router /admin/audit-logs/{resource}/{id} [get]
func (h *AuditHandler) History(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}
	logs, err := h.service.History(c.Request.Context(), actor, c.Param("resource"), id, queryInt(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, logs)
}
