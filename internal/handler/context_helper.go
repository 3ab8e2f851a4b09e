package handler

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-api/internal/middleware"
	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

// actorFromContext resolves the authenticated caller set by the JWT middleware.
func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	actor, err := models.ActorFromClaims(claims)
	if err != nil {
		return models.Actor{}, appErrors.Clone(appErrors.ErrUnauthorized, "token subject is not a valid identifier")
	}
	return actor, nil
}

// pathID parses a path parameter into an identifier.
func pathID(c *gin.Context, name string) (models.ID, error) {
	id, err := models.ParseID(c.Param(name))
	if err != nil {
		return models.NilID, invalidIDError(name, err)
	}
	return id, nil
}

// bindJSON decodes the body and reports binding or validation failures as VALIDATION_ERROR.
func bindJSON(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return appErrors.Clone(appErrors.ErrValidation, "request body is required")
		}
		return appErrors.WithDetails(appErrors.Validation(err, "invalid payload"), validation.Fields(err))
	}
	return nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryBool(c *gin.Context, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

func invalidIDError(name string, err error) error {
	return appErrors.Wrap(err, appErrors.ErrInvalidID.Code, appErrors.ErrInvalidID.Status, "invalid "+name)
}
