package service

import (
	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

// invalidPayload wraps a validator failure with per-field messages.
func invalidPayload(err error, message string) error {
	return appErrors.WithDetails(appErrors.Validation(err, message), validation.Fields(err))
}

// parseID turns external input into an identifier or an INVALID_ID error naming the field.
func parseID(raw, field string) (models.ID, error) {
	id, err := models.ParseID(raw)
	if err != nil {
		return models.NilID, appErrors.Wrap(err, appErrors.ErrInvalidID.Code, appErrors.ErrInvalidID.Status, "invalid "+field)
	}
	return id, nil
}
