package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsCodeForErrorsIs(t *testing.T) {
	err := Clone(ErrCourseFull, "course \"go-101\" is full")
	assert.True(t, errors.Is(err, ErrCourseFull))
	assert.False(t, errors.Is(err, ErrAlreadyPending))
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.Equal(t, "course \"go-101\" is full", err.Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)

	wrapped := fmt.Errorf("layer: %w", ErrNotEnrolled)
	assert.Equal(t, ErrNotEnrolled.Code, FromError(wrapped).Code)
	assert.Nil(t, FromError(nil))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("socket closed")
	err := Internal(cause, "failed to load course")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load course: socket closed", err.Error())
}
