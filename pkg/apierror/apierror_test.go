package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BAD_REQUEST: invalid limit (abc)", BadRequest("invalid limit", "abc").Error())
	assert.Equal(t, "UNAUTHORIZED: token expired", Unauthorized("token expired").Error())

	var nilErr *APIError
	assert.Empty(t, nilErr.Error())
}

func TestAPIErrorSurvivesWrapping(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("handler: %w", Forbidden("operator role required"))

	var apiErr *APIError
	require.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	assert.Equal(t, CodeForbidden, apiErr.Code)
}
