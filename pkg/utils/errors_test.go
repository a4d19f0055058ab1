package pkg

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handle(t *testing.T, err error) (int, AppError) {
	t.Helper()
	InitDiscard()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/x", nil), rec)

	CustomHTTPErrorHandler(err, c)

	var body AppError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestCustomHTTPErrorHandler(t *testing.T) {
	code, body := handle(t, ErrStreamNotFound)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Stream not found", body.Message)

	code, body = handle(t, echo.NewHTTPError(http.StatusUnauthorized, "Invalid internal token"))
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid internal token", body.Message)

	code, body = handle(t, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", body.Message)
	assert.Empty(t, body.Details)
}

func TestNewAppError(t *testing.T) {
	err := NewAppError(http.StatusConflict, "Stream is already live", "session 1")
	assert.Equal(t, "Stream is already live", err.Error())
	assert.Equal(t, "session 1", err.Details)
	assert.Equal(t, http.StatusBadRequest, NewValidationError("bad").Code)
}
