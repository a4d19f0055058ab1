package pkg

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

// Predefined errors
var (
	ErrInvalidToken = &AppError{
		Code:    http.StatusUnauthorized,
		Message: "Invalid or expired token",
	}

	ErrAccessDenied = &AppError{
		Code:    http.StatusForbidden,
		Message: "Access denied",
	}

	ErrStreamNotFound = &AppError{
		Code:    http.StatusNotFound,
		Message: "Stream not found",
	}

	ErrUserNotFound = &AppError{
		Code:    http.StatusNotFound,
		Message: "User not found",
	}
)

func NewAppError(code int, message string, details ...string) *AppError {
	err := &AppError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: message,
	}
}

// CustomHTTPErrorHandler handles errors across the application
func CustomHTTPErrorHandler(err error, c echo.Context) {
	var appErr *AppError
	var he *echo.HTTPError

	switch {
	case errors.As(err, &appErr):
	case errors.As(err, &he):
		appErr = &AppError{
			Code:    he.Code,
			Message: fmt.Sprintf("%v", he.Message),
		}
	default:
		appErr = &AppError{
			Code:    http.StatusInternalServerError,
			Message: "Internal server error",
			Details: err.Error(),
		}
	}

	WithFields(map[string]interface{}{
		"error":  err.Error(),
		"code":   appErr.Code,
		"path":   c.Request().URL.Path,
		"method": c.Request().Method,
	}).Error("HTTP Error")

	// Don't expose internal error details in production
	resp := *appErr
	if resp.Code == http.StatusInternalServerError {
		resp.Details = ""
	}

	if !c.Response().Committed {
		if err := c.JSON(resp.Code, resp); err != nil {
			Logger.Errorf("Failed to write error response: %v", err)
		}
	}
}
