package handlers

import (
	"errors"
	"net/http"

	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/logging"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	kindValidation = "ValidationError"
	kindHTTP       = "HTTPError"
)

// Response is the envelope for every JSON body the API returns.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Kind    string            `json:"kind,omitempty"`
	Data    any               `json:"data,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func success(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// ErrorHandler renders auth errors, validation failures and echo errors in
// the response envelope. Anything else is logged and reported as a generic
// internal error.
func ErrorHandler(logger *logging.Service) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error("failed to write error response", zap.Error(writeErr))
		}
	}
}

func render(err error) (int, Response) {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		return authErr.Status, Response{
			Message: authErr.Message,
			Kind:    string(authErr.Kind),
			Details: authErr.Details,
		}
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusUnprocessableEntity, Response{
			Message: "Validation failed",
			Kind:    kindValidation,
			Errors:  FieldErrors(validationErrs),
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message := http.StatusText(httpErr.Code)
		if m, ok := httpErr.Message.(string); ok && m != "" {
			message = m
		}
		return httpErr.Code, Response{Message: message, Kind: kindHTTP}
	}

	return http.StatusInternalServerError, Response{
		Message: "An internal error occurred, please try again",
		Kind:    string(auth.KindInfrastructure),
	}
}
