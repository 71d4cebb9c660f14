package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/logging"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveError(t *testing.T, method string, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	e := echo.New()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(logging.NewNop())
	e.Add(method, "/fail", func(c echo.Context) error { return err })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, "/fail", nil))

	var body Response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestErrorHandler_AuthErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, http.StatusUnauthorized, "InvalidCredentials"},
		{"revoked token", auth.ErrRevokedToken, http.StatusUnauthorized, "RevokedToken"},
		{"session not found", auth.ErrSessionNotFound, http.StatusNotFound, "SessionNotFound"},
		{"account gone", auth.ErrAccountGone, http.StatusForbidden, "AccountGone"},
		{"wrapped", errors.Join(errors.New("context"), auth.ErrDuplicateIdentity), http.StatusBadRequest, "DuplicateIdentity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serveError(t, http.MethodPost, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestErrorHandler_PendingDeletionCarriesDetails(t *testing.T) {
	rec, body := serveError(t, http.MethodPost, auth.PendingDeletion(36*time.Hour))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AccountPendingDeletion", body.Kind)
	assert.Equal(t, "1d 12h 0m", body.Details["remaining"])
}

func TestErrorHandler_Validation(t *testing.T) {
	err := NewValidator().Validate(&RefreshRequest{})

	rec, body := serveError(t, http.MethodPost, err)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ValidationError", body.Kind)
	assert.Equal(t, "Validation failed", body.Message)
	assert.Contains(t, body.Errors, "refresh_token")
}

func TestErrorHandler_EchoErrors(t *testing.T) {
	rec, body := serveError(t, http.MethodPost, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "HTTPError", body.Kind)
	assert.Equal(t, "Invalid request body", body.Message)

	rec, body = serveError(t, http.MethodPost, echo.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", body.Message)
}

func TestErrorHandler_UnknownErrorsAreSanitized(t *testing.T) {
	rec, body := serveError(t, http.MethodPost, errors.New("pq: connection refused to 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "InfrastructureError", body.Kind)
	assert.NotContains(t, body.Message, "10.0.0.3")
}

func TestErrorHandler_HeadHasNoBody(t *testing.T) {
	rec, _ := serveError(t, http.MethodHead, auth.ErrInvalidToken)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, rec.Body.Len())
}
