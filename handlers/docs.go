package handlers

import (
	"net/http"

	"github.com/fintrac/authcore/openapi"
	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/session"
)

const (
	apiPrefix  = "/api/v1/auth"
	bearerAuth = "bearerAuth"
)

// Describe documents every route Routes mounts.
func Describe(doc *openapi.Document) {
	doc.BearerAuth(bearerAuth, "Access token from login or refresh-token")

	doc.Route(http.MethodGet, "/health").
		Summary("Report database and cache reachability").
		Tags("health").
		Response(http.StatusOK, "Healthy or degraded", map[string]string{}).
		Errors(http.StatusServiceUnavailable).
		Add()

	public := []struct {
		path    string
		summary string
		body    any
		status  int
		data    any
		errors  []int
	}{
		{"/register", "Create an account and send a verification code", auth.RegisterRequest{}, http.StatusCreated,
			map[string]string{"user_id": ""}, []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusTooManyRequests}},
		{"/verify-email", "Confirm an email address with its code", VerifyEmailRequest{}, http.StatusOK,
			nil, []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity}},
		{"/resend-verification-email", "Send a fresh verification code", ResendVerificationRequest{}, http.StatusOK,
			nil, []int{http.StatusUnprocessableEntity, http.StatusTooManyRequests}},
		{"/login", "Authenticate and open a session on a device", auth.LoginRequest{}, http.StatusOK,
			auth.LoginResult{}, []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity, http.StatusTooManyRequests}},
		{"/refresh-token", "Exchange a refresh token for a new token pair", RefreshRequest{}, http.StatusOK,
			jwt.TokenPair{}, []int{http.StatusUnauthorized, http.StatusUnprocessableEntity, http.StatusTooManyRequests}},
		{"/forgot-password", "Send a password reset code", auth.Identity{}, http.StatusOK,
			nil, []int{http.StatusUnprocessableEntity, http.StatusTooManyRequests}},
		{"/verify-password-reset", "Check a reset code and obtain a reset token", VerifyResetRequest{}, http.StatusOK,
			map[string]string{"token": ""}, []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity}},
		{"/reset-password", "Set a new password and end every session", auth.ResetPasswordRequest{}, http.StatusOK,
			nil, []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity}},
		{"/logout", "Revoke the session behind a refresh token", LogoutRequest{}, http.StatusOK,
			nil, []int{http.StatusUnauthorized, http.StatusUnprocessableEntity}},
	}
	for _, r := range public {
		doc.Route(http.MethodPost, apiPrefix+r.path).
			Summary(r.summary).
			Tags("auth").
			Body(r.body).
			Response(r.status, r.summary, r.data).
			Errors(r.errors...).
			Add()
	}

	doc.Route(http.MethodGet, apiPrefix+"/sessions").
		Summary("List the caller's active sessions").
		Tags("sessions").
		Secured(bearerAuth).
		Response(http.StatusOK, "Active sessions", []session.AuthSession{}).
		Errors(http.StatusUnauthorized).
		Add()

	doc.Route(http.MethodDelete, apiPrefix+"/sessions/:id").
		Summary("Revoke one of the caller's sessions").
		Tags("sessions").
		Secured(bearerAuth).
		Response(http.StatusOK, "Session revoked", nil).
		Errors(http.StatusUnauthorized, http.StatusNotFound).
		Add()
}
