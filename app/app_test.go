package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/otp"
	e2etesting "github.com/fintrac/authcore/testing"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authPrefix = "/api/v1/auth"

type sessionView struct {
	ID      string `json:"id"`
	Current bool   `json:"current"`
}

func register(t *testing.T, e2e *e2etesting.E2EApp, u e2etesting.TestUser) string {
	t.Helper()

	resp, err := e2e.Auth.Register(u)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusCreated)

	var data struct {
		UserID string `json:"user_id"`
	}
	resp.Data(t, &data)
	require.NotEmpty(t, data.UserID)
	return data.UserID
}

func TestApp_AuthLifecycle(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})
	u := e2etesting.DefaultUser()

	userID := register(t, e2e, u)

	resp, err := e2e.Auth.Register(u)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusBadRequest, "DuplicateIdentity")

	e2e.Auth.AssertEmailNotVerified(t, u.Email)
	code := e2e.Auth.LatestCode(t, u.Email, otp.TypeEmailVerification)
	resp, err = e2e.Auth.VerifyEmail(u.Email, code)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	e2e.Auth.AssertEmailVerified(t, u.Email)

	tokens := e2e.Auth.MustLogin(t, u, u.DeviceID)
	assert.Equal(t, userID, tokens.UserID)

	resp, err = e2e.Auth.Sessions(tokens.AccessToken)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	var sessions []sessionView
	resp.Data(t, &sessions)
	require.Len(t, sessions, 1)
	assert.Equal(t, tokens.SessionID, sessions[0].ID)
	assert.True(t, sessions[0].Current)

	resp, err = e2e.Auth.Refresh(tokens.RefreshToken, nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	var rotated e2etesting.Tokens
	resp.Data(t, &rotated)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	resp, err = e2e.Auth.Refresh(tokens.RefreshToken, nil)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "SessionExpiredOrRevoked")

	resp, err = e2e.Auth.Logout(rotated.RefreshToken)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	resp, err = e2e.Auth.Refresh(rotated.RefreshToken, nil)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "RevokedToken")

	resp, err = e2e.Auth.Sessions(rotated.AccessToken)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "SessionExpiredOrRevoked")

	assert.Equal(t, 3, e2e.Coverage.HitCount(http.MethodPost, authPrefix+"/refresh-token"))
	assert.Equal(t, 2, e2e.Coverage.HitCount(http.MethodGet, authPrefix+"/sessions"))
}

func TestApp_RefreshWithoutRotation(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})
	u := e2etesting.DefaultUser()
	register(t, e2e, u)
	tokens := e2e.Auth.MustLogin(t, u, u.DeviceID)

	keep := false
	resp, err := e2e.Auth.Refresh(tokens.RefreshToken, &keep)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	var pair e2etesting.Tokens
	resp.Data(t, &pair)
	assert.Equal(t, tokens.RefreshToken, pair.RefreshToken)
	assert.NotEmpty(t, pair.AccessToken)

	resp, err = e2e.Auth.Refresh(tokens.RefreshToken, &keep)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
}

func TestApp_RevokeOtherSession(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})
	u := e2etesting.DefaultUser()
	register(t, e2e, u)

	phone := e2e.Auth.MustLogin(t, u, "phone-1")
	laptop := e2e.Auth.MustLogin(t, u, "laptop-1")

	resp, err := e2e.Auth.Sessions(phone.AccessToken)
	require.NoError(t, err)
	var sessions []sessionView
	resp.Data(t, &sessions)
	assert.Len(t, sessions, 2)

	resp, err = e2e.Auth.RevokeSession(phone.AccessToken, laptop.SessionID)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	resp, err = e2e.Auth.Refresh(laptop.RefreshToken, nil)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "RevokedToken")

	resp, err = e2e.Auth.RevokeSession(phone.AccessToken, laptop.SessionID)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusNotFound, "SessionNotFound")

	// another user's session is invisible
	other := e2etesting.DefaultUser()
	other.Email, other.Username = "grace@example.com", "grace"
	register(t, e2e, other)
	grace := e2e.Auth.MustLogin(t, other, "grace-phone")

	resp, err = e2e.Auth.RevokeSession(grace.AccessToken, phone.SessionID)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusNotFound, "SessionNotFound")
}

func TestApp_LogoutRejectsForeignTokens(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})
	u := e2etesting.DefaultUser()
	register(t, e2e, u)
	tokens := e2e.Auth.MustLogin(t, u, u.DeviceID)

	victim := gojwt.MapClaims{}
	_, _, err := gojwt.NewParser().ParseUnverified(tokens.RefreshToken, victim)
	require.NoError(t, err)
	victim["exp"] = time.Now().Add(100 * 365 * 24 * time.Hour).Unix()

	wrongKey, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, victim).
		SignedString([]byte("another-secret-key-that-is-32-bytes-long!"))
	require.NoError(t, err)
	unsigned, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, victim).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, forged := range map[string]string{"wrong key": wrongKey, "alg none": unsigned} {
		t.Run(name, func(t *testing.T) {
			resp, err := e2e.Auth.Logout(forged)
			require.NoError(t, err)
			resp.AssertError(t, http.StatusUnauthorized, "InvalidToken")
		})
	}

	resp, err := e2e.Auth.Logout(tokens.AccessToken)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "WrongTokenKind")

	resp, err = e2e.Auth.Sessions(tokens.AccessToken)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	keep := false
	resp, err = e2e.Auth.Refresh(tokens.RefreshToken, &keep)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
}

func TestApp_PasswordReset(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})
	u := e2etesting.DefaultUser()
	register(t, e2e, u)
	before := e2e.Auth.MustLogin(t, u, u.DeviceID)

	resp, err := e2e.Auth.ForgotPassword(u.Email)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	code := e2e.Auth.LatestCode(t, u.Email, otp.TypePasswordReset)
	resp, err = e2e.Auth.VerifyResetCode(u.Email, code)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	var verified struct {
		Token string `json:"token"`
	}
	resp.Data(t, &verified)
	require.NotEmpty(t, verified.Token)

	resp, err = e2e.Auth.ResetPassword(u.Email, verified.Token, "short", u.DeviceID)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusBadRequest, "WeakPassword")

	resp, err = e2e.Auth.ResetPassword(u.Email, verified.Token, "Brand-new-pass9", u.DeviceID)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	resp, err = e2e.Auth.Refresh(before.RefreshToken, nil)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "RevokedToken")

	resp, err = e2e.Auth.LoginAs(u.Email, u.Password, u.DeviceID)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "InvalidCredentials")

	u.Password = "Brand-new-pass9"
	e2e.Auth.MustLogin(t, u, u.DeviceID)

	resp, err = e2e.Auth.ResetPassword(u.Email, verified.Token, "Another-pass10", u.DeviceID)
	require.NoError(t, err)
	resp.AssertError(t, http.StatusBadRequest, "InvalidVerificationCode")
}

func TestApp_ErrorEnvelopes(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{WithoutMail: true})

	t.Run("validation failure", func(t *testing.T) {
		resp, err := e2e.Client.Post(authPrefix+"/register", `{"email":"not-an-email","password":"x","device":{}}`)
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnprocessableEntity, "ValidationError")

		env := resp.Envelope(t)
		assert.Equal(t, "Invalid email format", env.Errors["email"])
		assert.Contains(t, env.Errors, "first_name")
		assert.Contains(t, env.Errors, "device.device_id")
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := e2e.Client.Post(authPrefix+"/login", `{"email":`)
		require.NoError(t, err)
		resp.AssertError(t, http.StatusBadRequest, "HTTPError")
	})

	t.Run("unknown account", func(t *testing.T) {
		resp, err := e2e.Auth.LoginAs("nobody", "Password123!", "d")
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnauthorized, "InvalidCredentials")
	})

	t.Run("missing bearer", func(t *testing.T) {
		resp, err := e2e.Auth.Sessions("")
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnauthorized, "HTTPError")
	})

	t.Run("refresh token used as access token", func(t *testing.T) {
		u := e2etesting.DefaultUser()
		register(t, e2e, u)
		tokens := e2e.Auth.MustLogin(t, u, u.DeviceID)

		resp, err := e2e.Auth.Sessions(tokens.RefreshToken)
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnauthorized, "WrongTokenKind")
	})

	t.Run("forgot password never enumerates", func(t *testing.T) {
		resp, err := e2e.Auth.ForgotPassword("ghost@example.com")
		require.NoError(t, err)
		resp.AssertStatus(t, http.StatusOK)
		assert.True(t, resp.Envelope(t).Success)
	})
}

func TestApp_LoginRateLimitedPerAccount(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{WithoutMail: true})

	for i := 0; i < 5; i++ {
		resp, err := e2e.Auth.LoginAs("ada@example.com", "wrong-password", "d")
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnauthorized, "InvalidCredentials")
	}

	resp, err := e2e.Auth.LoginAs("ADA@example.com", "wrong-password", "d")
	require.NoError(t, err)
	resp.AssertError(t, http.StatusTooManyRequests, "RateLimitExceeded")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, err = e2e.Auth.LoginAs("grace@example.com", "wrong-password", "d")
	require.NoError(t, err)
	resp.AssertError(t, http.StatusUnauthorized, "InvalidCredentials")
}

func TestApp_RateLimitingDisabled(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{
		WithoutMail: true,
		Override:    func(cfg *config.Config) { cfg.RateLimit.Enabled = false },
	})

	for i := 0; i < 8; i++ {
		resp, err := e2e.Auth.LoginAs("ada@example.com", "wrong-password", "d")
		require.NoError(t, err)
		resp.AssertError(t, http.StatusUnauthorized, "InvalidCredentials")
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}
}

func TestApp_Health(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{WithoutMail: true})

	resp, err := e2e.Client.Get("/health", "")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	env := resp.Envelope(t)
	assert.Equal(t, "ok", env.Message)
	assert.JSONEq(t, `{"database":"ok"}`, string(env.Data))
}

func TestApp_ServesAPIDescription(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{WithoutMail: true})

	resp, err := e2e.Client.Get(authPrefix+"/openapi.json", "")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(resp.Body, &doc))
	assert.Equal(t, "Test App Auth API", doc.Info.Title)
	assert.Contains(t, doc.Paths[authPrefix+"/login"], "post")
	assert.Contains(t, doc.Paths[authPrefix+"/sessions/{id}"], "delete")
	assert.Contains(t, doc.Paths["/health"], "get")

	resp, err = e2e.Client.Get(authPrefix+"/openapi.yaml", "")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	assert.Contains(t, string(resp.Body), "openapi: 3.0.3")
}

func TestApp_StartStop(t *testing.T) {
	e2e := e2etesting.New(t, e2etesting.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e2e.App.Start(ctx))
	require.NoError(t, e2e.App.Stop(ctx))
}
