package e2etesting

import (
	"net/http"
	"strings"
	"testing"

	"github.com/fintrac/authcore/services/otp"
	"github.com/fintrac/authcore/services/user"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const apiPrefix = "/api/v1/auth"

type AuthHelper struct {
	HTTPClient *HTTPClient
	DB         *gorm.DB
}

type TestUser struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
	DeviceID  string
}

// Tokens is the part of a login or refresh response a test usually needs.
type Tokens struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func NewAuthHelper(client *HTTPClient, db *gorm.DB) *AuthHelper {
	return &AuthHelper{HTTPClient: client, DB: db}
}

func DefaultUser() TestUser {
	return TestUser{
		Email:     "ada@example.com",
		Username:  "ada",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "Password123!",
		DeviceID:  "phone-1",
	}
}

func (h *AuthHelper) Register(u TestUser) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/register", map[string]any{
		"email":        u.Email,
		"username":     u.Username,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"password":     u.Password,
		"accept_terms": true,
		"device":       map[string]string{"device_id": u.DeviceID, "platform": "ios"},
	})
}

// LoginAs posts credentials; identity is an email when it contains "@".
func (h *AuthHelper) LoginAs(identity, password, deviceID string) (*Response, error) {
	key := "username"
	if strings.Contains(identity, "@") {
		key = "email"
	}
	return h.HTTPClient.Post(apiPrefix+"/login", map[string]any{
		key:        identity,
		"password": password,
		"device":   map[string]string{"device_id": deviceID, "platform": "ios"},
	})
}

// MustLogin logs u in on deviceID and returns the issued tokens.
func (h *AuthHelper) MustLogin(t *testing.T, u TestUser, deviceID string) Tokens {
	t.Helper()

	resp, err := h.LoginAs(u.Email, u.Password, deviceID)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	var body struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
		Tokens    Tokens `json:"tokens"`
	}
	resp.Data(t, &body)

	tokens := body.Tokens
	tokens.UserID = body.UserID
	tokens.SessionID = body.SessionID
	return tokens
}

func (h *AuthHelper) Refresh(refreshToken string, rotate *bool) (*Response, error) {
	body := map[string]any{"refresh_token": refreshToken}
	if rotate != nil {
		body["rotate"] = *rotate
	}
	return h.HTTPClient.Post(apiPrefix+"/refresh-token", body)
}

func (h *AuthHelper) Logout(refreshToken string) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/logout", map[string]string{"refresh_token": refreshToken})
}

func (h *AuthHelper) Sessions(accessToken string) (*Response, error) {
	return h.HTTPClient.Get(apiPrefix+"/sessions", accessToken)
}

func (h *AuthHelper) RevokeSession(accessToken, sessionID string) (*Response, error) {
	return h.HTTPClient.Delete(apiPrefix+"/sessions/"+sessionID, accessToken)
}

func (h *AuthHelper) VerifyEmail(email, code string) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/verify-email", map[string]string{"email": email, "code": code})
}

func (h *AuthHelper) ForgotPassword(email string) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/forgot-password", map[string]string{"email": email})
}

func (h *AuthHelper) VerifyResetCode(email, code string) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/verify-password-reset", map[string]string{"email": email, "code": code})
}

func (h *AuthHelper) ResetPassword(email, token, newPassword, deviceID string) (*Response, error) {
	return h.HTTPClient.Post(apiPrefix+"/reset-password", map[string]any{
		"email":        email,
		"token":        token,
		"new_password": newPassword,
		"device":       map[string]string{"device_id": deviceID},
	})
}

func (h *AuthHelper) findUser(t *testing.T, email string) user.User {
	t.Helper()
	var u user.User
	require.NoError(t, h.DB.Where("email = ?", strings.ToLower(email)).First(&u).Error, "user %s not found", email)
	return u
}

// LatestCode reads the newest live one-time code of typ mailed to email.
func (h *AuthHelper) LatestCode(t *testing.T, email string, typ otp.Type) string {
	t.Helper()

	u := h.findUser(t, email)
	var code otp.Code
	err := h.DB.Where("user_id = ? AND type = ? AND is_used = ?", u.ID, typ, false).
		Order("created_at DESC").
		First(&code).Error
	require.NoError(t, err, "no %s code for %s", typ, email)
	return code.Code
}

func (h *AuthHelper) AssertEmailVerified(t *testing.T, email string) {
	t.Helper()
	require.True(t, h.findUser(t, email).IsVerified, "expected %s to be verified", email)
}

func (h *AuthHelper) AssertEmailNotVerified(t *testing.T, email string) {
	t.Helper()
	require.False(t, h.findUser(t, email).IsVerified, "expected %s to be unverified", email)
}
