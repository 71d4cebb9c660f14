package handlers

import (
	"net/http"

	jwtmw "github.com/fintrac/authcore/middleware/jwt"
	"github.com/fintrac/authcore/services/auth"
	"github.com/fintrac/authcore/services/device"
	"github.com/labstack/echo/v4"
)

type VerifyEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Code  string `json:"code" validate:"required,max=16"`
}

type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

type VerifyResetRequest struct {
	auth.Identity
	Code string `json:"code" validate:"required,max=16"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	// Rotate defaults to true when omitted.
	Rotate *bool `json:"rotate"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type AuthHandler struct {
	flow *auth.Flow
}

func NewAuthHandler(flow *auth.Flow) *AuthHandler {
	return &AuthHandler{flow: flow}
}

func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	return c.Validate(req)
}

// origin fills what the client left out of ctx from the request itself.
func origin(c echo.Context, ctx device.Context) device.Context {
	if ctx.IPAddress == "" {
		ctx.IPAddress = c.RealIP()
	}
	if ctx.UserAgent == "" {
		ctx.UserAgent = c.Request().UserAgent()
	}
	return ctx
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req auth.RegisterRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Context = origin(c, req.Context)

	u, err := h.flow.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return success(c, http.StatusCreated, "Registration successful. Check your email for a verification code.",
		map[string]string{"user_id": u.ID})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req VerifyEmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.flow.VerifyEmail(c.Request().Context(), req.Email, req.Code); err != nil {
		return err
	}
	return success(c, http.StatusOK, "Email verified successfully", nil)
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req ResendVerificationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.flow.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return success(c, http.StatusOK, "If an unverified account exists for this email, a new code has been sent", nil)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.LoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Context = origin(c, req.Context)

	res, err := h.flow.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "Login successful", res)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rotate := req.Rotate == nil || *req.Rotate

	pair, err := h.flow.Refresh(c.Request().Context(), req.RefreshToken, rotate)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "Token refreshed", pair)
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req auth.Identity
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.flow.ForgotPassword(c.Request().Context(), req); err != nil {
		return err
	}
	return success(c, http.StatusOK, "If an account exists, a password reset code has been sent", nil)
}

func (h *AuthHandler) VerifyResetCode(c echo.Context) error {
	var req VerifyResetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	token, err := h.flow.VerifyResetCode(c.Request().Context(), req.Identity, req.Code)
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "Reset code verified", map[string]string{"token": token})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req auth.ResetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Context = origin(c, req.Context)

	if err := h.flow.ResetPassword(c.Request().Context(), req); err != nil {
		return err
	}
	return success(c, http.StatusOK, "Password reset successfully. Please log in again.", nil)
}

func (h *AuthHandler) Logout(c echo.Context) error {
	var req LogoutRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.flow.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return success(c, http.StatusOK, "Logged out successfully", nil)
}

func (h *AuthHandler) ListSessions(c echo.Context) error {
	sessions, err := h.flow.ListSessions(c.Request().Context(), jwtmw.GetUserID(c), jwtmw.GetSessionID(c))
	if err != nil {
		return err
	}
	return success(c, http.StatusOK, "Active sessions", sessions)
}

func (h *AuthHandler) RevokeSession(c echo.Context) error {
	if err := h.flow.RevokeSession(c.Request().Context(), jwtmw.GetUserID(c), c.Param("id")); err != nil {
		return err
	}
	return success(c, http.StatusOK, "Session revoked", nil)
}
