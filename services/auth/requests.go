package auth

import (
	"strings"
	"time"

	"github.com/fintrac/authcore/services/device"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/user"
)

// Identity names a user by email or username. Email wins when both are set.
type Identity struct {
	Email    string `json:"email" validate:"required_without=Username,omitempty,email,max=255"`
	Username string `json:"username" validate:"required_without=Email,omitempty,max=50"`
}

func (i Identity) normalized() Identity {
	return Identity{
		Email:    strings.ToLower(strings.TrimSpace(i.Email)),
		Username: strings.TrimSpace(i.Username),
	}
}

type RegisterRequest struct {
	Email         string            `json:"email" validate:"required,email,max=255"`
	Username      string            `json:"username" validate:"omitempty,min=3,max=50,alphanum"`
	FirstName     string            `json:"first_name" validate:"required,max=100"`
	LastName      string            `json:"last_name" validate:"required,max=100"`
	PhoneNumber   string            `json:"phone_number" validate:"omitempty,max=32"`
	Password      string            `json:"password" validate:"required,max=128"`
	Locale        string            `json:"preferred_locale" validate:"omitempty,max=10"`
	Theme         user.Theme        `json:"theme" validate:"omitempty,oneof=light dark system"`
	AcceptTerms   bool              `json:"accept_terms"`
	AcceptedTerms []user.TermsItem  `json:"accepted_terms" validate:"dive"`
	Device        device.Descriptor `json:"device"`
	Context       device.Context    `json:"context"`
}

type LoginRequest struct {
	Identity
	Password string            `json:"password" validate:"required,max=128"`
	Device   device.Descriptor `json:"device"`
	Context  device.Context    `json:"context"`
}

type DeviceState struct {
	ID          string     `json:"id"`
	IsTrusted   bool       `json:"is_trusted"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

type LoginResult struct {
	UserID                     string         `json:"user_id"`
	SessionID                  string         `json:"session_id"`
	Tokens                     *jwt.TokenPair `json:"tokens"`
	Device                     DeviceState    `json:"device"`
	RequiresDeviceVerification bool           `json:"requires_device_verification"`
}

type ResetPasswordRequest struct {
	Identity
	Token       string            `json:"token" validate:"required,max=64"`
	NewPassword string            `json:"new_password" validate:"required,max=128"`
	Device      device.Descriptor `json:"device"`
	Context     device.Context    `json:"context"`
}
