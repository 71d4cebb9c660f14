package auth

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/fintrac/authcore/services/jwt"
)

type Kind string

const (
	KindInvalidCredentials      Kind = "InvalidCredentials"
	KindDuplicateIdentity       Kind = "DuplicateIdentity"
	KindTermsNotAccepted        Kind = "TermsNotAccepted"
	KindInvalidToken            Kind = "InvalidToken"
	KindExpiredToken            Kind = "ExpiredToken"
	KindWrongTokenKind          Kind = "WrongTokenKind"
	KindRevokedToken            Kind = "RevokedToken"
	KindSessionExpiredOrRevoked Kind = "SessionExpiredOrRevoked"
	KindSessionNotFound         Kind = "SessionNotFound"
	KindAccountPendingDeletion  Kind = "AccountPendingDeletion"
	KindAccountGone             Kind = "AccountGone"
	KindEmailNotVerified        Kind = "EmailNotVerified"
	KindInvalidVerificationCode Kind = "InvalidVerificationCode"
	KindAlreadyVerified         Kind = "AlreadyVerified"
	KindWeakPassword            Kind = "WeakPassword"
	KindRateLimitExceeded       Kind = "RateLimitExceeded"
	KindInfrastructure          Kind = "InfrastructureError"
)

// Error is the typed failure every flow operation returns. Two errors match
// under errors.Is when their kinds match.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

var (
	ErrInvalidCredentials      = newError(KindInvalidCredentials, http.StatusUnauthorized, "Invalid email/username or password")
	ErrDuplicateIdentity       = newError(KindDuplicateIdentity, http.StatusBadRequest, "An account with this email or username already exists")
	ErrTermsNotAccepted        = newError(KindTermsNotAccepted, http.StatusBadRequest, "You must accept the terms and conditions")
	ErrInvalidToken            = newError(KindInvalidToken, http.StatusUnauthorized, "Invalid token")
	ErrExpiredToken            = newError(KindExpiredToken, http.StatusUnauthorized, "Token has expired")
	ErrWrongTokenKind          = newError(KindWrongTokenKind, http.StatusUnauthorized, "Invalid token type")
	ErrRevokedToken            = newError(KindRevokedToken, http.StatusUnauthorized, "Token has been revoked")
	ErrSessionExpiredOrRevoked = newError(KindSessionExpiredOrRevoked, http.StatusUnauthorized, "Session expired or revoked")
	ErrSessionNotFound         = newError(KindSessionNotFound, http.StatusNotFound, "Session not found")
	ErrAccountGone             = newError(KindAccountGone, http.StatusForbidden, "This account has been permanently deleted")
	ErrEmailNotVerified        = newError(KindEmailNotVerified, http.StatusForbidden, "Email address has not been verified")
	ErrInvalidVerificationCode = newError(KindInvalidVerificationCode, http.StatusBadRequest, "Invalid or expired verification code")
	ErrAlreadyVerified         = newError(KindAlreadyVerified, http.StatusBadRequest, "Email address is already verified")

	// Match-only values for errors.Is; use the constructors to build them.
	ErrAccountPendingDeletion = newError(KindAccountPendingDeletion, http.StatusForbidden, "")
	ErrWeakPassword           = newError(KindWeakPassword, http.StatusBadRequest, "")
	ErrRateLimitExceeded      = newError(KindRateLimitExceeded, http.StatusTooManyRequests, "")
	ErrInfrastructure         = newError(KindInfrastructure, http.StatusInternalServerError, "")
)

func PendingDeletion(remaining time.Duration) *Error {
	window := FormatRemaining(remaining)
	return &Error{
		Kind:    KindAccountPendingDeletion,
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("This account is scheduled for deletion. It can be recovered within %s", window),
		Details: map[string]any{"remaining": window},
	}
}

// WeakPassword keeps only the innermost reason of a policy error.
func WeakPassword(err error) *Error {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return &Error{Kind: KindWeakPassword, Status: http.StatusBadRequest, Message: msg, Err: err}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:    KindRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Message: "Rate limit exceeded",
		Details: map[string]any{"retry_after": int(retryAfter.Seconds())},
	}
}

// Infrastructure wraps a store or cache failure. The caller-facing message
// never includes the cause.
func Infrastructure(err error) *Error {
	return &Error{
		Kind:    KindInfrastructure,
		Status:  http.StatusInternalServerError,
		Message: "An internal error occurred, please try again",
		Err:     err,
	}
}

// FromTokenError maps a token codec failure onto the taxonomy. A failed
// revocation lookup is an infrastructure error, never a token error.
func FromTokenError(err error) *Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrRevocationCheck):
		return Infrastructure(err)
	case errors.Is(err, jwt.ErrExpiredToken):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrWrongTokenKind):
		return ErrWrongTokenKind
	case errors.Is(err, jwt.ErrRevokedToken):
		return ErrRevokedToken
	default:
		return ErrInvalidToken
	}
}

// FormatRemaining renders a recovery window as "{d}d {h}h {m}m".
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalMinutes := int(math.Floor(d.Minutes()))
	days := totalMinutes / (24 * 60)
	hours := (totalMinutes % (24 * 60)) / 60
	minutes := totalMinutes % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
