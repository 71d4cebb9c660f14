package auth

import (
	"context"
	"errors"

	"github.com/fintrac/authcore/services/otp"
	"github.com/fintrac/authcore/services/security"
	"github.com/fintrac/authcore/services/user"
	"go.uber.org/zap"
)

// VerifyEmail consumes an email verification code and marks the user
// verified.
func (f *Flow) VerifyEmail(ctx context.Context, email, code string) error {
	u, err := f.users.FindByEmail(ctx, Identity{Email: email}.normalized().Email)
	if errors.Is(err, user.ErrUserNotFound) {
		return ErrInvalidVerificationCode
	}
	if err != nil {
		return f.infra("verify_email.find_user", err)
	}
	if err := f.checkDeletion(u); err != nil {
		return err
	}
	if u.IsVerified {
		return ErrAlreadyVerified
	}

	c, err := f.codes.FindValid(ctx, u.ID, code, otp.TypeEmailVerification)
	if errors.Is(err, otp.ErrCodeNotFound) {
		return ErrInvalidVerificationCode
	}
	if err != nil {
		return f.infra("verify_email.find_code", err)
	}

	if err := f.users.MarkVerified(ctx, u.ID); err != nil {
		return f.infra("verify_email.mark_verified", err)
	}
	if err := f.codes.Delete(ctx, c.ID); err != nil {
		f.logger.Warn("failed to delete used verification code", zap.String("user_id", u.ID), zap.Error(err))
	}

	f.logger.Info("email verified", zap.String("user_id", u.ID))
	return nil
}

// ResendVerification mails a fresh code when the address belongs to a live,
// unverified account. Callers get the same answer either way.
func (f *Flow) ResendVerification(ctx context.Context, email string) error {
	u, err := f.users.FindByEmail(ctx, Identity{Email: email}.normalized().Email)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return f.infra("resend_verification.find_user", err)
	}
	if u.DeletedAt.Valid || u.IsVerified {
		f.logger.Debug("skipping verification resend", zap.String("user_id", u.ID), zap.Bool("verified", u.IsVerified))
		return nil
	}

	c, err := f.codes.Issue(ctx, u.ID, otp.TypeEmailVerification)
	if err != nil {
		return f.infra("resend_verification.issue", err)
	}
	f.notifier.SendVerificationCode(ctx, u.Email, u.FirstName, c.Code, f.codes.Expiry())
	return nil
}

// ForgotPassword mails a reset code when the identity belongs to a live
// account. Callers get the same answer either way.
func (f *Flow) ForgotPassword(ctx context.Context, id Identity) error {
	u, err := f.lookup(ctx, id)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return f.infra("forgot_password.find_user", err)
	}
	if u.DeletedAt.Valid {
		return nil
	}

	c, err := f.codes.Issue(ctx, u.ID, otp.TypePasswordReset)
	if err != nil {
		return f.infra("forgot_password.issue", err)
	}
	f.notifier.SendPasswordResetCode(ctx, u.Email, u.FirstName, c.Code, f.codes.Expiry())
	return nil
}

// VerifyResetCode checks a mailed reset code and returns the token that
// ResetPassword accepts.
func (f *Flow) VerifyResetCode(ctx context.Context, id Identity, code string) (string, error) {
	u, err := f.lookup(ctx, id)
	if errors.Is(err, user.ErrUserNotFound) {
		return "", ErrInvalidVerificationCode
	}
	if err != nil {
		return "", f.infra("verify_reset.find_user", err)
	}
	if err := f.checkDeletion(u); err != nil {
		return "", err
	}

	c, err := f.codes.FindValid(ctx, u.ID, code, otp.TypePasswordReset)
	if errors.Is(err, otp.ErrCodeNotFound) {
		return "", ErrInvalidVerificationCode
	}
	if err != nil {
		return "", f.infra("verify_reset.find_code", err)
	}
	return c.ID, nil
}

// ResetPassword sets a new password with a token from VerifyResetCode, then
// signs the user out everywhere.
func (f *Flow) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	u, err := f.lookup(ctx, req.Identity)
	if errors.Is(err, user.ErrUserNotFound) {
		return ErrInvalidVerificationCode
	}
	if err != nil {
		return f.infra("reset_password.find_user", err)
	}
	if err := f.checkDeletion(u); err != nil {
		return err
	}

	c, err := f.codes.FindByID(ctx, req.Token)
	if errors.Is(err, otp.ErrCodeNotFound) {
		return ErrInvalidVerificationCode
	}
	if err != nil {
		return f.infra("reset_password.find_code", err)
	}
	if c.UserID != u.ID || c.Type != otp.TypePasswordReset || !c.Live(f.now()) {
		return ErrInvalidVerificationCode
	}

	hash, err := f.passwords.Hash(req.NewPassword)
	if errors.Is(err, user.ErrWeakPassword) {
		return WeakPassword(err)
	}
	if err != nil {
		return f.infra("reset_password.hash", err)
	}
	if err := f.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return f.infra("reset_password.update", err)
	}
	if err := f.codes.Delete(ctx, c.ID); err != nil {
		f.logger.Warn("failed to delete used reset code", zap.String("user_id", u.ID), zap.Error(err))
	}

	revoked, err := f.sessions.RevokeAll(ctx, u.ID)
	if err != nil {
		return f.infra("reset_password.revoke_sessions", err)
	}
	for _, s := range revoked {
		if s.RefreshJTI == nil {
			continue
		}
		if err := f.revocation.BlacklistToken(ctx, *s.RefreshJTI, s.ExpiresAt); err != nil {
			f.logger.Warn("failed to blacklist refresh token after reset",
				zap.String("session_id", s.ID),
				zap.Error(err))
		}
	}

	meta := map[string]any{"device_id": req.Device.DeviceID, "device_name": req.Device.DeviceName}
	f.events.Record(ctx, security.Event{
		UserID:    u.ID,
		EventType: security.PasswordChange,
		IPAddress: req.Context.IPAddress,
		UserAgent: req.Context.UserAgent,
		Metadata:  meta,
	})
	f.events.Record(ctx, security.Event{
		UserID:    u.ID,
		EventType: security.LogoutAllDevice,
		IPAddress: req.Context.IPAddress,
		UserAgent: req.Context.UserAgent,
		Metadata:  map[string]any{"reason": "password_reset", "sessions_revoked": len(revoked)},
	})

	f.logger.Info("password reset", zap.String("user_id", u.ID), zap.Int("sessions_revoked", len(revoked)))
	return nil
}
