package auth

import (
	"context"
	"errors"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/device"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/services/otp"
	"github.com/fintrac/authcore/services/revocation"
	"github.com/fintrac/authcore/services/security"
	"github.com/fintrac/authcore/services/user"
	"github.com/fintrac/authcore/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reasonMaxSessions = "MAX_CONCURRENT_SESSIONS_EXCEEDED"

// Notifier delivers user-facing messages. Implementations must not block the
// calling request.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, name, code string, expiry time.Duration)
	SendPasswordResetCode(ctx context.Context, to, name, code string, expiry time.Duration)
	SendNewDeviceAlert(ctx context.Context, to, name, deviceName, ipAddress string, at time.Time)
}

type nopNotifier struct{}

func (nopNotifier) SendVerificationCode(context.Context, string, string, string, time.Duration)  {}
func (nopNotifier) SendPasswordResetCode(context.Context, string, string, string, time.Duration) {}
func (nopNotifier) SendNewDeviceAlert(context.Context, string, string, string, string, time.Time) {}

// Deps are the collaborators a Flow orchestrates.
type Deps struct {
	Users      *user.Repository
	Passwords  *user.Passwords
	Codes      *otp.Service
	Devices    *device.Registry
	Sessions   *session.Manager
	Tokens     *jwt.Service
	Revocation *revocation.Service
	Events     *security.Recorder
	Notifier   Notifier
}

// Flow runs the registration, login, refresh, logout and recovery
// sequences. Every failure it returns is an *Error.
type Flow struct {
	cfg        config.AuthConfig
	users      *user.Repository
	passwords  *user.Passwords
	codes      *otp.Service
	devices    *device.Registry
	sessions   *session.Manager
	tokens     *jwt.Service
	revocation *revocation.Service
	events     *security.Recorder
	notifier   Notifier
	logger     *logging.Service
	now        func() time.Time
}

func NewFlow(cfg config.AuthConfig, deps Deps, logger *logging.Service) *Flow {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Flow{
		cfg:        cfg,
		users:      deps.Users,
		passwords:  deps.Passwords,
		codes:      deps.Codes,
		devices:    deps.Devices,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		revocation: deps.Revocation,
		events:     deps.Events,
		notifier:   notifier,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (f *Flow) SetClock(now func() time.Time) {
	f.now = func() time.Time { return now().UTC() }
}

func (f *Flow) infra(op string, err error) error {
	f.logger.Error("auth flow store failure", zap.String("op", op), zap.Error(err))
	return Infrastructure(err)
}

func (f *Flow) lookup(ctx context.Context, id Identity) (*user.User, error) {
	id = id.normalized()
	if id.Email != "" {
		return f.users.FindByEmail(ctx, id.Email)
	}
	if id.Username != "" {
		return f.users.FindByUsername(ctx, id.Username)
	}
	return nil, user.ErrUserNotFound
}

func (f *Flow) checkDeletion(u *user.User) error {
	status := user.DeletionStatus(u, f.cfg.AccountDeletionDays, f.now())
	switch {
	case status.Gone:
		return ErrAccountGone
	case status.Deleted:
		return PendingDeletion(status.Remaining)
	}
	return nil
}

func deviceMetadata(d *device.Device) map[string]any {
	return map[string]any{
		"device_id":   d.ID,
		"device_name": d.DeviceName,
		"platform":    string(d.Platform),
		"os_version":  d.OSVersion,
		"app_version": d.AppVersion,
	}
}

// Register creates the user with its onboarding records, registers the
// submitting device and mails an email verification code. No tokens are
// issued.
func (f *Flow) Register(ctx context.Context, req RegisterRequest) (*user.User, error) {
	if !req.AcceptTerms {
		return nil, ErrTermsNotAccepted
	}

	email := Identity{Email: req.Email}.normalized().Email
	if _, err := f.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, user.ErrUserNotFound) {
		return nil, f.infra("register.find_email", err)
	}

	var username *string
	if req.Username != "" {
		if _, err := f.users.FindByUsername(ctx, req.Username); err == nil {
			return nil, ErrDuplicateIdentity
		} else if !errors.Is(err, user.ErrUserNotFound) {
			return nil, f.infra("register.find_username", err)
		}
		username = &req.Username
	}

	hash, err := f.passwords.Hash(req.Password)
	if errors.Is(err, user.ErrWeakPassword) {
		return nil, WeakPassword(err)
	}
	if err != nil {
		return nil, f.infra("register.hash", err)
	}

	u := &user.User{
		Email:          email,
		Username:       username,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		PhoneNumber:    req.PhoneNumber,
		HashedPassword: hash,
	}
	desc := req.Device.Normalize(req.Context.UserAgent)
	err = f.users.Create(ctx, u, user.Onboarding{
		Locale:     req.Locale,
		Theme:      req.Theme,
		Currency:   f.cfg.DefaultCurrency,
		Terms:      req.AcceptedTerms,
		IPAddress:  req.Context.IPAddress,
		DeviceInfo: desc.DeviceName,
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrDuplicateIdentity
	}
	if err != nil {
		return nil, f.infra("register.create", err)
	}

	// The account exists from here on. Device and code failures are logged
	// so a retry does not collide with the new user; login registers the
	// device and the code can be resent.
	if _, _, err := f.devices.GetOrRegister(ctx, u.ID, desc, req.Context); err != nil {
		f.logger.Warn("failed to register device at signup", zap.String("user_id", u.ID), zap.Error(err))
	}

	if code, err := f.codes.Issue(ctx, u.ID, otp.TypeEmailVerification); err != nil {
		f.logger.Warn("failed to issue verification code at signup", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		f.notifier.SendVerificationCode(ctx, u.Email, u.FirstName, code.Code, f.codes.Expiry())
	}

	f.logger.Info("user registered", zap.String("user_id", u.ID))
	return u, nil
}

// Login authenticates by email or username and opens a session on the
// submitting device, replacing any session already open there.
func (f *Flow) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := f.lookup(ctx, req.Identity)
	if errors.Is(err, user.ErrUserNotFound) {
		f.logger.Debug("login for unknown identity")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, f.infra("login.find_user", err)
	}

	if err := f.passwords.Verify(u.HashedPassword, req.Password); err != nil {
		f.events.Record(ctx, security.Event{
			UserID:    u.ID,
			EventType: security.LoginFailure,
			IPAddress: req.Context.IPAddress,
			UserAgent: req.Context.UserAgent,
			Metadata:  map[string]any{"reason": "invalid_password", "device_id": req.Device.DeviceID},
		})
		return nil, ErrInvalidCredentials
	}

	if err := f.checkDeletion(u); err != nil {
		return nil, err
	}
	if f.cfg.RequireVerifiedEmail && !u.IsVerified {
		return nil, ErrEmailNotVerified
	}

	dev, isNew, err := f.devices.GetOrRegister(ctx, u.ID, req.Device, req.Context)
	if err != nil {
		return nil, f.infra("login.device", err)
	}

	now := f.now()
	if isNew {
		f.events.Record(ctx, security.Event{
			UserID:    u.ID,
			EventType: security.NewDeviceLogin,
			IPAddress: req.Context.IPAddress,
			UserAgent: req.Context.UserAgent,
			Metadata:  deviceMetadata(dev),
		})
		f.notifier.SendNewDeviceAlert(ctx, u.Email, u.FirstName, dev.DeviceName, req.Context.IPAddress, now)
	}
	if err := f.devices.RecordLogin(ctx, dev, req.Device, req.Context); err != nil {
		return nil, f.infra("login.device_login", err)
	}

	if _, err := f.sessions.RevokeByDevice(ctx, u.ID, dev.ID); err != nil {
		return nil, f.infra("login.revoke_device_sessions", err)
	}

	evicted, err := f.sessions.EnforceCap(ctx, u.ID)
	if err != nil {
		return nil, f.infra("login.enforce_cap", err)
	}
	if len(evicted) > 0 {
		f.events.Record(ctx, security.Event{
			UserID:    u.ID,
			EventType: security.SessionInvalidated,
			IPAddress: req.Context.IPAddress,
			UserAgent: req.Context.UserAgent,
			Metadata: map[string]any{
				"reason":           reasonMaxSessions,
				"evicted_sessions": len(evicted),
				"session_ids":      evicted,
			},
		})
	}

	sessionID := uuid.NewString()
	pair, err := f.tokens.IssuePair(u.ID, map[string]any{
		jwt.ClaimSessionID: sessionID,
		jwt.ClaimDeviceID:  dev.ID,
	})
	if err != nil {
		return nil, f.infra("login.issue_tokens", err)
	}
	refresh, err := f.tokens.ParseUnverified(pair.RefreshToken)
	if err != nil {
		return nil, f.infra("login.parse_refresh", err)
	}

	_, err = f.sessions.Create(ctx, session.CreateParams{
		ID:         sessionID,
		UserID:     u.ID,
		DeviceID:   dev.ID,
		RefreshJTI: refresh.JTI,
		ExpiresAt:  refresh.ExpiresAt,
		IPAddress:  req.Context.IPAddress,
		UserAgent:  req.Context.UserAgent,
	})
	if err != nil {
		return nil, f.infra("login.create_session", err)
	}

	if err := f.users.UpdateLastLogin(ctx, u); err != nil {
		f.logger.Warn("failed to update last login", zap.String("user_id", u.ID), zap.Error(err))
	}

	f.logger.Info("user logged in",
		zap.String("user_id", u.ID),
		zap.String("session_id", sessionID),
		zap.Bool("new_device", isNew))

	return &LoginResult{
		UserID:    u.ID,
		SessionID: sessionID,
		Tokens:    pair,
		Device: DeviceState{
			ID:          dev.ID,
			IsTrusted:   dev.IsTrusted,
			LastLoginAt: dev.LastLoginAt,
		},
		RequiresDeviceVerification: !dev.IsTrusted,
	}, nil
}

// Refresh exchanges a refresh token bound to a live session for a new access
// token, and a new refresh token when rotate is set.
func (f *Flow) Refresh(ctx context.Context, refreshToken string, rotate bool) (*jwt.TokenPair, error) {
	jti, err := f.tokens.ExtractJTI(refreshToken)
	if err != nil {
		f.logger.Debug("refresh with unreadable token", logging.TokenFingerprint(refreshToken), zap.Error(err))
		return nil, ErrInvalidToken
	}

	s, err := f.sessions.GetActiveByJTI(ctx, jti)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, f.deadSession(ctx, jti)
	}
	if err != nil {
		return nil, f.infra("refresh.find_session", err)
	}

	claims, err := f.tokens.Verify(ctx, refreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, FromTokenError(err)
	}
	if claims.UserID != s.UserID {
		f.logger.Warn("refresh token subject does not own session",
			zap.String("session_id", s.ID),
			zap.String("jti", jti))
		return nil, ErrSessionExpiredOrRevoked
	}

	pair, err := f.tokens.Reissue(claims, refreshToken, rotate)
	if err != nil {
		return nil, f.infra("refresh.issue_tokens", err)
	}

	if rotate {
		next, err := f.tokens.ParseUnverified(pair.RefreshToken)
		if err != nil {
			return nil, f.infra("refresh.parse_refresh", err)
		}
		if err := f.sessions.UpdateJTI(ctx, s, next.JTI, next.ExpiresAt); err != nil {
			return nil, f.infra("refresh.rotate_session", err)
		}
	} else if err := f.sessions.Touch(ctx, s); err != nil {
		return nil, f.infra("refresh.touch_session", err)
	}

	f.logger.Debug("tokens refreshed", zap.String("session_id", s.ID), zap.Bool("rotated", rotate))
	return pair, nil
}

// deadSession reports a refresh against a missing session, distinguishing a
// logged-out token from one that was rotated away or expired.
func (f *Flow) deadSession(ctx context.Context, jti string) error {
	revoked, err := f.revocation.IsBlacklisted(ctx, jti)
	if err != nil {
		return f.infra("refresh.check_revocation", err)
	}
	if revoked {
		return ErrRevokedToken
	}
	return ErrSessionExpiredOrRevoked
}

// Logout revokes the session bound to the refresh token and blacklists the
// token for the rest of its lifetime. The token must carry a valid signature
// and be a refresh token; an expired one still ends its session. Repeating it
// is not an error.
func (f *Flow) Logout(ctx context.Context, refreshToken string) error {
	claims, err := f.tokens.VerifyIgnoringExpiry(refreshToken, jwt.KindRefresh)
	if err != nil {
		f.logger.Debug("logout with rejected token", logging.TokenFingerprint(refreshToken), zap.Error(err))
		return FromTokenError(err)
	}

	s, err := f.sessions.GetActiveByJTI(ctx, claims.JTI)
	switch {
	case err == nil:
		if err := f.sessions.Revoke(ctx, s); err != nil {
			return f.infra("logout.revoke_session", err)
		}
	case errors.Is(err, session.ErrSessionNotFound):
		f.logger.Debug("logout without a live session", zap.String("jti", claims.JTI))
	default:
		return f.infra("logout.find_session", err)
	}

	// never hold a blacklist entry longer than a refresh token can live
	expiresAt := claims.ExpiresAt
	if limit := f.now().Add(f.tokens.RefreshExpiry()); expiresAt.After(limit) {
		expiresAt = limit
	}
	if err := f.revocation.BlacklistToken(ctx, claims.JTI, expiresAt); err != nil {
		return f.infra("logout.blacklist", err)
	}
	return nil
}
