package auth

import (
	"context"
	"errors"

	"github.com/fintrac/authcore/services/security"
	"github.com/fintrac/authcore/session"
	"go.uber.org/zap"
)

const reasonUserRevoked = "USER_REVOKED"

// ListSessions returns the user's live sessions, flagging the caller's own.
func (f *Flow) ListSessions(ctx context.Context, userID, currentSessionID string) ([]session.AuthSession, error) {
	sessions, err := f.sessions.ListActive(ctx, userID)
	if err != nil {
		return nil, f.infra("list_sessions", err)
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].ID == currentSessionID
	}
	return sessions, nil
}

// RevokeSession ends one of the user's sessions and blacklists its refresh
// token.
func (f *Flow) RevokeSession(ctx context.Context, userID, sessionID string) error {
	s, err := f.sessions.RevokeForUser(ctx, userID, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return f.infra("revoke_session", err)
	}

	if s.RefreshJTI != nil {
		if err := f.revocation.BlacklistToken(ctx, *s.RefreshJTI, s.ExpiresAt); err != nil {
			return f.infra("revoke_session.blacklist", err)
		}
	}

	f.events.Record(ctx, security.Event{
		UserID:    userID,
		EventType: security.SessionInvalidated,
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
		Metadata:  map[string]any{"reason": reasonUserRevoked, "session_id": s.ID},
	})

	f.logger.Info("session revoked by user", zap.String("user_id", userID), zap.String("session_id", s.ID))
	return nil
}
