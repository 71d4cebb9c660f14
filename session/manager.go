package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// CreateParams describes a new session. ID may be preset so tokens minted
// before the row exists can carry it.
type CreateParams struct {
	ID         string
	UserID     string
	DeviceID   string
	RefreshJTI string
	ExpiresAt  time.Time
	IPAddress  string
	UserAgent  string
}

type Manager struct {
	db         *gorm.DB
	maxPerUser int
	opTimeout  time.Duration
	logger     *logging.Service
	now        func() time.Time
}

func NewManager(db *gorm.DB, maxPerUser int, opTimeout time.Duration, logger *logging.Service) *Manager {
	if maxPerUser < 1 {
		maxPerUser = 1
	}
	return &Manager{
		db:         db,
		maxPerUser: maxPerUser,
		opTimeout:  opTimeout,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = func() time.Time { return now().UTC() }
}

func (m *Manager) MaxPerUser() int {
	return m.maxPerUser
}

func (m *Manager) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := database.OpContext(ctx, m.opTimeout)
	return m.db.WithContext(ctx), cancel
}

func (m *Manager) active(db *gorm.DB, now time.Time) *gorm.DB {
	return db.Model(&AuthSession{}).Where("is_active = ? AND expires_at > ?", true, now)
}

func revokedFields(now time.Time) map[string]any {
	return map[string]any{
		"is_active":         false,
		"refresh_token_jti": nil,
		"last_used_at":      now,
	}
}

func (m *Manager) Create(ctx context.Context, p CreateParams) (*AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	jti := p.RefreshJTI
	session := &AuthSession{
		ID:         p.ID,
		UserID:     p.UserID,
		DeviceID:   p.DeviceID,
		RefreshJTI: &jti,
		IsActive:   true,
		ExpiresAt:  p.ExpiresAt.UTC(),
		IPAddress:  p.IPAddress,
		UserAgent:  p.UserAgent,
		CreatedAt:  m.now(),
	}

	if err := db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", p.UserID),
		zap.String("device_id", p.DeviceID))

	return session, nil
}

// GetActiveByJTI finds the live session bound to a refresh token jti.
func (m *Manager) GetActiveByJTI(ctx context.Context, jti string) (*AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var session AuthSession
	err := m.active(db, m.now()).Where("refresh_token_jti = ?", jti).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return &session, nil
}

func (m *Manager) GetByID(ctx context.Context, id string) (*AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var session AuthSession
	err := db.Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return &session, nil
}

// Revoke is idempotent.
func (m *Manager) Revoke(ctx context.Context, session *AuthSession) error {
	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	if err := db.Model(&AuthSession{}).Where("id = ?", session.ID).Updates(revokedFields(now)).Error; err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	session.IsActive = false
	session.RefreshJTI = nil
	session.LastUsedAt = &now

	m.logger.Info("session revoked", zap.String("session_id", session.ID))
	return nil
}

func (m *Manager) Touch(ctx context.Context, session *AuthSession) error {
	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	if err := db.Model(&AuthSession{}).Where("id = ?", session.ID).Update("last_used_at", now).Error; err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	session.LastUsedAt = &now
	return nil
}

// TouchActive stamps last use on a live session and reports whether one was
// found.
func (m *Manager) TouchActive(ctx context.Context, sessionID string) (bool, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	res := m.active(db, now).Where("id = ?", sessionID).Update("last_used_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to touch session: %w", res.Error)
	}

	return res.RowsAffected > 0, nil
}

// UpdateJTI binds a rotated refresh token to the session.
func (m *Manager) UpdateJTI(ctx context.Context, session *AuthSession, jti string, expiresAt time.Time) error {
	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	expiresAt = expiresAt.UTC()
	err := db.Model(&AuthSession{}).Where("id = ?", session.ID).Updates(map[string]any{
		"refresh_token_jti": jti,
		"expires_at":        expiresAt,
		"last_used_at":      now,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to rotate session token: %w", err)
	}

	session.RefreshJTI = &jti
	session.ExpiresAt = expiresAt
	session.LastUsedAt = &now
	return nil
}

// RevokeByDevice revokes every active session the user has on a device.
func (m *Manager) RevokeByDevice(ctx context.Context, userID, deviceID string) (int64, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	res := db.Model(&AuthSession{}).
		Where("user_id = ? AND device_id = ? AND is_active = ?", userID, deviceID, true).
		Updates(revokedFields(m.now()))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to revoke device sessions: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		m.logger.Info("revoked previous device sessions",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Int64("count", res.RowsAffected))
	}

	return res.RowsAffected, nil
}

func (m *Manager) CountActive(ctx context.Context, userID string) (int64, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var count int64
	if err := m.active(db, m.now()).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// RevokeOldest revokes the n active sessions created first and returns their
// ids.
func (m *Manager) RevokeOldest(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	var ids []string
	err := m.active(db, now).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Limit(n).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := db.Model(&AuthSession{}).Where("id IN ?", ids).Updates(revokedFields(now)).Error; err != nil {
		return nil, fmt.Errorf("failed to revoke oldest sessions: %w", err)
	}

	return ids, nil
}

// EnforceCap makes room for one more session, evicting the oldest active
// sessions when the user is at the cap. It returns the evicted ids.
func (m *Manager) EnforceCap(ctx context.Context, userID string) ([]string, error) {
	active, err := m.CountActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	excess := int(active) + 1 - m.maxPerUser
	if excess <= 0 {
		return nil, nil
	}

	evicted, err := m.RevokeOldest(ctx, userID, excess)
	if err != nil {
		return nil, err
	}

	m.logger.Warn("session cap reached, evicted oldest sessions",
		zap.String("user_id", userID),
		zap.Int("max_sessions", m.maxPerUser),
		zap.Strings("evicted", evicted))

	return evicted, nil
}

func (m *Manager) ListActive(ctx context.Context, userID string) ([]AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var sessions []AuthSession
	err := m.active(db, m.now()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// RevokeForUser revokes one of the user's live sessions. The returned copy
// still carries the refresh jti it held before revocation.
func (m *Manager) RevokeForUser(ctx context.Context, userID, sessionID string) (*AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var session AuthSession
	err := m.active(db, m.now()).Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	snapshot := session
	if err := m.Revoke(ctx, &session); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// RevokeAll revokes every active session of the user and returns them as they
// were before revocation.
func (m *Manager) RevokeAll(ctx context.Context, userID string) ([]AuthSession, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	var sessions []AuthSession
	if err := db.Where("user_id = ? AND is_active = ?", userID, true).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	ids := make([]string, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].ID
	}

	if err := db.Model(&AuthSession{}).Where("id IN ?", ids).Updates(revokedFields(m.now())).Error; err != nil {
		return nil, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	m.logger.Info("revoked all sessions", zap.String("user_id", userID), zap.Int("count", len(sessions)))
	return sessions, nil
}

// CleanupExpired marks sessions past their expiry as inactive.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	db, cancel := m.conn(ctx)
	defer cancel()

	now := m.now()
	res := db.Model(&AuthSession{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(revokedFields(now))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up expired sessions: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		m.logger.Info("expired sessions cleaned up", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// StartCleanupWorker runs CleanupExpired every interval until ctx is done.
func (m *Manager) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.CleanupExpired(ctx); err != nil {
					m.logger.Error("session cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	m.logger.Info("started session cleanup worker", zap.Duration("interval", interval))
}
