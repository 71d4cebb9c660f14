package session

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuthSession is one logical login of a user on a device. Rows are never
// deleted by normal flows; revocation clears IsActive and RefreshJTI.
type AuthSession struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	UserID     string     `json:"user_id" gorm:"size:36;not null;index:idx_auth_sessions_user_active,priority:1"`
	DeviceID   string     `json:"device_id" gorm:"size:36;not null;index"`
	RefreshJTI *string    `json:"-" gorm:"column:refresh_token_jti;size:64;uniqueIndex"`
	IsActive   bool       `json:"is_active" gorm:"not null;index:idx_auth_sessions_user_active,priority:2"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"not null;index"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IPAddress  string     `json:"ip_address" gorm:"size:45"`
	UserAgent  string     `json:"user_agent" gorm:"size:500"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
	Current    bool       `json:"current" gorm:"-"`
}

func (AuthSession) TableName() string {
	return "auth_sessions"
}

func (s *AuthSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Live applies the active predicate at now.
func (s *AuthSession) Live(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}

func Models() []any {
	return []any{&AuthSession{}}
}
