package security

import (
	"context"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/services/logging"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EventType string

const (
	LoginFailure       EventType = "login_failure"
	PasswordChange     EventType = "password_change"
	MFADisabled        EventType = "mfa_disabled"
	AccountLocked      EventType = "account_locked"
	AccountUnlocked    EventType = "account_unlocked"
	NewDeviceLogin     EventType = "new_device_login"
	SessionInvalidated EventType = "session_invalidated"
	LogoutAllDevice    EventType = "logout_all_device"
)

// Event is an append-only audit record. Nothing in this module reads it back
// except tests and operators.
type Event struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	UserID    string         `json:"user_id" gorm:"size:36;not null;index"`
	EventType EventType      `json:"event_type" gorm:"size:32;not null;index"`
	IPAddress string         `json:"ip_address" gorm:"size:45"`
	UserAgent string         `json:"user_agent" gorm:"size:500"`
	Metadata  map[string]any `json:"metadata" gorm:"serializer:json"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;index"`
}

func (Event) TableName() string {
	return "security_events"
}

func Models() []any {
	return []any{&Event{}}
}

type Recorder struct {
	db        *gorm.DB
	opTimeout time.Duration
	logger    *logging.Service
}

func NewRecorder(db *gorm.DB, opTimeout time.Duration, logger *logging.Service) *Recorder {
	return &Recorder{db: db, opTimeout: opTimeout, logger: logger}
}

// Record persists ev. Failures are logged and never returned so an audit
// outage cannot fail the flow that raised the event.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := database.OpContext(ctx, r.opTimeout)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(&ev).Error; err != nil {
		r.logger.Error("failed to record security event",
			zap.String("event_type", string(ev.EventType)),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
		return
	}

	r.logger.Info("security event",
		zap.String("event_type", string(ev.EventType)),
		zap.String("user_id", ev.UserID),
		zap.String("ip_address", ev.IPAddress))
}

// List returns the user's events, newest first.
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]Event, error) {
	ctx, cancel := database.OpContext(ctx, r.opTimeout)
	defer cancel()

	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var events []Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func ProvideRecorder(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Recorder {
	return NewRecorder(db, cfg.Database.OpTimeout, logger.Named("security"))
}

var Module = fx.Options(
	fx.Provide(ProvideRecorder),
)
