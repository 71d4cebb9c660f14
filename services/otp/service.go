package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/services/logging"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrCodeNotFound = errors.New("one-time code not found")

type Type string

const (
	TypeEmailVerification Type = "email_verification"
	TypePasswordReset     Type = "password_reset"
	TypeTwoFactor         Type = "two_factor"
)

const (
	alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultLength = 6
)

// Code is a mailed one-time code. At most one code per (user, type) exists.
type Code struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	UserID    string    `json:"user_id" gorm:"size:36;not null;index:idx_otps_user_type,priority:1"`
	Code      string    `json:"-" gorm:"size:16;not null"`
	Type      Type      `json:"type" gorm:"size:32;not null;index:idx_otps_user_type,priority:2"`
	IsUsed    bool      `json:"is_used" gorm:"not null;default:false"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Code) TableName() string {
	return "otps"
}

func (c *Code) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func Models() []any {
	return []any{&Code{}}
}

type Service struct {
	db        *gorm.DB
	length    int
	expiry    time.Duration
	opTimeout time.Duration
	logger    *logging.Service
	now       func() time.Time
}

func NewService(db *gorm.DB, length int, expiry, opTimeout time.Duration, logger *logging.Service) *Service {
	if length <= 0 {
		length = defaultLength
	}
	return &Service{
		db:        db,
		length:    length,
		expiry:    expiry,
		opTimeout: opTimeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Expiry() time.Duration {
	return s.expiry
}

func (s *Service) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := database.OpContext(ctx, s.opTimeout)
	return s.db.WithContext(ctx), cancel
}

func generate(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	size := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Issue replaces any outstanding code of the same type for the user.
func (s *Service) Issue(ctx context.Context, userID string, typ Type) (*Code, error) {
	value, err := generate(s.length)
	if err != nil {
		return nil, err
	}

	db, cancel := s.conn(ctx)
	defer cancel()

	code := &Code{
		UserID:    userID,
		Code:      value,
		Type:      typ,
		ExpiresAt: s.now().Add(s.expiry),
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND type = ?", userID, typ).Delete(&Code{}).Error; err != nil {
			return fmt.Errorf("failed to clear previous codes: %w", err)
		}
		if err := tx.Create(code).Error; err != nil {
			return fmt.Errorf("failed to store code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("issued one-time code",
		zap.String("user_id", userID),
		zap.String("type", string(typ)),
		zap.Time("expires_at", code.ExpiresAt))
	return code, nil
}

// FindValid returns the unused, unexpired code of typ matching value.
// Matching ignores case and surrounding whitespace.
func (s *Service) FindValid(ctx context.Context, userID, value string, typ Type) (*Code, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var code Code
	err := db.Where("user_id = ? AND code = ? AND type = ? AND is_used = ? AND expires_at > ?",
		userID, strings.ToUpper(strings.TrimSpace(value)), typ, false, s.now()).
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}
	return &code, nil
}

func (s *Service) FindByID(ctx context.Context, id string) (*Code, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var code Code
	err := db.Where("id = ?", id).First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}
	return &code, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	if err := db.Where("id = ?", id).Delete(&Code{}).Error; err != nil {
		return fmt.Errorf("failed to delete code: %w", err)
	}
	return nil
}

// Live reports whether c can still be redeemed at now.
func (c *Code) Live(now time.Time) bool {
	return !c.IsUsed && c.ExpiresAt.After(now)
}

func ProvideService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	return NewService(db, cfg.Auth.OTPLength, cfg.Auth.OTPExpiry, cfg.Database.OpTimeout, logger.Named("otp"))
}

var Module = fx.Options(
	fx.Provide(ProvideService),
)
