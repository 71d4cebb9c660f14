package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

const mainAccountName = "Main Account"

type TermsItem struct {
	Type    string `json:"terms_type" validate:"required,max=32"`
	Version string `json:"version" validate:"required,max=20"`
}

// Onboarding holds the records created alongside a new user.
type Onboarding struct {
	Locale     string
	Theme      Theme
	Currency   string
	Terms      []TermsItem
	IPAddress  string
	DeviceInfo string
}

type Repository struct {
	db        *gorm.DB
	opTimeout time.Duration
	logger    *logging.Service
	now       func() time.Time
}

func NewRepository(db *gorm.DB, opTimeout time.Duration, logger *logging.Service) *Repository {
	return &Repository{
		db:        db,
		opTimeout: opTimeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Repository) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := database.OpContext(ctx, r.opTimeout)
	return r.db.WithContext(ctx), cancel
}

func first(q *gorm.DB) (*User, error) {
	var u User
	err := q.First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

// FindByEmail matches case-insensitively and includes soft-deleted users so
// callers can report the recovery window.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	return first(db.Unscoped().Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))))
}

// FindByUsername matches case-insensitively and includes soft-deleted users.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	return first(db.Unscoped().Where("LOWER(username) = ?", strings.ToLower(strings.TrimSpace(username))))
}

func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()
	return first(db.Where("id = ?", id))
}

// Create inserts u together with its preferences, terms acceptances, streak
// and main account in one transaction.
func (r *Repository) Create(ctx context.Context, u *User, ob Onboarding) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Locale == "" {
		u.Locale = ob.Locale
	}
	u.IsActive = true

	now := r.now()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		pref := &Preference{
			UserID:               u.ID,
			Locale:               ob.Locale,
			Theme:                ob.Theme,
			DefaultCurrency:      ob.Currency,
			NotificationsEnabled: true,
		}
		if pref.Locale == "" {
			pref.Locale = "en_US"
		}
		if pref.Theme == "" {
			pref.Theme = ThemeLight
		}
		if err := tx.Create(pref).Error; err != nil {
			return fmt.Errorf("failed to create preferences: %w", err)
		}

		for _, item := range ob.Terms {
			acceptance := &TermsAcceptance{
				UserID:       u.ID,
				TermsVersion: item.Type + ":" + item.Version,
				AcceptedAt:   now,
				IPAddress:    ob.IPAddress,
				DeviceInfo:   ob.DeviceInfo,
			}
			if err := tx.Create(acceptance).Error; err != nil {
				return fmt.Errorf("failed to record terms acceptance: %w", err)
			}
		}

		if err := tx.Create(&Streak{UserID: u.ID}).Error; err != nil {
			return fmt.Errorf("failed to create streak: %w", err)
		}

		account := &Account{
			UserID:      u.ID,
			Name:        mainAccountName,
			AccountType: AccountBank,
			Currency:    ob.Currency,
			IsActive:    true,
		}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("failed to create main account: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("user onboarding failed", zap.Error(err))
		return err
	}

	r.logger.Info("user created", zap.String("user_id", u.ID), zap.Int("terms", len(ob.Terms)))
	return nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id, hashedPassword string) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&User{}).Where("id = ?", id).Update("hashed_password", hashedPassword)
	if res.Error != nil {
		return fmt.Errorf("failed to update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) MarkVerified(ctx context.Context, id string) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&User{}).Where("id = ?", id).Update("is_verified", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark user verified: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, u *User) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	now := r.now()
	if err := db.Model(&User{}).Where("id = ?", u.ID).Update("last_login_at", now).Error; err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	u.LastLoginAt = &now
	return nil
}

// SoftDelete starts the recovery window for the account.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Where("id = ?", id).Delete(&User{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	r.logger.Info("user scheduled for deletion", zap.String("user_id", id))
	return nil
}

func ProvideRepository(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Repository {
	return NewRepository(db, cfg.Database.OpTimeout, logger.Named("user"))
}

func ProvidePasswords(cfg *config.Config, logger *logging.Service) *Passwords {
	return NewPasswords(cfg.Auth, logger.Named("passwords"))
}

var Module = fx.Options(
	fx.Provide(ProvideRepository, ProvidePasswords),
)
