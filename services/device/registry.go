package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/database"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrDeviceNotFound = errors.New("device not found")

type Registry struct {
	db        *gorm.DB
	opTimeout time.Duration
	logger    *logging.Service
	now       func() time.Time
}

func NewRegistry(db *gorm.DB, opTimeout time.Duration, logger *logging.Service) *Registry {
	return &Registry{
		db:        db,
		opTimeout: opTimeout,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := database.OpContext(ctx, r.opTimeout)
	return r.db.WithContext(ctx), cancel
}

func (r *Registry) find(db *gorm.DB, userID, deviceID string) (*Device, error) {
	var d Device
	err := db.Where("user_id = ? AND device_id = ?", userID, deviceID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetOrRegister returns the user's device with desc.DeviceID, creating it
// untrusted when it has never been seen. isNew reports a creation.
func (r *Registry) GetOrRegister(ctx context.Context, userID string, desc Descriptor, origin Context) (*Device, bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	existing, err := r.find(db, userID, desc.DeviceID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrDeviceNotFound) {
		return nil, false, fmt.Errorf("failed to look up device: %w", err)
	}

	desc = desc.Normalize(origin.UserAgent)
	d := &Device{
		UserID:     userID,
		DeviceID:   desc.DeviceID,
		DeviceName: desc.DeviceName,
		Platform:   desc.Platform,
		OSVersion:  desc.OSVersion,
		AppVersion: desc.AppVersion,
		IPAddress:  origin.IPAddress,
		UserAgent:  origin.UserAgent,
		IsTrusted:  false,
	}

	if err := db.Create(d).Error; err != nil {
		// lost a race with a concurrent first login from the same device
		if existing, findErr := r.find(db, userID, desc.DeviceID); findErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to register device: %w", err)
	}

	r.logger.Info("registered new device",
		zap.String("user_id", userID),
		zap.String("device_id", d.ID),
		zap.String("platform", string(d.Platform)))

	return d, true, nil
}

// RecordLogin stamps a successful login from origin on the device.
func (r *Registry) RecordLogin(ctx context.Context, d *Device, desc Descriptor, origin Context) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	now := r.now()
	updates := map[string]any{
		"last_login_at":   now,
		"last_ip_address": origin.IPAddress,
	}
	if origin.UserAgent != "" {
		updates["user_agent"] = origin.UserAgent
	}
	if desc.OSVersion != "" {
		updates["os_version"] = desc.OSVersion
	}
	if desc.AppVersion != "" {
		updates["app_version"] = desc.AppVersion
	}
	if desc.DeviceName != "" {
		updates["device_name"] = desc.DeviceName
	}

	if err := db.Model(&Device{}).Where("id = ?", d.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to record device login: %w", err)
	}

	d.LastLoginAt = &now
	d.LastIPAddress = origin.IPAddress
	if desc.OSVersion != "" {
		d.OSVersion = desc.OSVersion
	}
	if desc.AppVersion != "" {
		d.AppVersion = desc.AppVersion
	}
	if desc.DeviceName != "" {
		d.DeviceName = desc.DeviceName
	}
	return nil
}

// SetTrusted flips the trust flag of one of the user's devices.
func (r *Registry) SetTrusted(ctx context.Context, userID, id string, trusted bool) error {
	db, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&Device{}).Where("id = ? AND user_id = ?", id, userID).Update("is_trusted", trusted)
	if res.Error != nil {
		return fmt.Errorf("failed to update device trust: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceNotFound
	}

	r.logger.Info("device trust changed",
		zap.String("user_id", userID),
		zap.String("device_id", id),
		zap.Bool("trusted", trusted))
	return nil
}

func (r *Registry) List(ctx context.Context, userID string) ([]Device, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var devices []Device
	if err := db.Where("user_id = ?", userID).Order("created_at ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (r *Registry) GetByID(ctx context.Context, userID, id string) (*Device, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var d Device
	err := db.Where("id = ? AND user_id = ?", id, userID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return &d, nil
}

func ProvideRegistry(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Registry {
	return NewRegistry(db, cfg.Database.OpTimeout, logger.Named("device"))
}

var Module = fx.Options(
	fx.Provide(ProvideRegistry),
)
