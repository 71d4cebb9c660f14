package device

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
	PlatformOther   Platform = "other"
)

// Device is one client installation of a user. DeviceID is the stable
// identifier supplied by the client and is unique per user.
type Device struct {
	ID            string     `json:"id" gorm:"primaryKey;size:36"`
	UserID        string     `json:"user_id" gorm:"size:36;not null;uniqueIndex:idx_user_devices_user_device,priority:1"`
	DeviceID      string     `json:"device_id" gorm:"size:255;not null;uniqueIndex:idx_user_devices_user_device,priority:2"`
	DeviceName    string     `json:"device_name" gorm:"size:255"`
	Platform      Platform   `json:"platform" gorm:"size:16;not null"`
	OSVersion     string     `json:"os_version" gorm:"size:64"`
	AppVersion    string     `json:"app_version" gorm:"size:64"`
	IPAddress     string     `json:"ip_address" gorm:"size:45"`
	UserAgent     string     `json:"user_agent" gorm:"size:500"`
	IsTrusted     bool       `json:"is_trusted" gorm:"not null"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	LastIPAddress string     `json:"last_ip_address" gorm:"size:45"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Device) TableName() string {
	return "user_devices"
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

func Models() []any {
	return []any{&Device{}}
}
