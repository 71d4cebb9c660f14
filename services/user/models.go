package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

type AccountType string

const (
	AccountCash AccountType = "Cash"
	AccountBank AccountType = "Bank"
	AccountCard AccountType = "Card"
)

// User is an account holder. Email is stored lower-cased. A non-null
// DeletedAt marks an account inside (or past) its recovery window.
type User struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	Email          string         `json:"email" gorm:"size:255;not null;uniqueIndex"`
	Username       *string        `json:"username" gorm:"size:50;uniqueIndex"`
	FirstName      string         `json:"first_name" gorm:"size:100;not null"`
	LastName       string         `json:"last_name" gorm:"size:100;not null"`
	PhoneNumber    string         `json:"phone_number" gorm:"size:32"`
	HashedPassword string         `json:"-" gorm:"not null"`
	IsActive       bool           `json:"is_active" gorm:"not null;default:true"`
	IsVerified     bool           `json:"is_verified" gorm:"not null;default:false"`
	Locale         string         `json:"locale" gorm:"size:10"`
	LastLoginAt    *time.Time     `json:"last_login_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) UsernameOrEmpty() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

type Preference struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:36"`
	UserID               string    `json:"user_id" gorm:"size:36;not null;uniqueIndex"`
	Locale               string    `json:"locale" gorm:"size:10;not null;default:en_US"`
	Theme                Theme     `json:"theme" gorm:"size:20;not null;default:light"`
	DefaultCurrency      string    `json:"default_currency" gorm:"size:3;not null"`
	NotificationsEnabled bool      `json:"notifications_enabled" gorm:"not null;default:true"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Preference) TableName() string {
	return "user_preferences"
}

func (p *Preference) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Account is a money container. Balance is held in minor units.
type Account struct {
	ID          string      `json:"id" gorm:"primaryKey;size:36"`
	UserID      string      `json:"user_id" gorm:"size:36;not null;index"`
	Name        string      `json:"name" gorm:"size:20;not null"`
	AccountType AccountType `json:"account_type" gorm:"size:50;not null"`
	Balance     int64       `json:"balance" gorm:"not null;default:0"`
	Currency    string      `json:"currency" gorm:"size:3;not null"`
	IsActive    bool        `json:"is_active" gorm:"not null;default:true"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

type Streak struct {
	ID             string     `json:"id" gorm:"primaryKey;size:36"`
	UserID         string     `json:"user_id" gorm:"size:36;not null;uniqueIndex"`
	CurrentStreak  int        `json:"current_streak" gorm:"not null;default:0"`
	LongestStreak  int        `json:"longest_streak" gorm:"not null;default:0"`
	LastActiveDate *time.Time `json:"last_active_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Streak) TableName() string {
	return "streaks"
}

func (s *Streak) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TermsAcceptance records one accepted document as "{type}:{version}".
type TermsAcceptance struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	UserID       string    `json:"user_id" gorm:"size:36;not null;index"`
	TermsVersion string    `json:"terms_version" gorm:"size:64;not null"`
	AcceptedAt   time.Time `json:"accepted_at" gorm:"not null"`
	IPAddress    string    `json:"ip_address" gorm:"size:45"`
	DeviceInfo   string    `json:"device_info" gorm:"size:255"`
}

func (TermsAcceptance) TableName() string {
	return "terms_acceptances"
}

func (t *TermsAcceptance) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func Models() []any {
	return []any{&User{}, &Preference{}, &Account{}, &Streak{}, &TermsAcceptance{}}
}
