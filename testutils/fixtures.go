package testutils

import (
	"time"

	"github.com/fintrac/authcore/config"
	"golang.org/x/crypto/bcrypt"
)

const TestSecretKey = "test-secret-key-that-is-at-least-32-bytes-long"

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:        "Test App",
			URL:         "http://localhost:8080",
			Environment: "test",
		},
		Server: config.ServerConfig{
			Host: "localhost",
			Port: "0",
		},
		Log: config.LogConfig{
			Level:  "debug",
			Format: "console",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:    "sqlite",
			DSN:       ":memory:",
			OpTimeout: 5 * time.Second,
		},
		Redis: config.RedisConfig{
			OpTimeout: time.Second,
		},
		JWT: config.JWTConfig{
			SecretKey:     TestSecretKey,
			Algorithm:     "HS256",
			Issuer:        "test-issuer",
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 7 * 24 * time.Hour,
		},
		Revocation: config.RevocationConfig{
			Store:     "memory",
			KeyPrefix: "blacklist:token:",
		},
		Session: config.SessionConfig{
			MaxPerUser:    3,
			CleanupPeriod: time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:                 true,
			Store:                   "memory",
			KeyPrefix:               "ratelimit:tb:",
			BucketTTL:               time.Hour,
			AnonymousCapacity:       100,
			AnonymousRefillRate:     1.67,
			AuthenticatedCapacity:   10000,
			AuthenticatedRefillRate: 166.7,
			PremiumCapacity:         10000,
			PremiumRefillRate:       166.7,

			LoginAccountCapacity:     5,
			LoginAccountRefillRate:   0.1,
			LoginIPCapacity:          20,
			LoginIPRefillRate:        0.5,
			RegisterCapacity:         5,
			RegisterRefillRate:       0.05,
			ForgotPasswordCapacity:   3,
			ForgotPasswordRefillRate: 0.01,
			ResendCapacity:           3,
			ResendRefillRate:         0.01,
			RefreshCapacity:          30,
			RefreshRefillRate:        0.5,
		},
		Auth: config.AuthConfig{
			MinLength:           8,
			RequireUpper:        true,
			RequireLower:        true,
			RequireNumber:       true,
			RequireSpecial:      true,
			BcryptCost:          bcrypt.MinCost,
			DefaultCurrency:     "NGN",
			OTPLength:           6,
			OTPExpiry:           10 * time.Minute,
			AccountDeletionDays: 30,
		},
		Mail: config.MailConfig{
			FromAddress: "noreply@example.com",
			FromName:    "Test App",
			Workers:     1,
			QueueSize:   10,
		},
	}
}

var TestPasswords = struct {
	Valid     string
	TooShort  string
	NoUpper   string
	NoLower   string
	NoNumber  string
	NoSpecial string
}{
	Valid:     "Password123!",
	TooShort:  "Pa1!",
	NoUpper:   "password123!",
	NoLower:   "PASSWORD123!",
	NoNumber:  "Password!!!",
	NoSpecial: "Password123",
}
