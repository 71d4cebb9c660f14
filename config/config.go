package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const MinSecretKeyLength = 32

var (
	ErrSecretKeyTooShort  = fmt.Errorf("JWT secret key must be at least %d bytes", MinSecretKeyLength)
	ErrInvalidSessionCap  = errors.New("session max per user must be at least 1")
	ErrInvalidRouteLimit  = errors.New("per-route rate limit capacity must be at least 1")
	ErrUnsupportedStore   = errors.New("unsupported store type")
	ErrInvalidTokenExpiry = errors.New("access expiry must be shorter than refresh expiry")
)

type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Server     ServerConfig     `envPrefix:"SERVER_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	JWT        JWTConfig        `envPrefix:"JWT_"`
	Revocation RevocationConfig `envPrefix:"REVOCATION_"`
	Session    SessionConfig    `envPrefix:"SESSION_"`
	RateLimit  RateLimitConfig  `envPrefix:"RATE_LIMIT_"`
	Auth       AuthConfig       `envPrefix:"AUTH_"`
	Mail       MailConfig       `envPrefix:"MAIL_"`
}

type AppConfig struct {
	Name        string `env:"NAME" envDefault:"Fintrac"`
	URL         string `env:"URL" envDefault:"http://localhost:8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	Host         string        `env:"HOST" envDefault:"localhost"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Format     string `env:"FORMAT" envDefault:"json"`
	Output     string `env:"OUTPUT" envDefault:"stdout"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"10"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"7"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"28"`
	Compress   bool   `env:"COMPRESS" envDefault:"true"`
}

type DatabaseConfig struct {
	Driver      string        `env:"DRIVER" envDefault:"sqlite"`
	DSN         string        `env:"DSN" envDefault:"authcore.db"`
	AutoMigrate bool          `env:"AUTO_MIGRATE" envDefault:"true"`
	OpTimeout   time.Duration `env:"OP_TIMEOUT" envDefault:"5s"`
}

type RedisConfig struct {
	URL            string        `env:"URL" envDefault:"redis://localhost:6379/0"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	OpTimeout      time.Duration `env:"OP_TIMEOUT" envDefault:"2s"`
	PoolSize       int           `env:"POOL_SIZE" envDefault:"10"`
}

type JWTConfig struct {
	SecretKey     string        `env:"SECRET_KEY"`
	Algorithm     string        `env:"ALGORITHM" envDefault:"HS256"`
	Issuer        string        `env:"ISSUER" envDefault:"fintrac"`
	AccessExpiry  time.Duration `env:"ACCESS_EXPIRY" envDefault:"15m"`
	RefreshExpiry time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
}

type RevocationConfig struct {
	Store     string `env:"STORE" envDefault:"redis"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"blacklist:token:"`
}

type SessionConfig struct {
	MaxPerUser    int           `env:"MAX_PER_USER" envDefault:"5"`
	CleanupPeriod time.Duration `env:"CLEANUP_PERIOD" envDefault:"1h"`
}

type RateLimitConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"true"`
	Store     string        `env:"STORE" envDefault:"redis"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"ratelimit:tb:"`
	BucketTTL time.Duration `env:"BUCKET_TTL" envDefault:"1h"`

	AnonymousCapacity       int     `env:"ANONYMOUS_CAPACITY" envDefault:"100"`
	AnonymousRefillRate     float64 `env:"ANONYMOUS_REFILL_RATE" envDefault:"1.67"`
	AuthenticatedCapacity   int     `env:"AUTHENTICATED_CAPACITY" envDefault:"10000"`
	AuthenticatedRefillRate float64 `env:"AUTHENTICATED_REFILL_RATE" envDefault:"166.7"`
	PremiumCapacity         int     `env:"PREMIUM_CAPACITY" envDefault:"10000"`
	PremiumRefillRate       float64 `env:"PREMIUM_REFILL_RATE" envDefault:"166.7"`

	// Per-route buckets. Login is limited per account and per address.
	LoginAccountCapacity     int     `env:"LOGIN_ACCOUNT_CAPACITY" envDefault:"5"`
	LoginAccountRefillRate   float64 `env:"LOGIN_ACCOUNT_REFILL_RATE" envDefault:"0.1"`
	LoginIPCapacity          int     `env:"LOGIN_IP_CAPACITY" envDefault:"20"`
	LoginIPRefillRate        float64 `env:"LOGIN_IP_REFILL_RATE" envDefault:"0.5"`
	RegisterCapacity         int     `env:"REGISTER_CAPACITY" envDefault:"5"`
	RegisterRefillRate       float64 `env:"REGISTER_REFILL_RATE" envDefault:"0.05"`
	ForgotPasswordCapacity   int     `env:"FORGOT_PASSWORD_CAPACITY" envDefault:"3"`
	ForgotPasswordRefillRate float64 `env:"FORGOT_PASSWORD_REFILL_RATE" envDefault:"0.01"`
	ResendCapacity           int     `env:"RESEND_CAPACITY" envDefault:"3"`
	ResendRefillRate         float64 `env:"RESEND_REFILL_RATE" envDefault:"0.01"`
	RefreshCapacity          int     `env:"REFRESH_CAPACITY" envDefault:"30"`
	RefreshRefillRate        float64 `env:"REFRESH_REFILL_RATE" envDefault:"0.5"`
}

func (c RateLimitConfig) validateRoutes() error {
	for _, capacity := range []int{
		c.LoginAccountCapacity, c.LoginIPCapacity, c.RegisterCapacity,
		c.ForgotPasswordCapacity, c.ResendCapacity, c.RefreshCapacity,
	} {
		if capacity < 1 {
			return ErrInvalidRouteLimit
		}
	}
	return nil
}

type AuthConfig struct {
	MinLength            int    `env:"MIN_LENGTH" envDefault:"8"`
	RequireUpper         bool   `env:"REQUIRE_UPPER" envDefault:"true"`
	RequireLower         bool   `env:"REQUIRE_LOWER" envDefault:"true"`
	RequireNumber        bool   `env:"REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial       bool   `env:"REQUIRE_SPECIAL" envDefault:"true"`
	BcryptCost           int    `env:"BCRYPT_COST" envDefault:"10"`
	RequireVerifiedEmail bool   `env:"REQUIRE_VERIFIED_EMAIL" envDefault:"false"`
	DefaultCurrency      string `env:"DEFAULT_CURRENCY" envDefault:"NGN"`

	OTPLength           int           `env:"OTP_LENGTH" envDefault:"6"`
	OTPExpiry           time.Duration `env:"OTP_EXPIRY" envDefault:"10m"`
	AccountDeletionDays int           `env:"ACCOUNT_DELETION_DAYS" envDefault:"30"`
}

type MailConfig struct {
	Enabled      bool   `env:"ENABLED" envDefault:"false"`
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         int    `env:"PORT" envDefault:"587"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Encryption   string `env:"ENCRYPTION" envDefault:"starttls"`
	FromAddress  string `env:"FROM_ADDRESS"`
	FromName     string `env:"FROM_NAME" envDefault:"Fintrac"`
	TemplatesDir string `env:"TEMPLATES_DIR"`
	Workers      int    `env:"WORKERS" envDefault:"2"`
	QueueSize    int    `env:"QUEUE_SIZE" envDefault:"100"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	return env.Parse(cfg)
}

// Validate reports configuration that must stop the process from starting.
func (c *Config) Validate() error {
	if err := validateJWTConfig(&c.JWT); err != nil {
		return err
	}

	if c.Session.MaxPerUser < 1 {
		return ErrInvalidSessionCap
	}

	if err := validateStore("rate limit", c.RateLimit.Store); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if err := c.RateLimit.validateRoutes(); err != nil {
			return err
		}
	}

	return validateStore("revocation", c.Revocation.Store)
}

func validateJWTConfig(cfg *JWTConfig) error {
	if len(cfg.SecretKey) < MinSecretKeyLength {
		return ErrSecretKeyTooShort
	}

	if cfg.Algorithm != "" && cfg.Algorithm != "HS256" {
		return fmt.Errorf("unsupported JWT algorithm: %s (supported: HS256)", cfg.Algorithm)
	}

	if cfg.AccessExpiry >= cfg.RefreshExpiry {
		return ErrInvalidTokenExpiry
	}

	return nil
}

func validateStore(name, store string) error {
	switch store {
	case "redis", "memory":
		return nil
	default:
		return fmt.Errorf("%w: %s store %q (supported: redis, memory)", ErrUnsupportedStore, name, store)
	}
}

// UsesRedis reports whether any component is configured against the shared cache.
func (c *Config) UsesRedis() bool {
	return c.RateLimit.Store == "redis" || c.Revocation.Store == "redis"
}
