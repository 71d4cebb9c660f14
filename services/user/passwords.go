package user

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrWeakPassword          = errors.New("password does not meet requirements")
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrPasswordMismatch      = errors.New("password does not match")
)

// Passwords applies the configured strength policy and bcrypt hashing.
type Passwords struct {
	policy config.AuthConfig
	logger *logging.Service
}

func NewPasswords(policy config.AuthConfig, logger *logging.Service) *Passwords {
	if policy.BcryptCost == 0 {
		policy.BcryptCost = bcrypt.DefaultCost
	}
	return &Passwords{policy: policy, logger: logger}
}

// Validate reports every unmet requirement in a single error wrapping ErrWeakPassword.
func (p *Passwords) Validate(password string) error {
	if len(password) < p.policy.MinLength {
		p.logger.Debug("password rejected: too short",
			zap.Int("length", len(password)),
			zap.Int("min_required", p.policy.MinLength))
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, p.policy.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	var missing []string
	if p.policy.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if p.policy.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if p.policy.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if p.policy.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		p.logger.Debug("password rejected: missing requirements", zap.Strings("missing", missing))
		return fmt.Errorf("%w: password must contain at least %s", ErrWeakPassword, strings.Join(missing, ", "))
	}
	return nil
}

// Hash validates then hashes password.
func (p *Passwords) Hash(password string) (string, error) {
	if err := p.Validate(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.policy.BcryptCost)
	if err != nil {
		p.logger.Error("password hashing failed", zap.Error(err))
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

func (p *Passwords) Verify(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrPasswordMismatch
	}
	return nil
}
