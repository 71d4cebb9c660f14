package user

import (
	"testing"

	"github.com/fintrac/authcore/config"
	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func strictPolicy() config.AuthConfig {
	return config.AuthConfig{
		MinLength:      8,
		RequireUpper:   true,
		RequireLower:   true,
		RequireNumber:  true,
		RequireSpecial: true,
		BcryptCost:     bcrypt.MinCost,
	}
}

func TestPasswords_Validate(t *testing.T) {
	tests := []struct {
		name     string
		password string
		policy   func(*config.AuthConfig)
		errMsg   string
	}{
		{name: "valid password", password: testutils.TestPasswords.Valid},
		{name: "too short", password: testutils.TestPasswords.TooShort, errMsg: "password must be at least 8 characters"},
		{name: "missing uppercase", password: testutils.TestPasswords.NoUpper, errMsg: "password must contain at least one uppercase letter"},
		{name: "missing lowercase", password: testutils.TestPasswords.NoLower, errMsg: "password must contain at least one lowercase letter"},
		{name: "missing number", password: testutils.TestPasswords.NoNumber, errMsg: "password must contain at least one number"},
		{name: "missing special character", password: testutils.TestPasswords.NoSpecial, errMsg: "password must contain at least one special character"},
		{
			name:     "special not required",
			password: testutils.TestPasswords.NoSpecial,
			policy:   func(c *config.AuthConfig) { c.RequireSpecial = false },
		},
		{
			name:     "reports every missing class",
			password: "abcdefgh",
			errMsg:   "one uppercase letter, one number, one special character",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := strictPolicy()
			if tt.policy != nil {
				tt.policy(&policy)
			}

			err := NewPasswords(policy, nil).Validate(tt.password)

			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrWeakPassword)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPasswords_HashAndVerify(t *testing.T) {
	passwords := NewPasswords(strictPolicy(), nil)

	hash, err := passwords.Hash(testutils.TestPasswords.Valid)
	require.NoError(t, err)
	assert.NotEqual(t, testutils.TestPasswords.Valid, hash)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.NoError(t, passwords.Verify(hash, testutils.TestPasswords.Valid))
	assert.ErrorIs(t, passwords.Verify(hash, "Wrong123!"), ErrPasswordMismatch)
	assert.ErrorIs(t, passwords.Verify("not-a-hash", testutils.TestPasswords.Valid), ErrPasswordMismatch)
}

func TestPasswords_HashRejectsWeakPassword(t *testing.T) {
	_, err := NewPasswords(strictPolicy(), nil).Hash(testutils.TestPasswords.TooShort)

	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestNewPasswords_DefaultCost(t *testing.T) {
	policy := strictPolicy()
	policy.BcryptCost = 0

	passwords := NewPasswords(policy, nil)

	assert.Equal(t, bcrypt.DefaultCost, passwords.policy.BcryptCost)
}
