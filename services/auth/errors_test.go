package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fintrac/authcore/services/jwt"
	"github.com/fintrac/authcore/services/user"
	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestError_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("login: %w", PendingDeletion(36*time.Hour))

	assert.ErrorIs(t, err, ErrAccountPendingDeletion)
	assert.NotErrorIs(t, err, ErrAccountGone)

	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
	assert.Equal(t, "1d 12h 0m", authErr.Details["remaining"])
}

func TestFromTokenError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want *Error
	}{
		{name: "expired", err: jwt.ErrExpiredToken, want: ErrExpiredToken},
		{name: "wrong kind", err: jwt.ErrWrongTokenKind, want: ErrWrongTokenKind},
		{name: "revoked", err: jwt.ErrRevokedToken, want: ErrRevokedToken},
		{name: "invalid", err: jwt.ErrInvalidToken, want: ErrInvalidToken},
		{name: "revocation store down", err: fmt.Errorf("%w: %w", jwt.ErrRevocationCheck, errors.New("dial tcp")), want: ErrInfrastructure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, FromTokenError(tt.err), tt.want)
		})
	}

	assert.Nil(t, FromTokenError(nil))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "0d 0h 0m", FormatRemaining(-time.Minute))
	assert.Equal(t, "2d 3h 4m", FormatRemaining(51*time.Hour+4*time.Minute+59*time.Second))
}

func TestWeakPassword_KeepsReason(t *testing.T) {
	err := WeakPassword(fmt.Errorf("%w: password must be at least 8 characters", user.ErrWeakPassword))

	assert.Equal(t, "password must be at least 8 characters", err.Message)
	assert.ErrorIs(t, err, user.ErrWeakPassword)
}

func TestFlow_StoreFailureIsInfrastructure(t *testing.T) {
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlMock.ExpectQuery(`SELECT \* FROM "users"`).WillReturnError(errors.New("connection refused"))

	cfg := testutils.GetTestConfig()
	flow := NewFlow(cfg.Auth, Deps{Users: user.NewRepository(db, 0, nil)}, nil)

	_, err = flow.Login(context.Background(), loginRequest("phone-1"))

	require.ErrorIs(t, err, ErrInfrastructure)
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusInternalServerError, authErr.Status)
	assert.NotContains(t, authErr.Message, "connection refused")
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
