package otp

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func setupService(t *testing.T) (*Service, *gorm.DB, *testClock) {
	t.Helper()
	db := testutils.SetupTestDB(t, Models()...)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service := NewService(db, 6, 10*time.Minute, time.Second, nil)
	service.SetClock(clock.Now)
	return service, db, clock
}

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generate(6)
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestNewService_DefaultLength(t *testing.T) {
	service := NewService(nil, 0, time.Minute, time.Second, nil)

	assert.Equal(t, 6, service.length)
	assert.Equal(t, time.Minute, service.Expiry())
}

func TestService_Issue(t *testing.T) {
	ctx := context.Background()
	service, db, clock := setupService(t)

	code, err := service.Issue(ctx, "user-1", TypeEmailVerification)
	require.NoError(t, err)

	assert.NotEmpty(t, code.ID)
	assert.Regexp(t, codePattern, code.Code)
	assert.Equal(t, clock.now.Add(10*time.Minute), code.ExpiresAt)
	assert.False(t, code.IsUsed)

	t.Run("replaces the previous code of the same type", func(t *testing.T) {
		reset, err := service.Issue(ctx, "user-1", TypePasswordReset)
		require.NoError(t, err)
		second, err := service.Issue(ctx, "user-1", TypeEmailVerification)
		require.NoError(t, err)

		var codes []Code
		require.NoError(t, db.Where("user_id = ?", "user-1").Find(&codes).Error)
		require.Len(t, codes, 2)

		_, err = service.FindByID(ctx, code.ID)
		assert.ErrorIs(t, err, ErrCodeNotFound)

		_, err = service.FindByID(ctx, second.ID)
		assert.NoError(t, err)
		_, err = service.FindByID(ctx, reset.ID)
		assert.NoError(t, err)
	})
}

func TestService_FindValid(t *testing.T) {
	ctx := context.Background()
	service, _, clock := setupService(t)

	code, err := service.Issue(ctx, "user-1", TypePasswordReset)
	require.NoError(t, err)

	t.Run("matching code", func(t *testing.T) {
		found, err := service.FindValid(ctx, "user-1", code.Code, TypePasswordReset)
		require.NoError(t, err)
		assert.Equal(t, code.ID, found.ID)
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		found, err := service.FindValid(ctx, "user-1", " "+strings.ToLower(code.Code)+" ", TypePasswordReset)
		require.NoError(t, err)
		assert.Equal(t, code.ID, found.ID)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := service.FindValid(ctx, "user-1", code.Code, TypeEmailVerification)
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("other user", func(t *testing.T) {
		_, err := service.FindValid(ctx, "user-2", code.Code, TypePasswordReset)
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		clock.now = clock.now.Add(10 * time.Minute)
		defer func() { clock.now = clock.now.Add(-10 * time.Minute) }()

		_, err := service.FindValid(ctx, "user-1", code.Code, TypePasswordReset)
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	service, _, _ := setupService(t)

	code, err := service.Issue(ctx, "user-1", TypeEmailVerification)
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, code.ID))
	require.NoError(t, service.Delete(ctx, code.ID))

	_, err = service.FindValid(ctx, "user-1", code.Code, TypeEmailVerification)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCode_Live(t *testing.T) {
	now := time.Now()

	assert.True(t, (&Code{ExpiresAt: now.Add(time.Second)}).Live(now))
	assert.False(t, (&Code{ExpiresAt: now}).Live(now))
	assert.False(t, (&Code{ExpiresAt: now.Add(time.Minute), IsUsed: true}).Live(now))
}

func TestService_StoreFailure(t *testing.T) {
	service, db, _ := setupService(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = service.Issue(context.Background(), "user-1", TypeEmailVerification)
	assert.Error(t, err)

	_, err = service.FindValid(context.Background(), "user-1", "ABC123", TypeEmailVerification)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCodeNotFound)
}
