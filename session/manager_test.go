package session

import (
	"context"
	"testing"
	"time"

	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupManager(t *testing.T, maxPerUser int) (*Manager, *testClock) {
	t.Helper()
	db := testutils.SetupTestDB(t, Models()...)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(db, maxPerUser, time.Second, nil)
	m.SetClock(clock.Now)
	return m, clock
}

func createSession(t *testing.T, m *Manager, clock *testClock, userID, deviceID, jti string) *AuthSession {
	t.Helper()
	s, err := m.Create(context.Background(), CreateParams{
		UserID:     userID,
		DeviceID:   deviceID,
		RefreshJTI: jti,
		ExpiresAt:  clock.Now().Add(7 * 24 * time.Hour),
		IPAddress:  "203.0.113.10",
		UserAgent:  "fintrac-ios/2.1",
	})
	require.NoError(t, err)
	clock.Advance(time.Second)
	return s
}

func TestManager_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)

	created := createSession(t, m, clock, "user-1", "device-1", "jti-1")

	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	found, err := m.GetActiveByJTI(ctx, "jti-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "203.0.113.10", found.IPAddress)
	require.NotNil(t, found.RefreshJTI)
	assert.Equal(t, "jti-1", *found.RefreshJTI)

	_, err = m.GetActiveByJTI(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	byID, err := m.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "device-1", byID.DeviceID)
}

func TestManager_ExpiredSessionIsNotActive(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	createSession(t, m, clock, "user-1", "device-1", "jti-1")

	clock.Advance(8 * 24 * time.Hour)

	_, err := m.GetActiveByJTI(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	count, err := m.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManager_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	s := createSession(t, m, clock, "user-1", "device-1", "jti-1")

	require.NoError(t, m.Revoke(ctx, s))
	require.NoError(t, m.Revoke(ctx, s))

	assert.False(t, s.IsActive)
	assert.Nil(t, s.RefreshJTI)

	stored, err := m.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.RefreshJTI)
	assert.NotNil(t, stored.LastUsedAt)

	_, err = m.GetActiveByJTI(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_RevokeByDevice(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)

	first := createSession(t, m, clock, "user-1", "device-1", "jti-1")
	other := createSession(t, m, clock, "user-1", "device-2", "jti-2")

	n, err := m.RevokeByDevice(ctx, "user-1", "device-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	second := createSession(t, m, clock, "user-1", "device-1", "jti-3")

	stored, err := m.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	sessions, err := m.ListActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.ElementsMatch(t, []string{second.ID, other.ID}, []string{sessions[0].ID, sessions[1].ID})
}

func TestManager_EnforceCapEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 3)

	oldest := createSession(t, m, clock, "user-1", "device-1", "jti-1")
	createSession(t, m, clock, "user-1", "device-2", "jti-2")
	createSession(t, m, clock, "user-1", "device-3", "jti-3")
	createSession(t, m, clock, "user-2", "device-9", "jti-9")

	evicted, err := m.EnforceCap(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{oldest.ID}, evicted)

	createSession(t, m, clock, "user-1", "device-4", "jti-4")

	count, err := m.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	stored, err := m.GetByID(ctx, oldest.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	other, err := m.CountActive(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestManager_EnforceCapBelowLimit(t *testing.T) {
	m, clock := setupManager(t, 3)
	createSession(t, m, clock, "user-1", "device-1", "jti-1")

	evicted, err := m.EnforceCap(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Empty(t, evicted)
}

func TestManager_RevokeOldestMoreThanActive(t *testing.T) {
	m, clock := setupManager(t, 3)
	createSession(t, m, clock, "user-1", "device-1", "jti-1")

	ids, err := m.RevokeOldest(context.Background(), "user-1", 5)

	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestManager_UpdateJTI(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	s := createSession(t, m, clock, "user-1", "device-1", "jti-old")
	newExpiry := clock.Now().Add(14 * 24 * time.Hour)

	require.NoError(t, m.UpdateJTI(ctx, s, "jti-new", newExpiry))

	_, err := m.GetActiveByJTI(ctx, "jti-old")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	found, err := m.GetActiveByJTI(ctx, "jti-new")
	require.NoError(t, err)
	assert.Equal(t, s.ID, found.ID)
	assert.WithinDuration(t, newExpiry, found.ExpiresAt, time.Second)
}

func TestManager_TouchAndTouchActive(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	s := createSession(t, m, clock, "user-1", "device-1", "jti-1")

	require.NoError(t, m.Touch(ctx, s))
	require.NotNil(t, s.LastUsedAt)

	active, err := m.TouchActive(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, m.Revoke(ctx, s))

	active, err = m.TouchActive(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestManager_RevokeForUser(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	s := createSession(t, m, clock, "user-1", "device-1", "jti-1")

	_, err := m.RevokeForUser(ctx, "user-2", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	revoked, err := m.RevokeForUser(ctx, "user-1", s.ID)
	require.NoError(t, err)
	require.NotNil(t, revoked.RefreshJTI)
	assert.Equal(t, "jti-1", *revoked.RefreshJTI)

	_, err = m.RevokeForUser(ctx, "user-1", s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_RevokeAll(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	createSession(t, m, clock, "user-1", "device-1", "jti-1")
	createSession(t, m, clock, "user-1", "device-2", "jti-2")
	createSession(t, m, clock, "user-2", "device-3", "jti-3")

	revoked, err := m.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, revoked, 2)

	var jtis []string
	for _, s := range revoked {
		require.NotNil(t, s.RefreshJTI)
		jtis = append(jtis, *s.RefreshJTI)
	}
	assert.ElementsMatch(t, []string{"jti-1", "jti-2"}, jtis)

	count, err := m.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = m.CountActive(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	revoked, err = m.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, revoked)
}

func TestManager_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	m, clock := setupManager(t, 5)
	expiring := createSession(t, m, clock, "user-1", "device-1", "jti-1")

	_, err := m.Create(ctx, CreateParams{
		UserID:     "user-1",
		DeviceID:   "device-2",
		RefreshJTI: "jti-2",
		ExpiresAt:  clock.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)

	n, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := m.GetByID(ctx, expiring.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Nil(t, stored.RefreshJTI)
}

func TestManager_StoreFailure(t *testing.T) {
	m, _ := setupManager(t, 5)
	sqlDB, err := m.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = m.GetActiveByJTI(context.Background(), "jti-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_CleanupWorkerStops(t *testing.T) {
	m, _ := setupManager(t, 5)
	ctx, cancel := context.WithCancel(context.Background())

	m.StartCleanupWorker(ctx, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	cancel()
}
