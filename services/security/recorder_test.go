package security

import (
	"context"
	"testing"
	"time"

	"github.com/fintrac/authcore/services/logging"
	"github.com/fintrac/authcore/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecorder_RecordAndList(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(testutils.SetupTestDB(t, Models()...), time.Second, nil)

	r.Record(ctx, Event{
		UserID:    "user-1",
		EventType: NewDeviceLogin,
		IPAddress: "197.210.12.45",
		Metadata:  map[string]any{"device_id": "dev-1", "platform": "ios"},
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	})
	r.Record(ctx, Event{
		UserID:    "user-1",
		EventType: SessionInvalidated,
		Metadata:  map[string]any{"reason": "MAX_CONCURRENT_SESSIONS_EXCEEDED", "evicted_sessions": 2},
	})
	r.Record(ctx, Event{UserID: "user-2", EventType: LoginFailure})

	events, err := r.List(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, SessionInvalidated, events[0].EventType)
	assert.Equal(t, "MAX_CONCURRENT_SESSIONS_EXCEEDED", events[0].Metadata["reason"])
	assert.EqualValues(t, 2, events[0].Metadata["evicted_sessions"])
	assert.NotEmpty(t, events[0].ID)

	assert.Equal(t, NewDeviceLogin, events[1].EventType)
	assert.Equal(t, "dev-1", events[1].Metadata["device_id"])

	limited, err := r.List(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecorder_FailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	db := testutils.SetupTestDB(t)
	r := NewRecorder(db, time.Second, logging.FromZap(zap.New(core)))

	assert.NotPanics(t, func() {
		r.Record(context.Background(), Event{UserID: "user-1", EventType: PasswordChange})
	})

	entries := logs.FilterMessage("failed to record security event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "password_change", entries[0].ContextMap()["event_type"])
}
