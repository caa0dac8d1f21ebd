package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeIsIdempotent(t *testing.T) {
	require.NoError(t, Initialize(true))
	require.NoError(t, Initialize(true))
	require.NotNil(t, GetLogger())
}

func TestContextHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithUser(ctx, "user-1")
	ctx = WithGame(ctx, "game-1")
	ctx = WithRoom(ctx, "room-1")
	ctx = WithCorrelationID(ctx, "corr-1")

	require.Equal(t, "user-1", ctx.Value(UserIDKey))
	require.Equal(t, "game-1", ctx.Value(GameIDKey))
	require.Equal(t, "room-1", ctx.Value(RoomIDKey))
	require.Equal(t, "corr-1", ctx.Value(CorrelationIDKey))
}

func TestLogHelpersDoNotPanicWithoutContextValues(t *testing.T) {
	require.NotPanics(t, func() {
		Info(context.Background(), "hello")
		Warn(context.Background(), "hello")
		Error(context.Background(), "hello")
	})
}
