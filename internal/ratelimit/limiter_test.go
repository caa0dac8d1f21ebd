package ratelimit

import (
	"context"
	"testing"

	"github.com/chesshub/chessd/internal/config"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitWsUser:   "3-M",
		RateLimitChatUser: "2-M",
	}
}

func TestAllowMessageEnforcesThreshold(t *testing.T) {
	l, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.True(t, l.AllowMessage(ctx, "user-1"))
	}
	require.False(t, l.AllowMessage(ctx, "user-1"))
}

func TestAllowChatIsIndependentPerUser(t *testing.T) {
	l, err := New(testConfig(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, l.AllowChat(ctx, "user-1"))
	require.True(t, l.AllowChat(ctx, "user-1"))
	require.False(t, l.AllowChat(ctx, "user-1"))
	require.True(t, l.AllowChat(ctx, "user-2"))
}
