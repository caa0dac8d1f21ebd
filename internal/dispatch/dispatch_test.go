package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/config"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/ratelimit"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	limiter, err := ratelimit.New(&config.Config{RateLimitWsUser: "1000-M", RateLimitChatUser: "1000-M"}, nil)
	require.NoError(t, err)
	return New(limiter, reg), reg
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	called := false
	d.Handle("MAKE_MOVE", func(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
		called = true
		return nil
	})

	d.Dispatch(context.Background(), "alice", []byte(`{"type":"MAKE_MOVE","payload":{}}`))
	require.True(t, called)
}

func TestDispatchUnknownTypeDoesNotPanic(t *testing.T) {
	d, _ := newTestDispatcher(t)
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), "alice", []byte(`{"type":"NOPE"}`))
	})
}

func TestDispatchMalformedJSONDoesNotPanic(t *testing.T) {
	d, _ := newTestDispatcher(t)
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), "alice", []byte(`not json`))
	})
}

func TestDispatchAuthorizationErrorMapsToUnauthorized(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Handle("RESIGN", func(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
		return apperr.Authorization("not your game")
	})
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), "alice", []byte(`{"type":"RESIGN"}`))
	})
}
