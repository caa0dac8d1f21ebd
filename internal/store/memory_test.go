package store

import (
	"context"
	"testing"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestMemoryHotStoreQueueFIFOMatchesRedis(t *testing.T) {
	s := NewMemoryHotStore()
	ctx := context.Background()

	require.NoError(t, s.QueuePushHead(ctx, "guestQueue", "alice"))
	require.NoError(t, s.QueuePushHead(ctx, "guestQueue", "bob"))

	members, err := s.QueueMembers(ctx, "guestQueue")
	require.NoError(t, err)
	require.Equal(t, []domain.UserID{"alice", "bob"}, members)

	popped, err := s.QueuePopTwoHeads(ctx, "guestQueue")
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.UserID{"alice", "bob"}, popped)

	n, err := s.QueueLen(ctx, "guestQueue")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryHotStoreStatusExpiresAfterTTL(t *testing.T) {
	s := NewMemoryHotStore()
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, "alice", domain.StatusDisconnected, 10*time.Millisecond))
	status, err := s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDisconnected, status)

	time.Sleep(20 * time.Millisecond)
	status, err = s.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOffline, status)
}

func TestMemoryHotStoreGameRoundTrip(t *testing.T) {
	s := NewMemoryHotStore()
	ctx := context.Background()

	g := &domain.Game{ID: "g1", Status: domain.GameActive}
	require.NoError(t, s.PutGame(ctx, g))

	got, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, domain.GameActive, got.Status)

	// Mutating the returned copy must not affect the stored original.
	got.Status = domain.GameDraw
	got2, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, domain.GameActive, got2.Status)
}

func TestMemoryDurableStoreFinalizeClosesRoom(t *testing.T) {
	s := NewMemoryDurableStore()
	ctx := context.Background()

	room := &domain.Room{ID: "r1", Status: domain.RoomActive}
	game := &domain.Game{ID: "g1", RoomID: "r1", Status: domain.GameActive}
	require.NoError(t, s.CreateRoomAndGame(ctx, room, game))

	game.Status = domain.GameCompleted
	game.WinnerUserID = "alice"
	require.NoError(t, s.FinalizeGame(ctx, game, room))

	status, ok := s.RoomStatus("r1")
	require.True(t, ok)
	require.Equal(t, domain.RoomClosed, status)
}
