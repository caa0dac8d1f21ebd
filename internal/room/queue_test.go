package room

import (
	"context"
	"testing"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestJoinQueueGuestFIFOMatchesPair(t *testing.T) {
	s, hot, _, game := newTestService()
	ctx := context.Background()

	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("alice", "Alice"), true))
	n, err := hot.QueueLen(ctx, guestQueueName)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("bob", "Bob"), true))

	n, err = hot.QueueLen(ctx, guestQueueName)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, game.startedRooms(), 1)

	require.False(t, s.IsQueued("alice"))
	require.False(t, s.IsQueued("bob"))
}

func TestJoinQueueRatedRejectsOutsideEloWindow(t *testing.T) {
	s, _, durable, game := newTestService()
	ctx := context.Background()

	low := domain.NewUser("low", "Low")
	low.Elo = 1500
	high := domain.NewUser("high", "High")
	high.Elo = 1700
	require.NoError(t, durable.UpsertUser(ctx, low))
	require.NoError(t, durable.UpsertUser(ctx, high))

	require.NoError(t, s.JoinQueue(ctx, low, false))
	require.NoError(t, s.JoinQueue(ctx, high, false))

	require.Empty(t, game.startedRooms())
	require.True(t, s.IsQueued("low"))
	require.True(t, s.IsQueued("high"))
}

func TestJoinQueueRatedMatchesWithinEloWindow(t *testing.T) {
	s, _, durable, game := newTestService()
	ctx := context.Background()

	a := domain.NewUser("a", "A")
	a.Elo = 1500
	b := domain.NewUser("b", "B")
	b.Elo = 1580
	require.NoError(t, durable.UpsertUser(ctx, a))
	require.NoError(t, durable.UpsertUser(ctx, b))

	require.NoError(t, s.JoinQueue(ctx, a, false))
	require.NoError(t, s.JoinQueue(ctx, b, false))

	require.Len(t, game.startedRooms(), 1)
	require.False(t, s.IsQueued("a"))
	require.False(t, s.IsQueued("b"))
}

func TestLeaveQueueRestoresOnlineStatus(t *testing.T) {
	s, hot, _, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("alice", "Alice"), true))
	require.True(t, s.IsQueued("alice"))

	require.NoError(t, s.LeaveQueue(ctx, "alice"))
	require.False(t, s.IsQueued("alice"))

	status, err := hot.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOnline, status)

	n, err := hot.QueueLen(ctx, guestQueueName)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestQueueTimeoutDequeuesAndNotifies(t *testing.T) {
	s, hot, _, _ := newTestService()
	s.timers.QueueTimeout = 5 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("alice", "Alice"), true))

	require.Eventually(t, func() bool {
		n, _ := hot.QueueLen(ctx, guestQueueName)
		return n == 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		status, _ := hot.GetStatus(ctx, "alice")
		return status == domain.StatusOnline
	}, time.Second, 5*time.Millisecond)

	require.False(t, s.IsQueued("alice"))
}

func TestQueueTimeoutDoesNotFireAfterMatch(t *testing.T) {
	s, hot, _, _ := newTestService()
	s.timers.QueueTimeout = 20 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("alice", "Alice"), true))
	require.NoError(t, s.JoinQueue(ctx, domain.NewUser("bob", "Bob"), true))

	time.Sleep(40 * time.Millisecond)

	status, err := hot.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInGame, status)
}
