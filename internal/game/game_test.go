package game

import (
	"context"
	"testing"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/oracle"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestRoom() *domain.Room {
	return &domain.Room{
		ID:     "room-1",
		Type:   domain.RoomPublic,
		Status: domain.RoomActive,
		Players: []domain.RoomPlayer{
			{UserID: "alice", Color: domain.ColorWhite},
			{UserID: "bob", Color: domain.ColorBlack},
		},
	}
}

func newTestService(t *testing.T) (*Service, *store.MemoryHotStore, *store.MemoryDurableStore) {
	t.Helper()
	hot := store.NewMemoryHotStore()
	durable := store.NewMemoryDurableStore()
	svc := New(hot, durable, oracle.New(), registry.New(), nil)
	require.NoError(t, hot.PutRoom(context.Background(), newTestRoom()))
	return svc, hot, durable
}

func TestStartCreatesActiveGame(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, "room-1"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameActive, g.Status)
	require.Equal(t, oracle.InitialPosition, oracle.Position(g.Position))
	require.Empty(t, g.MoveHistory)
	require.Equal(t, domain.DefaultTimeControl.InitialSeconds, g.ClockWhite)
	require.Equal(t, domain.DefaultTimeControl.InitialSeconds, g.ClockBlack)
}

func TestStartRejectsWhenGameAlreadyActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))
	require.Error(t, svc.Start(ctx, "room-1"))
}

func TestMakeMoveAppliesLegalMove(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	require.NoError(t, svc.MakeMove(ctx, "game-room-1", "alice", oracle.Move{From: "e2", To: "e4"}))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Len(t, g.MoveHistory, 1)
	require.Equal(t, "e2", g.MoveHistory[0].From)
}

func TestMakeMoveRejectsOutOfTurn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	err := svc.MakeMove(ctx, "game-room-1", "bob", oracle.Move{From: "e7", To: "e5"})
	require.Error(t, err)
}

func TestMakeMoveIllegalBansAfterThreeAttempts(t *testing.T) {
	svc, _, durable := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.MakeMove(ctx, "game-room-1", "alice", oracle.Move{From: "e2", To: "e5"}))
	}
	require.False(t, durable.UserBanned("alice"))

	require.NoError(t, svc.MakeMove(ctx, "game-room-1", "alice", oracle.Move{From: "e2", To: "e5"}))
	require.True(t, durable.UserBanned("alice"))
}

func TestMakeMoveCheckmateCompletesGame(t *testing.T) {
	svc, hot, durable := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	moves := []struct {
		mover domain.UserID
		from  string
		to    string
	}{
		{"alice", "f2", "f3"},
		{"bob", "e7", "e5"},
		{"alice", "g2", "g4"},
		{"bob", "d8", "h4"},
	}
	for _, mv := range moves {
		require.NoError(t, svc.MakeMove(ctx, "game-room-1", mv.mover, oracle.Move{From: mv.from, To: mv.to}))
	}

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameCompleted, g.Status)
	require.Equal(t, domain.UserID("bob"), g.WinnerUserID)

	roomStatus, ok := durable.RoomStatus("room-1")
	require.True(t, ok)
	require.Equal(t, domain.RoomClosed, roomStatus)

	_, err = hot.GetRoom(ctx, "room-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetLegalMovesReturnsEmptyForWrongTurn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))
	require.NoError(t, svc.GetLegalMoves(ctx, "game-room-1", "bob", "e7"))
}

func TestResignEndsGameInOpponentsFavor(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	require.NoError(t, svc.Resign(ctx, "game-room-1", "alice"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameResigned, g.Status)
	require.Equal(t, domain.UserID("bob"), g.WinnerUserID)
}

func TestResignRejectsNonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))
	require.Error(t, svc.Resign(ctx, "game-room-1", "mallory"))
}

func TestDrawOfferAcceptEndsGameInDraw(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	require.NoError(t, svc.OfferDraw(ctx, "game-room-1", "alice"))
	require.NoError(t, svc.AcceptDraw(ctx, "game-room-1", "bob"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameDraw, g.Status)
}

func TestAcceptDrawRejectsWithNoOffer(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))
	require.Error(t, svc.AcceptDraw(ctx, "game-room-1", "bob"))
}

func TestDeclineDrawClearsOfferWithoutEndingGame(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	require.NoError(t, svc.OfferDraw(ctx, "game-room-1", "alice"))
	require.NoError(t, svc.DeclineDraw(ctx, "game-room-1", "bob"))
	require.Error(t, svc.AcceptDraw(ctx, "game-room-1", "bob"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameActive, g.Status)
}

func TestTickDecrementsClockAndBroadcastsUpdate(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	require.NoError(t, svc.Tick(ctx, "game-room-1"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultTimeControl.InitialSeconds-1, g.ClockWhite)
	require.Equal(t, domain.DefaultTimeControl.InitialSeconds, g.ClockBlack)
}

func TestTickTimeoutCompletesGame(t *testing.T) {
	svc, hot, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	g, err := hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	g.SetClock(domain.ColorWhite, 1)
	require.NoError(t, hot.PutGame(ctx, g))

	require.NoError(t, svc.Tick(ctx, "game-room-1"))

	g, err = hot.GetGame(ctx, "game-room-1")
	require.NoError(t, err)
	require.Equal(t, domain.GameCompleted, g.Status)
	require.Equal(t, domain.UserID("bob"), g.WinnerUserID)
}

func TestHandleTimeoutIsNoopWhenGameAlreadyTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))
	require.NoError(t, svc.Resign(ctx, "game-room-1", "alice"))

	require.NoError(t, svc.HandleTimeout(ctx, "game-room-1", domain.ColorBlack))
}

func TestLoadReturnsGameForParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	g, err := svc.Load(ctx, "game-room-1", "bob")
	require.NoError(t, err)
	require.Equal(t, domain.GameID("game-room-1"), g.ID)
}

func TestLoadRejectsNonParticipant(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx, "room-1"))

	_, err := svc.Load(ctx, "game-room-1", "mallory")
	require.Error(t, err)
}
