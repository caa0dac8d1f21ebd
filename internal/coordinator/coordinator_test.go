package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/oracle"
	"github.com/chesshub/chessd/internal/room"
	"github.com/chesshub/chessd/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeConn is a wsConnection stand-in driven purely in-process: sending a
// frame pushes it onto the inbound channel the registry's readPump drains,
// and every frame the registry writes back lands in outbound for the test
// to inspect. No real socket is opened.
type fakeConn struct {
	inbound chan []byte

	mu       sync.Mutex
	outbound []outboundFrame
	closed   bool
}

type outboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 32)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var fr outboundFrame
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil
	}
	f.mu.Lock()
	f.outbound = append(f.outbound, fr)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) send(t *testing.T, frameType string, payload any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": frameType, "payload": payload})
	require.NoError(t, err)
	f.inbound <- data
}

func (f *fakeConn) framesOfType(frameType string) []outboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outboundFrame
	for _, fr := range f.outbound {
		if fr.Type == frameType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeConn) lastOfType(t *testing.T, frameType string, timeout time.Duration) outboundFrame {
	t.Helper()
	var frames []outboundFrame
	require.Eventually(t, func() bool {
		frames = f.framesOfType(frameType)
		return len(frames) > 0
	}, timeout, 5*time.Millisecond, "expected a %s frame", frameType)
	return frames[len(frames)-1]
}

func newTestCoordinator() (*Coordinator, *store.MemoryHotStore, *store.MemoryDurableStore) {
	hot := store.NewMemoryHotStore()
	durable := store.NewMemoryDurableStore()
	c := New(hot, durable, oracle.New(), nil)
	return c, hot, durable
}

func connectUser(c *Coordinator, userID domain.UserID) *fakeConn {
	conn := newFakeConn()
	c.Registry.Register(conn, userID, c.Dispatcher.Dispatch)
	return conn
}

func gameFromFrame(t *testing.T, fr outboundFrame) *domain.Game {
	t.Helper()
	var g domain.Game
	require.NoError(t, json.Unmarshal(fr.Payload, &g))
	return &g
}

// TestSeedGuestMatchReachesCheckmate drives two guest-queued players
// through matchmaking and a four-ply fool's mate.
func TestSeedGuestMatchReachesCheckmate(t *testing.T) {
	c, _, _ := newTestCoordinator()
	alice := connectUser(c, "alice")
	bob := connectUser(c, "bob")

	alice.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	bob.send(t, "JOIN_QUEUE", map[string]any{"guest": true})

	fr := alice.lastOfType(t, "ROOM_UPDATED", time.Second)
	g := gameFromFrame(t, fr)
	require.Equal(t, domain.GameActive, g.Status)

	whiteConn, blackConn := alice, bob
	if w, _ := g.PlayerByColor(domain.ColorWhite); w.UserID != "alice" {
		whiteConn, blackConn = bob, alice
	}

	moves := []struct {
		conn     *fakeConn
		from, to string
	}{
		{whiteConn, "f2", "f3"},
		{blackConn, "e7", "e5"},
		{whiteConn, "g2", "g4"},
		{blackConn, "d8", "h4"},
	}
	for _, mv := range moves {
		mv.conn.send(t, "MAKE_MOVE", map[string]any{"gameId": string(g.ID), "from": mv.from, "to": mv.to})
		require.Eventually(t, func() bool { return len(mv.conn.framesOfType("GAME_UPDATED")) > 0 || len(mv.conn.framesOfType("ROOM_UPDATED")) > 0 }, time.Second, 5*time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	final := whiteConn.lastOfType(t, "GAME_UPDATED", time.Second)
	fg := gameFromFrame(t, final)
	require.Equal(t, domain.GameCompleted, fg.Status)
	blackPlayer, _ := fg.PlayerByColor(domain.ColorBlack)
	require.Equal(t, blackPlayer.UserID, fg.WinnerUserID)
}

// TestSeedRankedEloWindowRejectsThenMatches checks that a ranked queue
// entry outside the ELO window stays queued, and a later entrant within
// the window matches immediately.
func TestSeedRankedEloWindowRejectsThenMatches(t *testing.T) {
	c, _, durable := newTestCoordinator()

	low := domain.NewUser("low", "Low")
	low.Elo = 1500
	high := domain.NewUser("high", "High")
	high.Elo = 1700
	near := domain.NewUser("near", "Near")
	near.Elo = 1550
	require.NoError(t, durable.UpsertUser(context.Background(), low))
	require.NoError(t, durable.UpsertUser(context.Background(), high))
	require.NoError(t, durable.UpsertUser(context.Background(), near))

	lowConn := connectUser(c, "low")
	highConn := connectUser(c, "high")
	nearConn := connectUser(c, "near")

	lowConn.send(t, "JOIN_QUEUE", map[string]any{"guest": false})
	highConn.send(t, "JOIN_QUEUE", map[string]any{"guest": false})

	time.Sleep(30 * time.Millisecond)
	require.True(t, c.Room.IsQueued("low"))
	require.True(t, c.Room.IsQueued("high"))
	require.Empty(t, lowConn.framesOfType("ROOM_UPDATED"))

	nearConn.send(t, "JOIN_QUEUE", map[string]any{"guest": false})

	fr := lowConn.lastOfType(t, "ROOM_UPDATED", time.Second)
	g := gameFromFrame(t, fr)
	_, lowPlays := g.ColorOf("low")
	require.True(t, lowPlays)
	require.False(t, c.Room.IsQueued("low"))
	require.False(t, c.Room.IsQueued("near"))
	require.True(t, c.Room.IsQueued("high"))
}

// TestSeedIllegalMoveBansAfterThreeAttempts checks the 3-strikes ban path.
func TestSeedIllegalMoveBansAfterThreeAttempts(t *testing.T) {
	c, _, durable := newTestCoordinator()
	alice := connectUser(c, "alice")
	bob := connectUser(c, "bob")

	alice.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	bob.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	fr := alice.lastOfType(t, "ROOM_UPDATED", time.Second)
	g := gameFromFrame(t, fr)

	mover := alice
	if w, _ := g.PlayerByColor(domain.ColorWhite); w.UserID != "alice" {
		mover = bob
	}

	for i := 0; i < 2; i++ {
		mover.send(t, "MAKE_MOVE", map[string]any{"gameId": string(g.ID), "from": "e2", "to": "e5"})
		mover.lastOfType(t, "ILLEGAL_MOVE", time.Second)
	}
	mover.send(t, "MAKE_MOVE", map[string]any{"gameId": string(g.ID), "from": "e2", "to": "e5"})

	errFrame := mover.lastOfType(t, "ERROR", time.Second)
	require.Contains(t, string(errFrame.Payload), "Banned")

	moverID := domain.UserID("alice")
	if mover == bob {
		moverID = "bob"
	}
	u, err := durable.GetUser(context.Background(), moverID)
	require.NoError(t, err)
	require.True(t, u.Banned)
}

// TestSeedClockTimeoutEndsGame checks that an expiring clock ends the
// game via the tick scheduler without any move being played.
func TestSeedClockTimeoutEndsGame(t *testing.T) {
	c, hot, _ := newTestCoordinator()
	alice := connectUser(c, "alice")
	bob := connectUser(c, "bob")

	alice.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	bob.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	fr := alice.lastOfType(t, "ROOM_UPDATED", time.Second)
	g := gameFromFrame(t, fr)

	ctx := context.Background()
	loaded, err := hot.GetGame(ctx, g.ID)
	require.NoError(t, err)
	toMove, _ := loaded.PlayerByColor(domain.Color(oracle.New().Turn(loaded.Position)))
	loaded.SetClock(domain.Color(oracle.New().Turn(loaded.Position)), 1)
	require.NoError(t, hot.PutGame(ctx, loaded))

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(runCtx)

	final := alice.lastOfType(t, "TIME_OUT", 3*time.Second)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(final.Payload, &payload))

	ended, err := hot.GetGame(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GameCompleted, ended.Status)
	require.NotEqual(t, toMove.UserID, ended.WinnerUserID)
}

// TestSeedDisconnectGraceThenReconnect checks that a mid-game disconnect
// arms the grace timer and a rejoin before it fires restores IN_GAME.
func TestSeedDisconnectGraceThenReconnect(t *testing.T) {
	c, hot, _ := newTestCoordinator()
	c.Room.SetTimers(room.Timers{QueueTimeout: 60 * time.Second, DisconnectGrace: 200 * time.Millisecond})

	alice := connectUser(c, "alice")
	bob := connectUser(c, "bob")
	alice.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	bob.send(t, "JOIN_QUEUE", map[string]any{"guest": true})
	fr := alice.lastOfType(t, "ROOM_UPDATED", time.Second)
	g := gameFromFrame(t, fr)

	ctx := context.Background()
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		status, _ := hot.GetStatus(ctx, "alice")
		return status == domain.StatusDisconnected
	}, time.Second, 5*time.Millisecond)

	newAlice := connectUser(c, "alice")
	newAlice.send(t, "REQUEST_REJOIN", map[string]any{"gameId": string(g.ID)})
	newAlice.lastOfType(t, "REJOIN_GAME", time.Second)

	status, err := hot.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusInGame, status)

	time.Sleep(400 * time.Millisecond)
	stillActive, err := hot.GetGame(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GameActive, stillActive.Status, "grace timer must not abandon the game after rejoin")
}

// TestSeedQueueTimeoutDequeues checks that an unmatched guest is
// dequeued and notified once the queue timeout elapses.
func TestSeedQueueTimeoutDequeues(t *testing.T) {
	c, hot, _ := newTestCoordinator()
	c.Room.SetTimers(room.Timers{QueueTimeout: 50 * time.Millisecond, DisconnectGrace: 30 * time.Second})

	alice := connectUser(c, "alice")
	alice.send(t, "JOIN_QUEUE", map[string]any{"guest": true})

	alice.lastOfType(t, "QUEUE_TIMEOUT", time.Second)

	ctx := context.Background()
	status, err := hot.GetStatus(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StatusOnline, status)
	require.False(t, c.Room.IsQueued("alice"))
}
