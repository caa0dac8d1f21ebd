package store

import (
	"context"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/domain"
)

// MemoryHotStore is an in-process HotStore used by service-level tests
// that exercise room/game/chat orchestration without a Redis dependency.
// It implements the same atomic-pop semantics as RedisHotStore and honors
// status TTLs; its invalid-move counters, draw offers and
// last-game pointers never expire.
type MemoryHotStore struct {
	mu sync.Mutex

	games map[domain.GameID]*domain.Game
	rooms map[domain.RoomID]*domain.Room

	queues map[string][]domain.UserID

	statuses    map[domain.UserID]domain.UserStatus
	statusExp   map[domain.UserID]time.Time
	invalidMvs  map[domain.UserID]int64
	drawOffers  map[string]struct{}
	lastGames   map[domain.UserID]domain.GameID
}

var (
	_ HotStore     = (*MemoryHotStore)(nil)
	_ DurableStore = (*MemoryDurableStore)(nil)
)

// NewMemoryHotStore returns an empty MemoryHotStore.
func NewMemoryHotStore() *MemoryHotStore {
	return &MemoryHotStore{
		games:      make(map[domain.GameID]*domain.Game),
		rooms:      make(map[domain.RoomID]*domain.Room),
		queues:     make(map[string][]domain.UserID),
		statuses:   make(map[domain.UserID]domain.UserStatus),
		statusExp:  make(map[domain.UserID]time.Time),
		invalidMvs: make(map[domain.UserID]int64),
		drawOffers: make(map[string]struct{}),
		lastGames:  make(map[domain.UserID]domain.GameID),
	}
}

func cloneGame(g *domain.Game) *domain.Game {
	cp := *g
	cp.MoveHistory = append([]domain.MoveRecord(nil), g.MoveHistory...)
	cp.Chat = append([]domain.ChatEntry(nil), g.Chat...)
	return &cp
}

func cloneRoom(r *domain.Room) *domain.Room {
	cp := *r
	cp.Players = append([]domain.RoomPlayer(nil), r.Players...)
	return &cp
}

func (m *MemoryHotStore) GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGame(g), nil
}

func (m *MemoryHotStore) PutGame(ctx context.Context, g *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = cloneGame(g)
	return nil
}

func (m *MemoryHotStore) DeleteGame(ctx context.Context, id domain.GameID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
	return nil
}

func (m *MemoryHotStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRoom(r), nil
}

func (m *MemoryHotStore) PutRoom(ctx context.Context, r *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = cloneRoom(r)
	return nil
}

func (m *MemoryHotStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	return nil
}

func (m *MemoryHotStore) QueuePushHead(ctx context.Context, queue string, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append([]domain.UserID{userID}, m.queues[queue]...)
	return nil
}

// QueuePopTwoHeads pops from the tail (oldest-first), matching the FIFO
// behavior of RedisHotStore's RPOP-based Lua script.
func (m *MemoryHotStore) QueuePopTwoHeads(ctx context.Context, queue string) ([]domain.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[queue]
	var out []domain.UserID
	for len(out) < 2 && len(q) > 0 {
		last := len(q) - 1
		out = append(out, q[last])
		q = q[:last]
	}
	m.queues[queue] = q
	return out, nil
}

func (m *MemoryHotStore) QueueRemove(ctx context.Context, queue string, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[queue]
	out := q[:0]
	for _, u := range q {
		if u != userID {
			out = append(out, u)
		}
	}
	m.queues[queue] = out
	return nil
}

func (m *MemoryHotStore) QueueMembers(ctx context.Context, queue string) ([]domain.UserID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Returned oldest-first to mirror LRANGE over a list built with
	// head-pushes and tail-pops.
	q := m.queues[queue]
	out := make([]domain.UserID, len(q))
	for i, u := range q {
		out[len(q)-1-i] = u
	}
	return out, nil
}

func (m *MemoryHotStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[queue])), nil
}

func (m *MemoryHotStore) SetStatus(ctx context.Context, id domain.UserID, status domain.UserStatus, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = status
	if ttl > 0 {
		m.statusExp[id] = time.Now().Add(ttl)
	} else {
		delete(m.statusExp, id)
	}
	return nil
}

func (m *MemoryHotStore) GetStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.statusExp[id]; ok && time.Now().After(exp) {
		delete(m.statuses, id)
		delete(m.statusExp, id)
	}
	s, ok := m.statuses[id]
	if !ok {
		return domain.StatusOffline, nil
	}
	return s, nil
}

func (m *MemoryHotStore) IncrInvalidMoves(ctx context.Context, id domain.UserID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidMvs[id]++
	return m.invalidMvs[id], nil
}

func (m *MemoryHotStore) ClearInvalidMoves(ctx context.Context, id domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invalidMvs, id)
	return nil
}

func (m *MemoryHotStore) SetDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drawOffers[drawOfferKey(gameID, from)] = struct{}{}
	return nil
}

func (m *MemoryHotStore) HasDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.drawOffers[drawOfferKey(gameID, from)]
	return ok, nil
}

func (m *MemoryHotStore) ClearDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drawOffers, drawOfferKey(gameID, from))
	return nil
}

func (m *MemoryHotStore) SetLastGame(ctx context.Context, id domain.UserID, gameID domain.GameID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastGames[id] = gameID
	return nil
}

func (m *MemoryHotStore) Ping(ctx context.Context) error { return nil }

// MemoryDurableStore is an in-process DurableStore used by tests. It
// tracks the same lifecycle-boundary writes the GORM implementation does.
type MemoryDurableStore struct {
	mu    sync.Mutex
	users map[domain.UserID]*domain.User
	games map[domain.GameID]*domain.Game
	rooms map[domain.RoomID]*domain.Room
}

// NewMemoryDurableStore returns an empty MemoryDurableStore.
func NewMemoryDurableStore() *MemoryDurableStore {
	return &MemoryDurableStore{
		users: make(map[domain.UserID]*domain.User),
		games: make(map[domain.GameID]*domain.Game),
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (m *MemoryDurableStore) UpsertUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryDurableStore) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryDurableStore) SetUserBanned(ctx context.Context, id domain.UserID, banned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, Elo: 1500}
		m.users[id] = u
	}
	u.Banned = banned
	return nil
}

func (m *MemoryDurableStore) CreateRoomAndGame(ctx context.Context, room *domain.Room, game *domain.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = cloneRoom(room)
	m.games[game.ID] = cloneGame(game)
	return nil
}

func (m *MemoryDurableStore) FinalizeGame(ctx context.Context, game *domain.Game, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[game.ID] = cloneGame(game)
	if r, ok := m.rooms[room.ID]; ok {
		r.Status = domain.RoomClosed
	} else {
		m.rooms[room.ID] = &domain.Room{ID: room.ID, Status: domain.RoomClosed}
	}
	return nil
}

func (m *MemoryDurableStore) GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGame(g), nil
}

func (m *MemoryDurableStore) Ping(ctx context.Context) error { return nil }

// RoomStatus exposes the persisted room status for assertions in tests.
func (m *MemoryDurableStore) RoomStatus(id domain.RoomID) (domain.RoomStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return "", false
	}
	return r.Status, true
}

// UserBanned exposes the persisted ban flag for assertions in tests.
func (m *MemoryDurableStore) UserBanned(id domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return ok && u.Banned
}
