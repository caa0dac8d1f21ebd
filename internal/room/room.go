// Package room implements lobby creation, joining, and matchmaking. It
// never imports internal/game directly; it reaches the game service only
// through the narrow GameCoordinator interface defined here, mirroring
// the teacher's room.Room/Hub split where rooms notify their owner via a
// callback instead of holding a pointer back into it.
package room

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/mailbox"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/store"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

const inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const inviteCodeLength = 6

// GameCoordinator is the subset of the game service the room service
// drives. Defined here rather than importing internal/game so the two
// packages stay decoupled; *game.Service satisfies this implicitly.
type GameCoordinator interface {
	Start(ctx context.Context, roomID domain.RoomID) error
	Load(ctx context.Context, gameID domain.GameID, playerID domain.UserID) (*domain.Game, error)
	EnsureTicking(gameID domain.GameID)
	Abandon(ctx context.Context, gameID domain.GameID, abandonerID domain.UserID) error
}

// Timers holds the tunable durations the room service schedules against.
// Plain fields defaulted at construction, matching the teacher's
// cleanupGracePeriod field on Hub, so tests can shrink them.
type Timers struct {
	QueueTimeout    time.Duration
	DisconnectGrace time.Duration
}

func defaultTimers() Timers {
	return Timers{QueueTimeout: 60 * time.Second, DisconnectGrace: 30 * time.Second}
}

// Service implements room creation/joining and the two matchmaking
// queues described in the specification.
type Service struct {
	hot     store.HotStore
	durable store.DurableStore
	reg     *registry.Registry
	game    GameCoordinator
	timers  Timers

	rooms  *mailbox.Set
	queues *mailbox.Set

	mu               sync.Mutex
	playerRoom       map[domain.UserID]domain.RoomID
	playerGame       map[domain.UserID]domain.GameID
	inviteCodes      map[string]domain.RoomID
	queueTimers      map[domain.UserID]*time.Timer
	disconnectTimers map[domain.UserID]*time.Timer
	queued           set.Set[domain.UserID]
}

// New builds a room Service with production-default timers.
func New(hot store.HotStore, durable store.DurableStore, reg *registry.Registry, game GameCoordinator) *Service {
	return &Service{
		hot:              hot,
		durable:          durable,
		reg:              reg,
		game:             game,
		timers:           defaultTimers(),
		rooms:            mailbox.NewSet(),
		queues:           mailbox.NewSet(),
		playerRoom:       make(map[domain.UserID]domain.RoomID),
		playerGame:       make(map[domain.UserID]domain.GameID),
		inviteCodes:      make(map[string]domain.RoomID),
		queueTimers:      make(map[domain.UserID]*time.Timer),
		disconnectTimers: make(map[domain.UserID]*time.Timer),
		queued:           set.New[domain.UserID](),
	}
}

// SetTimers overrides the queue-timeout and disconnect-grace durations.
// Production callers keep the defaults; tests shrink them.
func (s *Service) SetTimers(t Timers) { s.timers = t }

func (s *Service) roomBox(id domain.RoomID) *mailbox.Mailbox { return s.rooms.For(string(id)) }
func (s *Service) queueBox(name string) *mailbox.Mailbox     { return s.queues.For(name) }

func randomInviteCode() string {
	b := make([]byte, inviteCodeLength)
	for i := range b {
		b[i] = inviteCodeAlphabet[rand.IntN(len(inviteCodeAlphabet))]
	}
	return string(b)
}

// bindRoom records that userID's active lobby is roomID, for the
// disconnect/rejoin/leave paths that need to know a socket's context
// without scanning every room.
func (s *Service) bindRoom(userID domain.UserID, roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerRoom[userID] = roomID
}

func (s *Service) unbindRoom(userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.playerRoom, userID)
}

func (s *Service) bindGame(userID domain.UserID, gameID domain.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerGame[userID] = gameID
	delete(s.playerRoom, userID)
}

func (s *Service) gameOf(userID domain.UserID) (domain.GameID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.playerGame[userID]
	return id, ok
}

func (s *Service) roomOf(userID domain.UserID) (domain.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.playerRoom[userID]
	return id, ok
}

func (s *Service) markQueued(userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued.Insert(userID)
}

func (s *Service) unmarkQueued(userID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued.Delete(userID)
}

// CreateRoom builds a new OPEN room with user as its sole seated player.
func (s *Service) CreateRoom(ctx context.Context, user *domain.User, rtype domain.RoomType, inviteCode string) (*domain.Room, error) {
	if user.Banned {
		return nil, apperr.Authorization("user is banned")
	}

	roomID := domain.RoomID(fmt.Sprintf("room-%d-%s", time.Now().UnixNano(), user.ID))

	room := &domain.Room{
		ID:        roomID,
		Type:      rtype,
		Status:    domain.RoomOpen,
		Players:   []domain.RoomPlayer{{UserID: user.ID, Color: domain.ColorUnset}},
		CreatedAt: time.Now(),
	}

	if rtype == domain.RoomPrivate {
		code := strings.ToUpper(strings.TrimSpace(inviteCode))
		s.mu.Lock()
		if code == "" {
			for {
				code = randomInviteCode()
				if _, taken := s.inviteCodes[code]; !taken {
					break
				}
			}
		} else if _, taken := s.inviteCodes[code]; taken {
			s.mu.Unlock()
			return nil, apperr.Conflict("invite code already in use")
		}
		s.inviteCodes[code] = roomID
		s.mu.Unlock()
		room.InviteCode = code
	}

	if err := s.hot.PutRoom(ctx, room); err != nil {
		return nil, apperr.Transient("persist room", err)
	}
	if err := s.hot.SetStatus(ctx, user.ID, domain.StatusWaiting, 0); err != nil {
		logging.Warn(ctx, "failed to set waiting status", zap.Error(err))
	}
	s.bindRoom(user.ID, roomID)
	metrics.ActiveRooms.Inc()

	s.reg.BroadcastToClient(user.ID, "ROOM_CREATED", room)
	return room, nil
}

// JoinRoom seats a second player, activates the room, assigns colors by
// a fair coin flip, and kicks off the game.
func (s *Service) JoinRoom(ctx context.Context, user *domain.User, roomID domain.RoomID, inviteCode string) error {
	if user.Banned {
		return apperr.Authorization("user is banned")
	}

	box := s.roomBox(roomID)
	return box.Do(func() error {
		room, err := s.hot.GetRoom(ctx, roomID)
		if err != nil {
			if err == store.ErrNotFound {
				return apperr.NotFound("room not found")
			}
			return apperr.Transient("load room", err)
		}
		if room.Status != domain.RoomOpen {
			return apperr.Conflict("room is not open")
		}
		if room.HasPlayer(user.ID) {
			return apperr.Conflict("already in this room")
		}
		if room.Full() {
			return apperr.Conflict("room is full")
		}
		if room.Type == domain.RoomPrivate && strings.ToUpper(strings.TrimSpace(inviteCode)) != room.InviteCode {
			return apperr.Authorization("invite code mismatch")
		}

		room.Players = append(room.Players, domain.RoomPlayer{UserID: user.ID, Color: domain.ColorUnset})
		room.Status = domain.RoomActive
		assignColors(room)

		if err := s.hot.PutRoom(ctx, room); err != nil {
			return apperr.Transient("persist room", err)
		}
		for _, p := range room.Players {
			if err := s.hot.SetStatus(ctx, p.UserID, domain.StatusInGame, 0); err != nil {
				logging.Warn(ctx, "failed to set in-game status", zap.Error(err))
			}
			s.bindRoom(p.UserID, roomID)
		}
		s.releaseInviteCode(room)

		s.reg.BroadcastToRoom(room)
		return s.game.Start(ctx, roomID)
	})
}

// LeaveRoom removes user from a still-open room, closing it if it's left
// empty.
func (s *Service) LeaveRoom(ctx context.Context, userID domain.UserID, roomID domain.RoomID) error {
	box := s.roomBox(roomID)
	return box.Do(func() error {
		room, err := s.hot.GetRoom(ctx, roomID)
		if err != nil {
			if err == store.ErrNotFound {
				return apperr.NotFound("room not found")
			}
			return apperr.Transient("load room", err)
		}
		if !room.HasPlayer(userID) {
			return apperr.Conflict("not a member of this room")
		}

		remaining := room.Players[:0]
		for _, p := range room.Players {
			if p.UserID != userID {
				remaining = append(remaining, p)
			}
		}
		room.Players = remaining

		if len(room.Players) == 0 {
			room.Status = domain.RoomClosed
			s.releaseInviteCode(room)
			if err := s.hot.DeleteRoom(ctx, roomID); err != nil {
				return apperr.Transient("delete room", err)
			}
			metrics.ActiveRooms.Dec()
		} else if err := s.hot.PutRoom(ctx, room); err != nil {
			return apperr.Transient("persist room", err)
		}

		s.unbindRoom(userID)
		if err := s.hot.SetStatus(ctx, userID, domain.StatusOnline, 0); err != nil {
			logging.Warn(ctx, "failed to restore online status", zap.Error(err))
		}
		s.reg.BroadcastToClient(userID, "LEAVE_ROOM", room)
		if len(room.Players) > 0 {
			s.reg.BroadcastToRoom(room)
		}
		return nil
	})
}

// releaseInviteCode frees a private room's invite code once it leaves
// the OPEN state (activated or closed).
func (s *Service) releaseInviteCode(room *domain.Room) {
	if room.Type != domain.RoomPrivate || room.InviteCode == "" {
		return
	}
	s.mu.Lock()
	delete(s.inviteCodes, room.InviteCode)
	s.mu.Unlock()
}

// assignColors gives the two seated players white/black by a fair coin
// flip rather than always seating the creator white.
func assignColors(room *domain.Room) {
	if len(room.Players) != 2 {
		return
	}
	first, second := domain.ColorWhite, domain.ColorBlack
	if rand.IntN(2) == 1 {
		first, second = second, first
	}
	room.Players[0].Color = first
	room.Players[1].Color = second
}
