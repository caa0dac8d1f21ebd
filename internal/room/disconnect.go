package room

import (
	"context"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/store"
	"go.uber.org/zap"
)

// HandleDisconnect is wired as registry.Registry.OnDisconnect. A user
// with no room/game binding is just pulled from the queues; one mid-game
// instead gets a grace window before the game is declared abandoned.
//
// Per the redesign applied here, the 30-second time.AfterFunc task below
// is the sole source of truth for the abandonment decision: it re-checks
// status itself rather than trusting the hot-store DISCONNECTED TTL to
// have (or not have) expired.
func (s *Service) HandleDisconnect(userID domain.UserID) {
	ctx := context.Background()

	if s.IsQueued(userID) {
		if err := s.LeaveQueue(ctx, userID); err != nil {
			logging.Warn(ctx, "failed to clear queue membership on disconnect", zap.Error(err))
		}
		if err := s.hot.SetStatus(ctx, userID, domain.StatusOffline, 0); err != nil {
			logging.Warn(ctx, "failed to set offline status", zap.Error(err))
		}
		return
	}

	gameID, inGame := s.gameOf(userID)
	roomID, inRoom := s.roomOf(userID)
	if !inGame && !inRoom {
		if err := s.hot.SetStatus(ctx, userID, domain.StatusOffline, 0); err != nil {
			logging.Warn(ctx, "failed to set offline status", zap.Error(err))
		}
		return
	}

	if err := s.hot.SetStatus(ctx, userID, domain.StatusDisconnected, store.DisconnectedStatusTTL); err != nil {
		logging.Error(ctx, "failed to mark disconnected", zap.Error(err))
	}
	s.armDisconnectGrace(userID, gameID, roomID)
}

func (s *Service) armDisconnectGrace(userID domain.UserID, gameID domain.GameID, roomID domain.RoomID) {
	s.mu.Lock()
	if existing, ok := s.disconnectTimers[userID]; ok {
		existing.Stop()
	}
	s.mu.Unlock()

	timer := time.AfterFunc(s.timers.DisconnectGrace, func() {
		s.onDisconnectGraceExpired(userID, gameID, roomID)
	})

	s.mu.Lock()
	s.disconnectTimers[userID] = timer
	s.mu.Unlock()
}

func (s *Service) onDisconnectGraceExpired(userID domain.UserID, gameID domain.GameID, roomID domain.RoomID) {
	ctx := context.Background()

	s.mu.Lock()
	delete(s.disconnectTimers, userID)
	s.mu.Unlock()

	status, err := s.hot.GetStatus(ctx, userID)
	if err != nil {
		logging.Error(ctx, "failed to read status at grace expiry", zap.Error(err))
		return
	}
	if status != domain.StatusDisconnected {
		return
	}

	if gameID != "" {
		s.abandonGame(ctx, gameID, userID)
		return
	}
	if roomID != "" {
		if err := s.LeaveRoom(ctx, userID, roomID); err != nil {
			logging.Warn(ctx, "failed to leave abandoned room", zap.Error(err))
		}
	}
}

// abandonGame hands the terminal ABANDONED transition to the game
// service's Abandon entry point, which runs it inside the game's own
// mailbox so it can't race a concurrent move or clock tick on the same
// game. The room service only clears its own player/room bindings here.
func (s *Service) abandonGame(ctx context.Context, gameID domain.GameID, abandonerID domain.UserID) {
	if err := s.game.Abandon(ctx, gameID, abandonerID); err != nil {
		logging.Error(ctx, "failed to abandon game on disconnect grace expiry", zap.Error(err))
		return
	}

	s.mu.Lock()
	for userID, g := range s.playerGame {
		if g == gameID {
			delete(s.playerGame, userID)
		}
	}
	s.mu.Unlock()
	s.unbindRoom(abandonerID)
}

// HandleRejoin re-binds a reconnecting player's socket to their active
// game, cancels the disconnect grace timer, and restores IN_GAME status.
func (s *Service) HandleRejoin(ctx context.Context, userID domain.UserID, gameID domain.GameID) (*domain.Game, error) {
	game, err := s.game.Load(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	if game.Status != domain.GameActive {
		return nil, apperr.Conflict("game is not active")
	}

	s.mu.Lock()
	if timer, ok := s.disconnectTimers[userID]; ok {
		timer.Stop()
		delete(s.disconnectTimers, userID)
	}
	s.mu.Unlock()

	s.bindGame(userID, gameID)
	if err := s.hot.SetStatus(ctx, userID, domain.StatusInGame, 0); err != nil {
		logging.Warn(ctx, "failed to restore in-game status on rejoin", zap.Error(err))
	}
	s.game.EnsureTicking(gameID)

	s.reg.BroadcastToClient(userID, "REJOIN_GAME", game)
	return game, nil
}

// AttachRegistry wires OnDisconnect so the connection registry drives
// disconnect handling without importing internal/room itself.
func AttachRegistry(reg *registry.Registry, svc *Service) {
	reg.OnDisconnect = svc.HandleDisconnect
}
