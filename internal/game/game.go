// Package game implements the authoritative per-game state machine: move
// application via the rules oracle, draw offers, resignation, and the
// terminal transitions that persist and close out a game.
package game

import (
	"context"
	"fmt"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/mailbox"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/chesshub/chessd/internal/oracle"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/store"
	"go.uber.org/zap"
)

const maxInvalidMoves = 3

// TickScheduler is the subset of the tick package's Scheduler the game
// service needs; defined here (rather than importing internal/tick) so
// the two packages can reference each other's behavior without a cycle.
type TickScheduler interface {
	Add(gameID domain.GameID)
	Remove(gameID domain.GameID)
}

// Observer, if set, is notified after every successful game mutation so
// the bot controller can react without the game package depending on it.
type Observer func(ctx context.Context, game *domain.Game)

// Service is the authoritative game engine.
type Service struct {
	hot      store.HotStore
	durable  store.DurableStore
	oracle   oracle.Oracle
	reg      *registry.Registry
	mailboxes *mailbox.Set
	ticker   TickScheduler
	observer Observer
}

// New builds a game Service. ticker may be nil in tests that do not
// exercise clock behavior.
func New(hot store.HotStore, durable store.DurableStore, orc oracle.Oracle, reg *registry.Registry, ticker TickScheduler) *Service {
	return &Service{
		hot:       hot,
		durable:   durable,
		oracle:    orc,
		reg:       reg,
		mailboxes: mailbox.NewSet(),
		ticker:    ticker,
	}
}

// Mailboxes exposes the per-game serialization set so sibling services
// that also mutate a game record (namely internal/chat) can route their
// writes through the same single-writer mailbox per gameID, rather than
// racing the game service's own moves and clock ticks with a second,
// independent mailbox over the same hot-store record.
func (s *Service) Mailboxes() *mailbox.Set { return s.mailboxes }

// SetObserver installs the hook invoked after every mutation (wired by the
// coordinator to the bot controller).
func (s *Service) SetObserver(obs Observer) { s.observer = obs }

// EnsureTicking re-adds gameID to the tick scheduler if it isn't already
// there. Idempotent; used by the room service's rejoin path, since a
// reconnecting player's game may have fallen off the scheduler while they
// were disconnected.
func (s *Service) EnsureTicking(gameID domain.GameID) {
	if s.ticker != nil {
		s.ticker.Add(gameID)
	}
}

func (s *Service) box(gameID domain.GameID) *mailbox.Mailbox {
	return s.mailboxes.For(string(gameID))
}

// Start creates a new ACTIVE game for an ACTIVE, fully-seated room.
func (s *Service) Start(ctx context.Context, roomID domain.RoomID) error {
	room, err := s.hot.GetRoom(ctx, roomID)
	if err != nil {
		if err == store.ErrNotFound {
			return apperr.NotFound("room not found")
		}
		return apperr.Transient("load room", err)
	}
	if room.Status != domain.RoomActive || len(room.Players) != 2 {
		return apperr.Conflict("room is not ready to start a game")
	}

	gameID := domain.GameID(fmt.Sprintf("game-%s", roomID))
	box := s.box(gameID)
	return box.Do(func() error {
		if existing, err := s.hot.GetGame(ctx, gameID); err == nil && existing.Status == domain.GameActive {
			return apperr.Conflict("a game is already active for this room")
		}

		var players [2]domain.GamePlayer
		for i, p := range room.Players {
			players[i] = domain.GamePlayer{UserID: p.UserID, Color: p.Color}
		}

		g := &domain.Game{
			ID:          gameID,
			RoomID:      roomID,
			Position:    oracle.InitialPosition,
			TimeControl: domain.DefaultTimeControl,
			ClockWhite:  domain.DefaultTimeControl.InitialSeconds,
			ClockBlack:  domain.DefaultTimeControl.InitialSeconds,
			Status:      domain.GameActive,
			Players:     players,
			CreatedAt:   time.Now(),
		}

		if err := s.durable.CreateRoomAndGame(ctx, room, g); err != nil {
			return apperr.Transient("persist new game", err)
		}
		if err := s.hot.PutGame(ctx, g); err != nil {
			return apperr.Transient("cache new game", err)
		}
		for _, p := range g.Players {
			s.hot.ClearInvalidMoves(ctx, p.UserID)
		}

		if s.ticker != nil {
			s.ticker.Add(gameID)
		}
		metrics.ActiveGames.Inc()

		for _, p := range g.Players {
			s.reg.BroadcastToClient(p.UserID, "ROOM_UPDATED", g)
		}
		s.notify(ctx, g)
		return nil
	})
}

// MakeMove validates and applies a move on behalf of playerID.
func (s *Service) MakeMove(ctx context.Context, gameID domain.GameID, playerID domain.UserID, mv oracle.Move) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			return apperr.NotFound("game not found")
		}
		if g.Status != domain.GameActive {
			return apperr.Conflict("game is not active")
		}
		color, ok := g.ColorOf(playerID)
		if !ok {
			return apperr.Authorization("not a player in this game")
		}
		if s.oracle.Turn(g.Position) != oracle.Color(color) {
			return apperr.RuleViolation("not your turn")
		}

		res, err := s.oracle.ApplyMove(g.Position, mv)
		if err != nil {
			return s.handleIllegalMove(ctx, g, playerID)
		}

		metrics.MovesProcessed.WithLabelValues("accepted").Inc()

		g.Position = res.Position
		g.MoveHistory = append(g.MoveHistory, domain.MoveRecord{From: mv.From, To: mv.To, Promotion: mv.Promotion, SAN: res.SAN})
		g.SetClock(color, g.ClockFor(color)+g.TimeControl.IncrementSeconds)

		if res.Outcome.Terminal {
			if res.Outcome.Checkmate {
				g.Status = domain.GameCompleted
				winner, _ := g.PlayerByColor(domain.Color(res.Outcome.WinnerColor))
				g.WinnerUserID = winner.UserID
			} else {
				g.Status = domain.GameDraw
			}
			if err := s.finalize(ctx, g); err != nil {
				return err
			}
			s.reg.BroadcastToGame(g, "GAME_UPDATED", g)
			return nil
		}

		if err := s.hot.PutGame(ctx, g); err != nil {
			return apperr.Transient("save game", err)
		}
		s.reg.BroadcastToGame(g, "GAME_UPDATED", g)
		s.notify(ctx, g)
		return nil
	})
}

func (s *Service) handleIllegalMove(ctx context.Context, g *domain.Game, playerID domain.UserID) error {
	metrics.MovesProcessed.WithLabelValues("rejected").Inc()
	metrics.IllegalMoves.Inc()

	count, err := s.hot.IncrInvalidMoves(ctx, playerID)
	if err != nil {
		logging.Error(ctx, "failed to track invalid move count", zap.Error(err))
	}

	if count >= maxInvalidMoves {
		s.durable.SetUserBanned(ctx, playerID, true)
		s.reg.BroadcastToClient(playerID, "ERROR", map[string]string{"message": "Banned for Illegal moves."})
		return nil
	}

	s.reg.BroadcastToClient(playerID, "ILLEGAL_MOVE", map[string]any{"attempts": count})
	return nil
}

// GetLegalMoves returns the destinations for the piece on square if it
// belongs to playerID and it is their turn.
func (s *Service) GetLegalMoves(ctx context.Context, gameID domain.GameID, playerID domain.UserID, square string) error {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return apperr.NotFound("game not found")
	}
	color, ok := g.ColorOf(playerID)
	if !ok || g.Status != domain.GameActive || s.oracle.Turn(g.Position) != oracle.Color(color) {
		s.reg.BroadcastToClient(playerID, "LEGAL_MOVES_UPDATE", map[string]any{"square": square, "moves": []string{}})
		return nil
	}

	moves := s.oracle.LegalDestinations(g.Position, square)
	s.reg.BroadcastToClient(playerID, "LEGAL_MOVES_UPDATE", map[string]any{"square": square, "moves": moves})
	return nil
}

// Resign ends the game with playerID's opponent as the winner.
func (s *Service) Resign(ctx context.Context, gameID domain.GameID, playerID domain.UserID) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			return apperr.NotFound("game not found")
		}
		if g.Status != domain.GameActive {
			return apperr.Conflict("game is not active")
		}
		resigner, ok := g.ColorOf(playerID)
		if !ok {
			return apperr.Authorization("not a player in this game")
		}
		opponent, _ := g.Opponent(playerID)

		g.Status = domain.GameResigned
		g.WinnerUserID = opponent.UserID
		if err := s.finalize(ctx, g); err != nil {
			return err
		}
		s.reg.BroadcastToGame(g, "PLAYER_RESIGNED", map[string]any{"resignedColor": resigner, "game": g})
		return nil
	})
}

// OfferDraw records a (refreshable) draw offer from `from`.
func (s *Service) OfferDraw(ctx context.Context, gameID domain.GameID, from domain.UserID) error {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return apperr.NotFound("game not found")
	}
	if g.Status != domain.GameActive {
		return apperr.Conflict("game is not active")
	}
	if _, ok := g.ColorOf(from); !ok {
		return apperr.Authorization("not a player in this game")
	}

	if err := s.hot.SetDrawOffer(ctx, gameID, from); err != nil {
		return apperr.Transient("store draw offer", err)
	}

	opponent, _ := g.Opponent(from)
	s.reg.BroadcastToClient(opponent.UserID, "DRAW_OFFERED", map[string]any{"gameId": gameID})
	s.reg.BroadcastToClient(from, "DRAW_OFFER_SENT", map[string]any{"gameId": gameID})
	return nil
}

// AcceptDraw requires a live offer from the opponent and ends the game in a draw.
func (s *Service) AcceptDraw(ctx context.Context, gameID domain.GameID, acceptor domain.UserID) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			return apperr.NotFound("game not found")
		}
		if g.Status != domain.GameActive {
			return apperr.Conflict("game is not active")
		}
		opponent, ok := g.Opponent(acceptor)
		if !ok {
			return apperr.Authorization("not a player in this game")
		}
		has, err := s.hot.HasDrawOffer(ctx, gameID, opponent.UserID)
		if err != nil {
			return apperr.Transient("check draw offer", err)
		}
		if !has {
			return apperr.Conflict("no outstanding draw offer")
		}

		s.hot.ClearDrawOffer(ctx, gameID, opponent.UserID)
		g.Status = domain.GameDraw
		if err := s.finalize(ctx, g); err != nil {
			return err
		}
		s.reg.BroadcastToGame(g, "DRAW_ACCEPTED", g)
		return nil
	})
}

// DeclineDraw clears the opponent's offer without changing game state.
func (s *Service) DeclineDraw(ctx context.Context, gameID domain.GameID, decliner domain.UserID) error {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return apperr.NotFound("game not found")
	}
	opponent, ok := g.Opponent(decliner)
	if !ok {
		return apperr.Authorization("not a player in this game")
	}
	s.hot.ClearDrawOffer(ctx, gameID, opponent.UserID)
	s.reg.BroadcastToClient(opponent.UserID, "DRAW_DECLINED", map[string]any{"gameId": gameID})
	return nil
}

// Tick decrements the clock of the side to move by one second, broadcasts
// the update, and triggers HandleTimeout if the clock reaches zero. It is
// invoked only by the tick scheduler.
func (s *Service) Tick(ctx context.Context, gameID domain.GameID) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil || g.Status != domain.GameActive {
			if s.ticker != nil {
				s.ticker.Remove(gameID)
			}
			return nil
		}

		color := domain.Color(s.oracle.Turn(g.Position))
		remaining := g.ClockFor(color) - 1
		g.SetClock(color, remaining)

		if err := s.hot.PutGame(ctx, g); err != nil {
			return apperr.Transient("save game clock", err)
		}
		s.reg.BroadcastToGame(g, "TIMER_UPDATE", map[string]any{"gameId": gameID, "white": g.ClockWhite, "black": g.ClockBlack})

		if remaining <= 0 {
			return s.handleTimeoutLocked(ctx, g, color)
		}
		return nil
	})
}

// HandleTimeout ends gameID on time against color, acquiring the per-game
// mailbox itself. The tick scheduler does not call it: Tick handles a
// clock reaching zero inline, inside the mailbox, via handleTimeoutLocked.
func (s *Service) HandleTimeout(ctx context.Context, gameID domain.GameID, color domain.Color) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			return nil
		}
		if g.Status != domain.GameActive {
			return nil
		}
		return s.handleTimeoutLocked(ctx, g, color)
	})
}

// handleTimeoutLocked assumes the caller already holds this game's mailbox.
func (s *Service) handleTimeoutLocked(ctx context.Context, g *domain.Game, loserColor domain.Color) error {
	loser, _ := g.PlayerByColor(loserColor)
	winner, _ := g.Opponent(loser.UserID)

	g.Status = domain.GameCompleted
	g.WinnerUserID = winner.UserID
	if err := s.finalize(ctx, g); err != nil {
		return err
	}
	s.reg.BroadcastToGame(g, "TIME_OUT", map[string]any{"loserColor": loserColor, "game": g})
	return nil
}

// finalize persists the terminal game, closes its room, resets player
// status, removes the game from the tick scheduler, and updates the hot
// cache. Callers must already hold this game's mailbox.
func (s *Service) finalize(ctx context.Context, g *domain.Game) error {
	room, err := s.hot.GetRoom(ctx, g.RoomID)
	if err != nil {
		room = &domain.Room{ID: g.RoomID, Status: domain.RoomActive}
	}
	room.Status = domain.RoomClosed

	if err := s.durable.FinalizeGame(ctx, g, room); err != nil {
		return apperr.Transient("finalize game", err)
	}
	if err := s.hot.PutGame(ctx, g); err != nil {
		logging.Error(ctx, "failed to cache finalized game", zap.Error(err))
	}
	s.hot.DeleteRoom(ctx, g.RoomID)

	for _, p := range g.Players {
		if p.UserID == "" {
			continue
		}
		s.hot.SetStatus(ctx, p.UserID, domain.StatusOnline, 0)
		s.hot.SetLastGame(ctx, p.UserID, g.ID)
	}

	if s.ticker != nil {
		s.ticker.Remove(g.ID)
	}
	metrics.ActiveGames.Dec()
	s.notify(ctx, g)
	return nil
}

func (s *Service) notify(ctx context.Context, g *domain.Game) {
	if s.observer != nil {
		s.observer(ctx, g)
	}
}

// Abandon marks gameID ABANDONED in favor of abandonerID's opponent. It
// runs inside the game's mailbox so it can't race a concurrent MakeMove
// or Tick; called by the room service once a disconnect grace period
// expires with no reconnect. A no-op if the game is already terminal
// (the opponent may have already won by other means).
func (s *Service) Abandon(ctx context.Context, gameID domain.GameID, abandonerID domain.UserID) error {
	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil
			}
			return apperr.Transient("load game for abandonment", err)
		}
		if g.Status.Terminal() {
			return nil
		}

		opponent, _ := g.Opponent(abandonerID)
		g.Status = domain.GameAbandoned
		g.WinnerUserID = opponent.UserID
		if err := s.finalize(ctx, g); err != nil {
			return err
		}

		// Unlike a normal terminal transition, abandonment has no one left
		// to rejoin to: purge the game/room hot-cache entries outright
		// instead of leaving the game cached for rejoin convenience.
		s.hot.DeleteGame(ctx, g.ID)
		s.hot.DeleteRoom(ctx, g.RoomID)

		s.reg.BroadcastToGame(g, "GAME_UPDATED", g)
		return nil
	})
}

// Load returns the current state of gameID for playerID, used by the
// LOAD_GAME / rejoin paths.
func (s *Service) Load(ctx context.Context, gameID domain.GameID, playerID domain.UserID) (*domain.Game, error) {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return nil, apperr.NotFound("game not found")
	}
	if _, ok := g.ColorOf(playerID); !ok {
		return nil, apperr.Authorization("not a player in this game")
	}
	return g, nil
}
