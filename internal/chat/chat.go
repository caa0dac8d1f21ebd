// Package chat implements per-game chat append and typing notification.
// Send is handed the game service's own per-game mailbox.Set (keyed by
// gameID) rather than owning a second one, so a chat append can never
// interleave with a move or clock tick on the same Game record.
package chat

import (
	"context"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/mailbox"
	"github.com/chesshub/chessd/internal/ratelimit"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/store"
)

// Service appends chat lines to a game and forwards typing notices.
type Service struct {
	hot     store.HotStore
	reg     *registry.Registry
	limiter *ratelimit.Limiter

	mailboxes *mailbox.Set
}

// New builds a chat Service. limiter may be nil in tests that don't
// exercise rate limiting. mailboxes must be the same mailbox.Set the
// game service serializes its own mutations through (game.Service's
// Mailboxes()), so chat appends share the per-game total order with
// moves and clock ticks instead of racing them under a separate set.
func New(hot store.HotStore, reg *registry.Registry, limiter *ratelimit.Limiter, mailboxes *mailbox.Set) *Service {
	return &Service{hot: hot, reg: reg, limiter: limiter, mailboxes: mailboxes}
}

func (s *Service) box(gameID domain.GameID) *mailbox.Mailbox {
	return s.mailboxes.For(string(gameID))
}

// Send validates and appends a chat line, then broadcasts the updated
// game to both players. The rate-limit check is the canonical 50
// messages per rolling 60 seconds; a zero-threshold variant exists in
// some deployments historically but is not replicated here.
func (s *Service) Send(ctx context.Context, gameID domain.GameID, playerID domain.UserID, text string) error {
	trimmed, ok := domain.ValidateChatText(text)
	if !ok {
		return apperr.Validation("chat message is empty or too long")
	}

	if s.limiter != nil && !s.limiter.AllowChat(ctx, string(playerID)) {
		return apperr.RateLimit("chat rate limit exceeded")
	}

	box := s.box(gameID)
	return box.Do(func() error {
		g, err := s.hot.GetGame(ctx, gameID)
		if err != nil {
			return apperr.NotFound("game not found")
		}
		if _, ok := g.ColorOf(playerID); !ok {
			return apperr.Authorization("not a player in this game")
		}

		g.Chat = append(g.Chat, domain.ChatEntry{
			AuthorUserID: playerID,
			Text:         trimmed,
			TimestampMs:  time.Now().UnixMilli(),
		})

		if err := s.hot.PutGame(ctx, g); err != nil {
			return apperr.Transient("save game", err)
		}
		s.reg.BroadcastToGame(g, "GAME_UPDATED", g)
		return nil
	})
}

// Typing notifies the opponent that playerID is composing a message.
// Pure notification: no game state is read or mutated beyond a
// membership check.
func (s *Service) Typing(ctx context.Context, gameID domain.GameID, playerID domain.UserID) error {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return apperr.NotFound("game not found")
	}
	if _, ok := g.ColorOf(playerID); !ok {
		return apperr.Authorization("not a player in this game")
	}

	opponent, ok := g.Opponent(playerID)
	if !ok {
		return nil
	}
	s.reg.BroadcastToClient(opponent.UserID, "TYPING", map[string]domain.UserID{"userId": playerID})
	return nil
}

// History returns the chat transcript for a participant of gameID.
func (s *Service) History(ctx context.Context, gameID domain.GameID, playerID domain.UserID) ([]domain.ChatEntry, error) {
	g, err := s.hot.GetGame(ctx, gameID)
	if err != nil {
		return nil, apperr.NotFound("game not found")
	}
	if _, ok := g.ColorOf(playerID); !ok {
		return nil, apperr.Authorization("not a player in this game")
	}
	return g.Chat, nil
}
