package coordinator

import (
	"context"
	"encoding/json"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/dispatch"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/oracle"
)

type createRoomPayload struct {
	Type       string `json:"type"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type joinRoomPayload struct {
	RoomID     string `json:"roomId"`
	InviteCode string `json:"inviteCode,omitempty"`
}

type roomIDPayload struct {
	RoomID string `json:"roomId"`
}

type joinQueuePayload struct {
	Guest bool `json:"guest"`
}

type gameIDPayload struct {
	GameID string `json:"gameId"`
}

type makeMovePayload struct {
	GameID    string `json:"gameId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type legalMovesPayload struct {
	GameID string `json:"gameId"`
	Square string `json:"square"`
}

type chatMessagePayload struct {
	GameID string `json:"gameId"`
	Text   string `json:"text"`
}

// registerHandlers binds every inbound frame type to its service method,
// per the routing table in the external interface section.
func (c *Coordinator) registerHandlers(d *dispatch.Dispatcher) {
	d.Handle("CREATE_ROOM", c.handleCreateRoom)
	d.Handle("JOIN_ROOM", c.handleJoinRoom)
	d.Handle("LEAVE_ROOM", c.handleLeaveRoom)
	d.Handle("JOIN_QUEUE", c.handleJoinQueue)
	d.Handle("LEAVE_QUEUE", c.handleLeaveQueue)
	d.Handle("REQUEST_REJOIN", c.handleRequestRejoin)
	d.Handle("MAKE_MOVE", c.handleMakeMove)
	d.Handle("GET_LEGAL_MOVES", c.handleGetLegalMoves)
	d.Handle("RESIGN", c.handleResign)
	d.Handle("OFFER_DRAW", c.handleOfferDraw)
	d.Handle("ACCEPT_DRAW", c.handleAcceptDraw)
	d.Handle("DECLINE_DRAW", c.handleDeclineDraw)
	d.Handle("CHAT_MESSAGE", c.handleChatMessage)
	d.Handle("TYPING", c.handleTyping)
	d.Handle("LOAD_GAME", c.handleLoadGame)
}

func (c *Coordinator) handleCreateRoom(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[createRoomPayload](payload)
	if err != nil {
		return err
	}
	user, err := c.resolveUser(ctx, userID)
	if err != nil {
		return err
	}

	rtype := domain.RoomPublic
	if p.Type == string(domain.RoomPrivate) {
		rtype = domain.RoomPrivate
	}
	_, err = c.Room.CreateRoom(ctx, user, rtype, p.InviteCode)
	return err
}

func (c *Coordinator) handleJoinRoom(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[joinRoomPayload](payload)
	if err != nil {
		return err
	}
	if p.RoomID == "" {
		return apperr.Validation("roomId is required")
	}
	user, err := c.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	return c.Room.JoinRoom(ctx, user, domain.RoomID(p.RoomID), p.InviteCode)
}

func (c *Coordinator) handleLeaveRoom(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[roomIDPayload](payload)
	if err != nil {
		return err
	}
	if p.RoomID == "" {
		return apperr.Validation("roomId is required")
	}
	return c.Room.LeaveRoom(ctx, userID, domain.RoomID(p.RoomID))
}

func (c *Coordinator) handleJoinQueue(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[joinQueuePayload](payload)
	if err != nil {
		return err
	}
	user, err := c.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	return c.Room.JoinQueue(ctx, user, p.Guest)
}

func (c *Coordinator) handleLeaveQueue(ctx context.Context, userID domain.UserID, _ json.RawMessage) error {
	return c.Room.LeaveQueue(ctx, userID)
}

func (c *Coordinator) handleRequestRejoin(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	_, err = c.Room.HandleRejoin(ctx, userID, domain.GameID(p.GameID))
	return err
}

func (c *Coordinator) handleMakeMove(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[makeMovePayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" || p.From == "" || p.To == "" {
		return apperr.Validation("gameId, from, and to are required")
	}
	mv := oracle.Move{From: p.From, To: p.To, Promotion: p.Promotion}
	return c.Game.MakeMove(ctx, domain.GameID(p.GameID), userID, mv)
}

func (c *Coordinator) handleGetLegalMoves(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[legalMovesPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" || p.Square == "" {
		return apperr.Validation("gameId and square are required")
	}
	return c.Game.GetLegalMoves(ctx, domain.GameID(p.GameID), userID, p.Square)
}

func (c *Coordinator) handleResign(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Game.Resign(ctx, domain.GameID(p.GameID), userID)
}

func (c *Coordinator) handleOfferDraw(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Game.OfferDraw(ctx, domain.GameID(p.GameID), userID)
}

func (c *Coordinator) handleAcceptDraw(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Game.AcceptDraw(ctx, domain.GameID(p.GameID), userID)
}

func (c *Coordinator) handleDeclineDraw(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Game.DeclineDraw(ctx, domain.GameID(p.GameID), userID)
}

func (c *Coordinator) handleChatMessage(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[chatMessagePayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Chat.Send(ctx, domain.GameID(p.GameID), userID, p.Text)
}

func (c *Coordinator) handleTyping(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	return c.Chat.Typing(ctx, domain.GameID(p.GameID), userID)
}

func (c *Coordinator) handleLoadGame(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	p, err := decode[gameIDPayload](payload)
	if err != nil {
		return err
	}
	if p.GameID == "" {
		return apperr.Validation("gameId is required")
	}
	g, err := c.Game.Load(ctx, domain.GameID(p.GameID), userID)
	if err != nil {
		return err
	}
	c.Registry.BroadcastToClient(userID, "GAME_LOADED", g)
	return nil
}
