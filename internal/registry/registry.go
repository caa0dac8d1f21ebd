package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/metrics"
	"go.uber.org/zap"
)

// CloseReason enumerates why a socket is closed. It is not sent to the
// peer: every close goes out as a close frame without a status code.
type CloseReason string

const (
	CloseAuthFailed    CloseReason = "AUTH_FAILED"
	CloseRateLimited   CloseReason = "RATE_LIMIT_EXCEEDED"
	CloseSuperseded    CloseReason = "SUPERSEDED"
	CloseNormal        CloseReason = "NORMAL"
)

// Frame is the outbound {type, payload} wire envelope.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Registry is the single source of truth for which users are connected.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*Client

	// OnDisconnect, when set, is invoked whenever any user's socket closes.
	// Room/Game services use this to drive disconnect-grace handling.
	OnDisconnect func(domain.UserID)
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{clients: make(map[domain.UserID]*Client)}
}

// Register installs a new socket for userID, closing and replacing any
// prior one (e.g. a second browser tab taking over the session).
func (r *Registry) Register(conn wsConnection, userID domain.UserID, onInbound InboundHandler) *Client {
	var client *Client
	client = newClient(conn, userID, onInbound, func(domain.UserID) { r.handleDisconnect(client) })

	r.mu.Lock()
	old, existed := r.clients[userID]
	r.clients[userID] = client
	r.mu.Unlock()

	if existed {
		old.Close()
	}

	metrics.IncConnection()
	go client.writePump()
	go client.readPump()
	return client
}

// handleDisconnect is wired as the client's onDisconnect callback; it only
// removes the registry entry. A socket already replaced by a newer one for
// the same user is ignored, so the replacement stays registered. Game/room-level
// disconnect handling (grace periods, queue cleanup) is the caller's
// responsibility via OnDisconnect.
func (r *Registry) handleDisconnect(client *Client) {
	r.mu.Lock()
	if current, ok := r.clients[client.userID]; ok && current != client {
		r.mu.Unlock()
		return
	}
	delete(r.clients, client.userID)
	r.mu.Unlock()
	if r.OnDisconnect != nil {
		r.OnDisconnect(client.userID)
	}
}

// Unregister removes a user without closing its socket (caller already
// closed it, e.g. after a superseded registration).
func (r *Registry) Unregister(userID domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
}

// BroadcastToClient best-effort sends a single frame to userID's socket,
// a no-op if the user has no open connection.
func (r *Registry) BroadcastToClient(userID domain.UserID, frameType string, payload any) {
	r.mu.RLock()
	client, ok := r.clients[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(Frame{Type: frameType, Payload: payload})
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.String("type", frameType), zap.Error(err))
		return
	}
	client.Send(data)
}

// BroadcastToRoom sends a ROOM_UPDATED frame to every seated player.
func (r *Registry) BroadcastToRoom(room *domain.Room) {
	for _, p := range room.Players {
		r.BroadcastToClient(p.UserID, "ROOM_UPDATED", room)
	}
}

// BroadcastToGame sends frameType (default GAME_UPDATED) with payload
// (default the game itself) to both of the game's players.
func (r *Registry) BroadcastToGame(game *domain.Game, frameType string, payload any) {
	if frameType == "" {
		frameType = "GAME_UPDATED"
	}
	if payload == nil {
		payload = game
	}
	for _, p := range game.Players {
		if p.UserID == "" {
			continue
		}
		r.BroadcastToClient(p.UserID, frameType, payload)
	}
}

// IsConnected reports whether userID currently has an open socket.
func (r *Registry) IsConnected(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[userID]
	return ok
}

// CloseClient closes userID's socket, if any. The reason is not
// transmitted; the peer receives a close frame without a status code.
func (r *Registry) CloseClient(userID domain.UserID, reason CloseReason) {
	r.mu.Lock()
	client, ok := r.clients[userID]
	delete(r.clients, userID)
	r.mu.Unlock()
	if ok {
		client.Close()
	}
}

// ConnectedCount reports the current number of open sockets.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every currently open socket, used by the coordinator's
// graceful shutdown path.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[domain.UserID]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
