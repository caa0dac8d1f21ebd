// Package domain holds the shared entity types that flow between the
// room, game, chat, and store packages. It has no behavior of its own
// beyond small invariant-checking constructors and helpers.
package domain

import (
	"strings"
	"time"

	"github.com/chesshub/chessd/internal/oracle"
)

type UserID string
type RoomID string
type GameID string

// BotUserID is the reserved identity the bot controller plays as.
const BotUserID UserID = "bot"

type UserStatus string

const (
	StatusOffline      UserStatus = "OFFLINE"
	StatusOnline       UserStatus = "ONLINE"
	StatusWaiting      UserStatus = "WAITING"
	StatusInGame       UserStatus = "IN_GAME"
	StatusDisconnected UserStatus = "DISCONNECTED"
)

// User is the minimal projection of account state the core mutates.
type User struct {
	ID          UserID
	DisplayName string
	Status      UserStatus
	Elo         int
	Banned      bool
}

func NewUser(id UserID, displayName string) *User {
	return &User{ID: id, DisplayName: displayName, Status: StatusOnline, Elo: 1500}
}

type RoomType string

const (
	RoomPublic  RoomType = "PUBLIC"
	RoomPrivate RoomType = "PRIVATE"
)

type RoomStatus string

const (
	RoomOpen   RoomStatus = "OPEN"
	RoomActive RoomStatus = "ACTIVE"
	RoomClosed RoomStatus = "CLOSED"
)

type Color string

const (
	ColorWhite Color = "white"
	ColorBlack Color = "black"
	ColorUnset Color = ""
)

// RoomPlayer is a seat in a Room.
type RoomPlayer struct {
	UserID UserID
	Color  Color
}

// Room is a lobby that holds 0-2 players until a game starts.
type Room struct {
	ID         RoomID
	Type       RoomType
	Status     RoomStatus
	Players    []RoomPlayer
	InviteCode string
	CreatedAt  time.Time
}

func (r *Room) HasPlayer(id UserID) bool {
	for _, p := range r.Players {
		if p.UserID == id {
			return true
		}
	}
	return false
}

func (r *Room) Full() bool { return len(r.Players) >= 2 }

// TimeControl is a clock configuration.
type TimeControl struct {
	InitialSeconds   int
	IncrementSeconds int
}

// DefaultTimeControl is the 10-minute, no-increment default.
var DefaultTimeControl = TimeControl{InitialSeconds: 600, IncrementSeconds: 0}

type GameStatus string

const (
	GameActive     GameStatus = "ACTIVE"
	GameCompleted  GameStatus = "COMPLETED"
	GameDraw       GameStatus = "DRAW"
	GameResigned   GameStatus = "RESIGNED"
	GameAbandoned  GameStatus = "ABANDONED"
)

func (s GameStatus) Terminal() bool {
	return s != GameActive
}

// MoveRecord is one applied ply.
type MoveRecord struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	SAN       string `json:"san"`
}

// ChatEntry is a single chat line attached to a game.
type ChatEntry struct {
	AuthorUserID UserID `json:"authorUserId"`
	Text         string `json:"text"`
	TimestampMs  int64  `json:"timestampMs"`
}

const MaxChatLength = 500

// ValidateChatText trims and validates inbound chat text.
func ValidateChatText(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	if len(trimmed) > MaxChatLength {
		return "", false
	}
	return trimmed, true
}

// GamePlayer is a seated participant of a Game.
type GamePlayer struct {
	UserID      UserID
	Color       Color
	DisplayName string
}

// Game is the authoritative in-play chess game.
type Game struct {
	ID           GameID
	RoomID       RoomID
	Position     oracle.Position
	MoveHistory  []MoveRecord
	ClockWhite   int // seconds remaining
	ClockBlack   int
	TimeControl  TimeControl
	Status       GameStatus
	Players      [2]GamePlayer
	Chat         []ChatEntry
	WinnerUserID UserID
	CreatedAt    time.Time
}

func (g *Game) PlayerByColor(c Color) (GamePlayer, bool) {
	for _, p := range g.Players {
		if p.Color == c {
			return p, true
		}
	}
	return GamePlayer{}, false
}

func (g *Game) ColorOf(id UserID) (Color, bool) {
	for _, p := range g.Players {
		if p.UserID == id {
			return p.Color, true
		}
	}
	return ColorUnset, false
}

func (g *Game) Opponent(id UserID) (GamePlayer, bool) {
	for _, p := range g.Players {
		if p.UserID != id {
			return p, true
		}
	}
	return GamePlayer{}, false
}

func (g *Game) ClockFor(c Color) int {
	if c == ColorWhite {
		return g.ClockWhite
	}
	return g.ClockBlack
}

func (g *Game) SetClock(c Color, seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	if c == ColorWhite {
		g.ClockWhite = seconds
	} else {
		g.ClockBlack = seconds
	}
}
