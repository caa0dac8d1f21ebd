package store

import (
	"time"

	"gorm.io/gorm"
)

// UserRow, RoomRow, GameRow, and GamePlayerRow are the durable-store GORM
// models. They are deliberately thinner than the hot-path domain types:
// only lifecycle-boundary fields are persisted, and move-by-move detail
// lives in MoveHistoryJSON rather than a normalized child table, matching
// the spec's record-level-only persistence.
type UserRow struct {
	ID          string `gorm:"primaryKey"`
	DisplayName string
	Elo         int
	Banned      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RoomRow struct {
	ID         string `gorm:"primaryKey"`
	Type       string
	Status     string
	InviteCode string `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

type GameRow struct {
	ID              string `gorm:"primaryKey"`
	RoomID          string `gorm:"index"`
	FinalPosition   string
	MoveHistoryJSON string `gorm:"type:text"`
	Status          string
	WinnerUserID    string
	WhiteUserID     string
	BlackUserID     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GamePlayerRow struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	GameID string `gorm:"index"`
	UserID string `gorm:"index"`
	Color  string
}
