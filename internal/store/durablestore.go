package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DurableStore is the record-level, lifecycle-boundary persistence port.
type DurableStore interface {
	// UpsertUser inserts the User row for u, or overwrites it with u's fields.
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
	SetUserBanned(ctx context.Context, id domain.UserID, banned bool) error

	// CreateRoomAndGame persists a newly-started room and game in one
	// transaction, mirroring the hot-store create that triggered it.
	CreateRoomAndGame(ctx context.Context, room *domain.Room, game *domain.Game) error

	// FinalizeGame writes the terminal game state and closes its room in a
	// single transaction. User status is not stored durably, so this does
	// not reset it; the Postgres store only touches both players' rows.
	FinalizeGame(ctx context.Context, game *domain.Game, room *domain.Room) error

	GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error)

	Ping(ctx context.Context) error
}

// GormDurableStore is the production DurableStore, backed by PostgreSQL.
type GormDurableStore struct {
	db *gorm.DB
}

const (
	// txMaxWait bounds how long a transaction waits to acquire a row/table
	// lock (set per-transaction via Postgres' lock_timeout); txTimeout
	// bounds the transaction's total wall-clock time via ctx.
	txMaxWait = 10 * time.Second
	txTimeout = 20 * time.Second
)

// NewGormDurableStore opens a PostgreSQL connection, tunes the pool, and
// auto-migrates the schema.
func NewGormDurableStore(dsn string) (*GormDurableStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("durablestore: failed to connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("durablestore: failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&UserRow{}, &RoomRow{}, &GameRow{}, &GamePlayerRow{}); err != nil {
		return nil, fmt.Errorf("durablestore: schema migration failed: %w", err)
	}

	return &GormDurableStore{db: db}, nil
}

func (s *GormDurableStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, txTimeout)
}

func (s *GormDurableStore) UpsertUser(ctx context.Context, u *domain.User) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := UserRow{ID: string(u.ID), DisplayName: u.DisplayName, Elo: u.Elo, Banned: u.Banned}
	return s.db.WithContext(ctx).Clauses().Save(&row).Error
}

func (s *GormDurableStore) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row UserRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("durablestore: get user: %w", err)
	}
	return &domain.User{
		ID:          domain.UserID(row.ID),
		DisplayName: row.DisplayName,
		Elo:         row.Elo,
		Banned:      row.Banned,
		Status:      domain.StatusOnline,
	}, nil
}

func (s *GormDurableStore) SetUserBanned(ctx context.Context, id domain.UserID, banned bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Model(&UserRow{}).Where("id = ?", string(id)).Update("banned", banned).Error
}

func (s *GormDurableStore) CreateRoomAndGame(ctx context.Context, room *domain.Room, game *domain.Game) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", txMaxWait.Milliseconds())).Error; err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}

		roomRow := RoomRow{
			ID:         string(room.ID),
			Type:       string(room.Type),
			Status:     string(room.Status),
			InviteCode: room.InviteCode,
		}
		if err := tx.Save(&roomRow).Error; err != nil {
			return fmt.Errorf("save room: %w", err)
		}

		gameRow, playerRows, err := toGameRows(game)
		if err != nil {
			return err
		}
		if err := tx.Save(&gameRow).Error; err != nil {
			return fmt.Errorf("save game: %w", err)
		}
		for _, p := range playerRows {
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("save game player: %w", err)
			}
		}
		return nil
	}, &sql.TxOptions{})
}

func (s *GormDurableStore) FinalizeGame(ctx context.Context, game *domain.Game, room *domain.Room) error {
	ctx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", txMaxWait.Milliseconds())).Error; err != nil {
			return fmt.Errorf("set lock_timeout: %w", err)
		}

		gameRow, _, err := toGameRows(game)
		if err != nil {
			return err
		}
		if err := tx.Save(&gameRow).Error; err != nil {
			return fmt.Errorf("finalize game: %w", err)
		}

		if err := tx.Model(&RoomRow{}).Where("id = ?", string(room.ID)).Update("status", string(domain.RoomClosed)).Error; err != nil {
			return fmt.Errorf("close room: %w", err)
		}

		for _, p := range game.Players {
			if err := tx.Model(&UserRow{}).Where("id = ?", string(p.UserID)).Update("updated_at", time.Now()).Error; err != nil {
				return fmt.Errorf("touch user %s: %w", p.UserID, err)
			}
		}
		return nil
	}, &sql.TxOptions{})
}

func (s *GormDurableStore) GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row GameRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("durablestore: get game: %w", err)
	}

	var history []domain.MoveRecord
	if row.MoveHistoryJSON != "" {
		if err := json.Unmarshal([]byte(row.MoveHistoryJSON), &history); err != nil {
			return nil, fmt.Errorf("durablestore: decode move history: %w", err)
		}
	}

	return &domain.Game{
		ID:           domain.GameID(row.ID),
		RoomID:       domain.RoomID(row.RoomID),
		MoveHistory:  history,
		Status:       domain.GameStatus(row.Status),
		WinnerUserID: domain.UserID(row.WinnerUserID),
		CreatedAt:    row.CreatedAt,
	}, nil
}

func (s *GormDurableStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func toGameRows(game *domain.Game) (GameRow, []GamePlayerRow, error) {
	historyJSON, err := json.Marshal(game.MoveHistory)
	if err != nil {
		return GameRow{}, nil, fmt.Errorf("encode move history: %w", err)
	}

	var white, black string
	for _, p := range game.Players {
		if p.Color == domain.ColorWhite {
			white = string(p.UserID)
		} else if p.Color == domain.ColorBlack {
			black = string(p.UserID)
		}
	}

	row := GameRow{
		ID:              string(game.ID),
		RoomID:          string(game.RoomID),
		FinalPosition:   string(game.Position),
		MoveHistoryJSON: string(historyJSON),
		Status:          string(game.Status),
		WinnerUserID:    string(game.WinnerUserID),
		WhiteUserID:     white,
		BlackUserID:     black,
	}

	players := make([]GamePlayerRow, 0, 2)
	for _, p := range game.Players {
		if p.UserID == "" {
			continue
		}
		players = append(players, GamePlayerRow{GameID: string(game.ID), UserID: string(p.UserID), Color: string(p.Color)})
	}

	return row, players, nil
}
