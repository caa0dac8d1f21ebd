// Package store implements the two state-store ports the core depends on:
// a hot, short-lived key/value and queue surface (Redis) and a durable,
// record-oriented surface (PostgreSQL via GORM).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrNotFound is returned by HotStore reads when the key is absent.
var ErrNotFound = errors.New("store: not found")

// HotStore is the hot-path key/value, list, and TTL surface the room,
// game, and chat services read and write through.
type HotStore interface {
	GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error)
	PutGame(ctx context.Context, g *domain.Game) error
	DeleteGame(ctx context.Context, id domain.GameID) error

	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	PutRoom(ctx context.Context, r *domain.Room) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error

	// QueuePushHead pushes userID onto the head (newest) end of the named queue.
	QueuePushHead(ctx context.Context, queue string, userID domain.UserID) error
	// QueuePopTwoHeads atomically removes and returns up to two entries
	// from the tail (oldest-first) of the queue, or fewer if unavailable.
	QueuePopTwoHeads(ctx context.Context, queue string) ([]domain.UserID, error)
	QueueRemove(ctx context.Context, queue string, userID domain.UserID) error
	QueueMembers(ctx context.Context, queue string) ([]domain.UserID, error)
	QueueLen(ctx context.Context, queue string) (int64, error)

	SetStatus(ctx context.Context, id domain.UserID, status domain.UserStatus, ttl time.Duration) error
	GetStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error)

	IncrInvalidMoves(ctx context.Context, id domain.UserID) (int64, error)
	ClearInvalidMoves(ctx context.Context, id domain.UserID) error

	SetDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error
	HasDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) (bool, error)
	ClearDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error

	SetLastGame(ctx context.Context, id domain.UserID, gameID domain.GameID) error

	Ping(ctx context.Context) error
}

const (
	invalidMovesTTL  = time.Hour
	lastGameTTL      = time.Hour
	drawOfferTTL     = 5 * time.Minute
	disconnectedTTL  = 30 * time.Second
)

// RedisHotStore is the production HotStore, backed by go-redis and guarded
// by a circuit breaker so a degraded Redis fails a single request rather
// than cascading into the caller's goroutine.
type RedisHotStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewRedisHotStore dials Redis, verifies connectivity, and wraps the
// client in a circuit breaker.
func NewRedisHotStore(addr, password string) (*RedisHotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("hotstore: failed to connect to redis: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "redis-hotstore",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis-hotstore").Set(v)
		},
	}

	return &RedisHotStore{client: client, cb: gobreaker.NewCircuitBreaker(settings)}, nil
}

func gameKey(id domain.GameID) string { return fmt.Sprintf("game:%s", id) }
func roomKey(id domain.RoomID) string { return fmt.Sprintf("room:%s", id) }
func statusKey(id domain.UserID) string { return fmt.Sprintf("player:%s:status", id) }
func invalidMovesKey(id domain.UserID) string { return fmt.Sprintf("invalidMoves:%s", id) }
func lastGameKey(id domain.UserID) string { return fmt.Sprintf("player:%s:lastGame", id) }
func drawOfferKey(gameID domain.GameID, from domain.UserID) string {
	return fmt.Sprintf("drawOffer:%s:%s", gameID, from)
}

func (s *RedisHotStore) execute(fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.RateLimitExceeded.WithLabelValues("hotstore", "circuit_open").Inc()
		}
	}
	return res, err
}

func (s *RedisHotStore) GetGame(ctx context.Context, id domain.GameID) (*domain.Game, error) {
	res, err := s.execute(func() (any, error) { return s.client.Get(ctx, gameKey(id)).Result() })
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hotstore: get game: %w", err)
	}
	var g domain.Game
	if err := json.Unmarshal([]byte(res.(string)), &g); err != nil {
		return nil, fmt.Errorf("hotstore: decode game: %w", err)
	}
	return &g, nil
}

func (s *RedisHotStore) PutGame(ctx context.Context, g *domain.Game) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("hotstore: encode game: %w", err)
	}
	_, err = s.execute(func() (any, error) { return nil, s.client.Set(ctx, gameKey(g.ID), data, 0).Err() })
	return err
}

func (s *RedisHotStore) DeleteGame(ctx context.Context, id domain.GameID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.Del(ctx, gameKey(id)).Err() })
	return err
}

func (s *RedisHotStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	res, err := s.execute(func() (any, error) { return s.client.Get(ctx, roomKey(id)).Result() })
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("hotstore: get room: %w", err)
	}
	var r domain.Room
	if err := json.Unmarshal([]byte(res.(string)), &r); err != nil {
		return nil, fmt.Errorf("hotstore: decode room: %w", err)
	}
	return &r, nil
}

func (s *RedisHotStore) PutRoom(ctx context.Context, r *domain.Room) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("hotstore: encode room: %w", err)
	}
	_, err = s.execute(func() (any, error) { return nil, s.client.Set(ctx, roomKey(r.ID), data, 0).Err() })
	return err
}

func (s *RedisHotStore) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.Del(ctx, roomKey(id)).Err() })
	return err
}

func (s *RedisHotStore) QueuePushHead(ctx context.Context, queue string, userID domain.UserID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.LPush(ctx, queue, string(userID)).Err() })
	return err
}

// QueuePopTwoHeads pops atomically via a Lua script so a concurrent
// matchmaking attempt can never observe or take only one of the two.
const popTwoScript = `
local a = redis.call('RPOP', KEYS[1])
if a == false then return {} end
local b = redis.call('RPOP', KEYS[1])
if b == false then return {a} end
return {a, b}
`

func (s *RedisHotStore) QueuePopTwoHeads(ctx context.Context, queue string) ([]domain.UserID, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.Eval(ctx, popTwoScript, []string{queue}).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("hotstore: pop queue: %w", err)
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	out := make([]domain.UserID, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, domain.UserID(s))
		}
	}
	return out, nil
}

func (s *RedisHotStore) QueueRemove(ctx context.Context, queue string, userID domain.UserID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.LRem(ctx, queue, 0, string(userID)).Err() })
	return err
}

// QueueMembers returns every queued user oldest-first. LPush inserts at
// index 0, so the raw LRange order is newest-first; reverse it here to
// match QueuePopTwoHeads' RPOP-from-the-tail notion of "oldest".
func (s *RedisHotStore) QueueMembers(ctx context.Context, queue string) ([]domain.UserID, error) {
	res, err := s.execute(func() (any, error) { return s.client.LRange(ctx, queue, 0, -1).Result() })
	if err != nil {
		return nil, fmt.Errorf("hotstore: queue members: %w", err)
	}
	members := res.([]string)
	out := make([]domain.UserID, len(members))
	for i, m := range members {
		out[len(members)-1-i] = domain.UserID(m)
	}
	return out, nil
}

func (s *RedisHotStore) QueueLen(ctx context.Context, queue string) (int64, error) {
	res, err := s.execute(func() (any, error) { return s.client.LLen(ctx, queue).Result() })
	if err != nil {
		return 0, fmt.Errorf("hotstore: queue len: %w", err)
	}
	return res.(int64), nil
}

func (s *RedisHotStore) SetStatus(ctx context.Context, id domain.UserID, status domain.UserStatus, ttl time.Duration) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, statusKey(id), string(status), ttl).Err()
	})
	return err
}

func (s *RedisHotStore) GetStatus(ctx context.Context, id domain.UserID) (domain.UserStatus, error) {
	res, err := s.execute(func() (any, error) { return s.client.Get(ctx, statusKey(id)).Result() })
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StatusOffline, nil
		}
		return "", fmt.Errorf("hotstore: get status: %w", err)
	}
	return domain.UserStatus(res.(string)), nil
}

func (s *RedisHotStore) IncrInvalidMoves(ctx context.Context, id domain.UserID) (int64, error) {
	res, err := s.execute(func() (any, error) {
		n, err := s.client.Incr(ctx, invalidMovesKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			s.client.Expire(ctx, invalidMovesKey(id), invalidMovesTTL)
		}
		return n, nil
	})
	if err != nil {
		return 0, fmt.Errorf("hotstore: incr invalid moves: %w", err)
	}
	return res.(int64), nil
}

func (s *RedisHotStore) ClearInvalidMoves(ctx context.Context, id domain.UserID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.Del(ctx, invalidMovesKey(id)).Err() })
	return err
}

func (s *RedisHotStore) SetDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, drawOfferKey(gameID, from), "1", drawOfferTTL).Err()
	})
	return err
}

func (s *RedisHotStore) HasDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) (bool, error) {
	res, err := s.execute(func() (any, error) { return s.client.Exists(ctx, drawOfferKey(gameID, from)).Result() })
	if err != nil {
		return false, fmt.Errorf("hotstore: has draw offer: %w", err)
	}
	return res.(int64) > 0, nil
}

func (s *RedisHotStore) ClearDrawOffer(ctx context.Context, gameID domain.GameID, from domain.UserID) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.Del(ctx, drawOfferKey(gameID, from)).Err() })
	return err
}

func (s *RedisHotStore) SetLastGame(ctx context.Context, id domain.UserID, gameID domain.GameID) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Set(ctx, lastGameKey(id), string(gameID), lastGameTTL).Err()
	})
	return err
}

func (s *RedisHotStore) Ping(ctx context.Context) error {
	_, err := s.execute(func() (any, error) { return nil, s.client.Ping(ctx).Err() })
	if err != nil {
		logging.Error(ctx, "hotstore ping failed", zap.Error(err))
	}
	return err
}

// DisconnectedStatusTTL is exported so the room service can pass the same
// TTL used for the status key's external-observability mirror (see
// design notes on the disconnect grace period).
const DisconnectedStatusTTL = disconnectedTTL
