// Package ratelimit implements per-user inbound rate limiting, backed by
// Redis in production and an in-memory store in development/tests.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/chesshub/chessd/internal/config"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Limiter holds the two named per-user rate limits the dispatcher enforces:
// general inbound command volume, and chat message volume.
type Limiter struct {
	wsUser   *limiter.Limiter
	chatUser *limiter.Limiter
}

// New builds a Limiter from configured rate strings, using a Redis store
// when redisClient is non-nil and a memory store otherwise.
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	wsRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid ws user rate: %w", err)
	}
	chatRate, err := limiter.NewRateFromFormatted(cfg.RateLimitChatUser)
	if err != nil {
		return nil, fmt.Errorf("invalid chat user rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "limiter:chessd:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (no Redis client configured)")
	}

	return &Limiter{
		wsUser:   limiter.New(store, wsRate),
		chatUser: limiter.New(store, chatRate),
	}, nil
}

// AllowMessage reports whether userID may send another inbound command,
// per the 50-messages-per-60-seconds threshold. A store failure fails
// open (returns true) so a degraded rate limiter never blocks gameplay.
func (l *Limiter) AllowMessage(ctx context.Context, userID string) bool {
	res, err := l.wsUser.Get(ctx, "ws:"+userID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_message", "user").Inc()
		return false
	}
	return true
}

// AllowChat reports whether userID may send another chat message.
func (l *Limiter) AllowChat(ctx context.Context, userID string) bool {
	res, err := l.chatUser.Get(ctx, "chat:"+userID)
	if err != nil {
		logging.Error(ctx, "chat rate limiter store failed", zap.Error(err))
		return true
	}
	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("chat_message", "user").Inc()
		return false
	}
	return true
}
