// Package coordinator is the single top-level owner of every long-lived
// component: the Connection Registry, the Room/Game/Chat services, the
// Tick Scheduler, and the Bot Controller. Services never hold pointers to
// one another; each depends only on the narrow interface the coordinator
// wires it through (room.GameCoordinator, bot.MoveMaker, game.TickScheduler),
// mirroring the teacher's Hub wiring rooms through callback closures
// instead of direct cross-package references.
package coordinator

import (
	"context"
	"encoding/json"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/bot"
	"github.com/chesshub/chessd/internal/chat"
	"github.com/chesshub/chessd/internal/dispatch"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/game"
	"github.com/chesshub/chessd/internal/oracle"
	"github.com/chesshub/chessd/internal/ratelimit"
	"github.com/chesshub/chessd/internal/registry"
	"github.com/chesshub/chessd/internal/room"
	"github.com/chesshub/chessd/internal/store"
	"github.com/chesshub/chessd/internal/tick"
)

// Coordinator owns every long-lived component and wires the dispatcher's
// routing table (§6 of the external interface) to the three services.
type Coordinator struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Room       *room.Service
	Game       *game.Service
	Chat       *chat.Service
	Tick       *tick.Scheduler
	Bot        *bot.Controller

	durable store.DurableStore
}

// New builds and wires every component. limiter may be nil in tests that
// don't exercise rate limiting.
func New(hot store.HotStore, durable store.DurableStore, orc oracle.Oracle, limiter *ratelimit.Limiter) *Coordinator {
	reg := registry.New()
	scheduler := tick.New(nil) // GameTicker installed just below, once gameSvc exists.

	gameSvc := game.New(hot, durable, orc, reg, scheduler)
	scheduler.SetGameTicker(gameSvc)

	roomSvc := room.New(hot, durable, reg, gameSvc)
	chatSvc := chat.New(hot, reg, limiter, gameSvc.Mailboxes())
	botCtl := bot.New(gameSvc, orc)

	gameSvc.SetObserver(botCtl.Observe)
	room.AttachRegistry(reg, roomSvc)

	c := &Coordinator{
		Registry: reg,
		Room:     roomSvc,
		Game:     gameSvc,
		Chat:     chatSvc,
		Tick:     scheduler,
		Bot:      botCtl,
		durable:  durable,
	}

	d := dispatch.New(limiter, reg)
	c.registerHandlers(d)
	c.Dispatcher = d

	return c
}

// Start launches the tick scheduler's periodic goroutine and returns at
// once; that goroutine runs until ctx is cancelled or Shutdown stops it.
func (c *Coordinator) Start(ctx context.Context) {
	go c.Tick.Run(ctx)
}

// Shutdown drains the tick scheduler, disposes the bot engine, and closes
// every open socket, in that order so no in-flight tick or bot move races
// a socket that's already gone.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.Tick.Stop()
	c.Bot.Dispose()
	c.Registry.CloseAll()
}

// Ping reports whether the durable store is reachable, for the HTTP
// surface's health check.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.durable.Ping(ctx)
}

// resolveUser loads userID's durable record, lazily creating a default one
// on first contact (the identity handshake only verifies a token; it
// never registers an account).
func (c *Coordinator) resolveUser(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	u, err := c.durable.GetUser(ctx, userID)
	if err == nil {
		return u, nil
	}
	if err != store.ErrNotFound {
		return nil, apperr.Transient("load user", err)
	}

	u = domain.NewUser(userID, string(userID))
	if err := c.durable.UpsertUser(ctx, u); err != nil {
		return nil, apperr.Transient("create user", err)
	}
	return u, nil
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		var zero T
		return zero, apperr.Validation("malformed payload")
	}
	return v, nil
}
