// Package bot implements the default in-process opponent: a heuristic
// engine wired as the game service's Observer so it can react to a
// position change without the game package depending on it.
package bot

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/oracle"
	"go.uber.org/zap"
)

// maxConcurrentGames bounds how many bot "thinking" goroutines may be
// in flight at once, independent of how many bot games exist.
const maxConcurrentGames = 5

const (
	minDifficulty = 2
	maxDifficulty = 4

	minThinkMs = 1000
	maxThinkMs = 3000
)

// Engine picks a move for a position. FindBestMove may take up to
// budgetMs to decide; ok is false if no legal move exists.
type Engine interface {
	FindBestMove(ctx context.Context, pos oracle.Position, difficulty int, budgetMs int) (oracle.Move, bool)
	Dispose()
}

// MoveMaker is the subset of the game service the bot controller
// drives. Defined here (rather than importing internal/game) so the
// two packages stay decoupled; *game.Service satisfies this implicitly.
type MoveMaker interface {
	MakeMove(ctx context.Context, gameID domain.GameID, playerID domain.UserID, mv oracle.Move) error
}

// Controller observes game mutations and plays domain.BotUserID's turn
// whenever it's due, with bounded concurrency across all bot games.
type Controller struct {
	game   MoveMaker
	orc    oracle.Oracle
	engine Engine

	sem chan struct{}

	mu         sync.Mutex
	difficulty map[domain.GameID]int
}

// New builds a Controller that uses the default heuristic engine.
func New(game MoveMaker, orc oracle.Oracle) *Controller {
	return &Controller{
		game:       game,
		orc:        orc,
		engine:     newHeuristicEngine(orc),
		sem:        make(chan struct{}, maxConcurrentGames),
		difficulty: make(map[domain.GameID]int),
	}
}

// Observe is wired as game.Service's Observer. It must do only
// synchronous, I/O-free checks: the caller holds that game's mailbox,
// and a real move (via MakeMove) would need that same mailbox, so any
// blocking work here happens in a spawned goroutine instead.
func (c *Controller) Observe(ctx context.Context, g *domain.Game) {
	if g.Status.Terminal() {
		c.forget(g.ID)
		return
	}

	color, botSeated := botColor(g)
	if !botSeated {
		return
	}
	if c.orc.Turn(g.Position) != oracle.Color(color) {
		return
	}

	difficulty := c.difficultyFor(g.ID)
	pos := g.Position
	gameID := g.ID

	select {
	case c.sem <- struct{}{}:
	default:
		logging.Warn(ctx, "bot controller: concurrency limit reached, skipping turn", zap.String("game_id", string(gameID)))
		return
	}

	go func() {
		defer func() { <-c.sem }()
		think := time.Duration(minThinkMs+rand.IntN(maxThinkMs-minThinkMs+1)) * time.Millisecond
		time.Sleep(think)

		mv, ok := c.engine.FindBestMove(context.Background(), pos, difficulty, maxThinkMs)
		if !ok {
			return
		}
		if err := c.game.MakeMove(context.Background(), gameID, domain.BotUserID, mv); err != nil {
			logging.Warn(context.Background(), "bot controller: move rejected", zap.String("game_id", string(gameID)), zap.Error(err))
		}
	}()
}

func botColor(g *domain.Game) (domain.Color, bool) {
	for _, p := range g.Players {
		if p.UserID == domain.BotUserID {
			return p.Color, true
		}
	}
	return domain.ColorUnset, false
}

// difficultyFor returns this game's difficulty, choosing uniformly from
// [2,4] the first time the bot is asked to move in it.
func (c *Controller) difficultyFor(gameID domain.GameID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.difficulty[gameID]
	if !ok {
		d = minDifficulty + rand.IntN(maxDifficulty-minDifficulty+1)
		c.difficulty[gameID] = d
	}
	return d
}

func (c *Controller) forget(gameID domain.GameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.difficulty, gameID)
}

// Dispose releases the underlying engine's resources.
func (c *Controller) Dispose() {
	c.engine.Dispose()
}
