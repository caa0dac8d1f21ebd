// Package tick implements the single 1Hz coordinator that drives every
// active game's clock. It holds no game state itself; each tick it asks
// the game service to decrement and persist the mover's clock, which the
// game service serializes through that game's own mailbox.
package tick

import (
	"context"
	"sync"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"go.uber.org/zap"
)

// GameTicker is the subset of the game service the scheduler calls into.
type GameTicker interface {
	Tick(ctx context.Context, gameID domain.GameID) error
}

const defaultInterval = time.Second

// Scheduler holds the set of active game ids and fires GameTicker.Tick for
// each of them once per interval.
type Scheduler struct {
	game     GameTicker
	interval time.Duration

	mu     sync.Mutex
	active map[domain.GameID]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler. Call Run to start the periodic goroutine.
func New(game GameTicker) *Scheduler {
	return &Scheduler{
		game:     game,
		interval: defaultInterval,
		active:   make(map[domain.GameID]struct{}),
		stop:     make(chan struct{}),
	}
}

// SetGameTicker installs the GameTicker after construction, breaking the
// initialization cycle between the scheduler and the game service (each
// needs a reference to the other).
func (s *Scheduler) SetGameTicker(game GameTicker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game = game
}

// Add registers gameID for clock ticking. Safe to call for an
// already-registered id (no-op).
func (s *Scheduler) Add(gameID domain.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[gameID] = struct{}{}
}

// Remove stops ticking gameID. Safe to call for an id that was never added.
func (s *Scheduler) Remove(gameID domain.GameID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, gameID)
}

// Len reports how many games are currently ticking.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) snapshot() []domain.GameID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.GameID, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Run blocks, ticking every interval until the context is cancelled or
// Stop is called. Intended to be run in its own goroutine from the
// coordinator's startup path.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tickAll(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the Run loop. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// tickAll fans a single wall-clock tick out across every active game
// concurrently; each call into the game service is independently
// serialized by that game's mailbox, so games never block one another.
func (s *Scheduler) tickAll(ctx context.Context) {
	for _, id := range s.snapshot() {
		s.wg.Add(1)
		go func(id domain.GameID) {
			defer s.wg.Done()
			if err := s.game.Tick(ctx, id); err != nil {
				logging.Error(ctx, "tick scheduler: game tick failed", zap.String("game_id", string(id)), zap.Error(err))
			}
		}(id)
	}
}
