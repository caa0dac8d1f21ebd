package room

import (
	"context"
	"fmt"
	"time"

	"github.com/chesshub/chessd/internal/apperr"
	"github.com/chesshub/chessd/internal/domain"
	"github.com/chesshub/chessd/internal/logging"
	"github.com/chesshub/chessd/internal/metrics"
	"github.com/chesshub/chessd/internal/store"
	"go.uber.org/zap"
)

const (
	guestQueueName = "guestQueue"
	ratedQueueName = "ratedQueue"

	// ratedEloWindow is the maximum ELO difference the rated queue will
	// pair on a single scan pass.
	ratedEloWindow = 100
)

// JoinQueue enrolls user in the guest or rated queue, starts the
// queue-timeout clock, and immediately attempts a match.
func (s *Service) JoinQueue(ctx context.Context, user *domain.User, isGuest bool) error {
	if user.Banned {
		return apperr.Authorization("user is banned")
	}

	queue := ratedQueueName
	if isGuest {
		queue = guestQueueName
	}

	box := s.queueBox(queue)
	return box.Do(func() error {
		s.removeFromQueuesLocked(ctx, user.ID)

		if err := s.hot.QueuePushHead(ctx, queue, user.ID); err != nil {
			return apperr.Transient("enqueue", err)
		}
		if err := s.hot.SetStatus(ctx, user.ID, domain.StatusWaiting, 0); err != nil {
			logging.Warn(ctx, "failed to set waiting status", zap.Error(err))
		}
		s.markQueued(user.ID)
		s.startQueueTimer(user.ID, queue)
		s.reportQueueDepth(ctx, queue)

		if isGuest {
			return s.attemptGuestMatch(ctx, queue)
		}
		return s.attemptRatedMatch(ctx, queue, user)
	})
}

// LeaveQueue removes user from both queues and cancels any pending
// timeout, restoring them to ONLINE.
func (s *Service) LeaveQueue(ctx context.Context, userID domain.UserID) error {
	for _, q := range []string{guestQueueName, ratedQueueName} {
		box := s.queueBox(q)
		if err := box.Do(func() error {
			if err := s.hot.QueueRemove(ctx, q, userID); err != nil {
				return apperr.Transient("dequeue", err)
			}
			s.reportQueueDepth(ctx, q)
			return nil
		}); err != nil {
			return err
		}
	}
	s.cancelQueueTimer(userID)
	s.unmarkQueued(userID)
	if err := s.hot.SetStatus(ctx, userID, domain.StatusOnline, 0); err != nil {
		logging.Warn(ctx, "failed to restore online status", zap.Error(err))
	}
	return nil
}

// removeFromQueuesLocked enforces the invariant that a user sits in at
// most one queue. It is called from within one queue's mailbox and removes
// userID from both queues directly, without taking the other's mailbox.
func (s *Service) removeFromQueuesLocked(ctx context.Context, userID domain.UserID) {
	for _, q := range []string{guestQueueName, ratedQueueName} {
		if err := s.hot.QueueRemove(ctx, q, userID); err != nil {
			logging.Warn(ctx, "failed to clear stale queue membership", zap.String("queue", q), zap.Error(err))
		}
	}
	s.unmarkQueued(userID)
}

func (s *Service) reportQueueDepth(ctx context.Context, queue string) {
	n, err := s.hot.QueueLen(ctx, queue)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues(queue).Set(float64(n))
}

// attemptGuestMatch pops the two oldest entries in the guest FIFO queue.
// Because JoinQueue triggers this on every enrollment, a queue normally
// never holds more than the lone waiter between matches.
func (s *Service) attemptGuestMatch(ctx context.Context, queue string) error {
	popped, err := s.hot.QueuePopTwoHeads(ctx, queue)
	if err != nil {
		return apperr.Transient("pop queue", err)
	}
	if len(popped) < 2 {
		for _, id := range popped {
			if err := s.hot.QueuePushHead(ctx, queue, id); err != nil {
				logging.Warn(ctx, "failed to restore unmatched guest to queue", zap.Error(err))
			}
		}
		return nil
	}
	s.reportQueueDepth(ctx, queue)
	return s.matchPair(ctx, popped[0], popped[1])
}

// attemptRatedMatch scans the rated queue oldest-first (excluding the
// requester) for the earliest-queued opponent within the ELO window.
func (s *Service) attemptRatedMatch(ctx context.Context, queue string, requester *domain.User) error {
	members, err := s.hot.QueueMembers(ctx, queue)
	if err != nil {
		return apperr.Transient("scan queue", err)
	}

	for _, candidateID := range members {
		if candidateID == requester.ID {
			continue
		}
		candidate, err := s.durable.GetUser(ctx, candidateID)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return apperr.Transient("load candidate", err)
		}
		if eloDiff(requester.Elo, candidate.Elo) > ratedEloWindow {
			continue
		}

		if err := s.hot.QueueRemove(ctx, queue, requester.ID); err != nil {
			return apperr.Transient("dequeue requester", err)
		}
		if err := s.hot.QueueRemove(ctx, queue, candidateID); err != nil {
			return apperr.Transient("dequeue candidate", err)
		}
		s.reportQueueDepth(ctx, queue)
		return s.matchPair(ctx, requester.ID, candidateID)
	}
	return nil
}

func eloDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// matchPair creates an ACTIVE room for the two matched users and starts
// their game, cancelling both of their queue timers.
func (s *Service) matchPair(ctx context.Context, a, b domain.UserID) error {
	s.cancelQueueTimer(a)
	s.cancelQueueTimer(b)
	s.unmarkQueued(a)
	s.unmarkQueued(b)

	roomID := domain.RoomID(fmt.Sprintf("room-%d-%s-%s", time.Now().UnixNano(), a, b))
	room := &domain.Room{
		ID:        roomID,
		Type:      domain.RoomPublic,
		Status:    domain.RoomActive,
		Players:   []domain.RoomPlayer{{UserID: a}, {UserID: b}},
		CreatedAt: time.Now(),
	}
	assignColors(room)

	if err := s.hot.PutRoom(ctx, room); err != nil {
		return apperr.Transient("persist matched room", err)
	}
	for _, p := range room.Players {
		if err := s.hot.SetStatus(ctx, p.UserID, domain.StatusInGame, 0); err != nil {
			logging.Warn(ctx, "failed to set in-game status", zap.Error(err))
		}
		s.bindRoom(p.UserID, roomID)
	}

	s.reg.BroadcastToRoom(room)
	return s.game.Start(ctx, roomID)
}

// startQueueTimer arms the 60-second abandonment clock for a queued
// user; any existing timer for that user is replaced.
func (s *Service) startQueueTimer(userID domain.UserID, queue string) {
	s.cancelQueueTimer(userID)

	timer := time.AfterFunc(s.timers.QueueTimeout, func() {
		s.onQueueTimeout(userID, queue)
	})

	s.mu.Lock()
	s.queueTimers[userID] = timer
	s.mu.Unlock()
}

func (s *Service) cancelQueueTimer(userID domain.UserID) {
	s.mu.Lock()
	timer, ok := s.queueTimers[userID]
	delete(s.queueTimers, userID)
	s.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

func (s *Service) onQueueTimeout(userID domain.UserID, queue string) {
	ctx := context.Background()
	box := s.queueBox(queue)
	_ = box.Do(func() error {
		s.mu.Lock()
		_, stillArmed := s.queueTimers[userID]
		s.mu.Unlock()
		if !stillArmed {
			return nil
		}

		n, err := s.hot.QueueLen(ctx, queue)
		if err == nil && n == 0 {
			return nil
		}
		if err := s.hot.QueueRemove(ctx, queue, userID); err != nil {
			logging.Error(ctx, "queue timeout: failed to dequeue", zap.Error(err))
			return nil
		}
		s.reportQueueDepth(ctx, queue)

		s.mu.Lock()
		delete(s.queueTimers, userID)
		s.mu.Unlock()
		s.unmarkQueued(userID)

		if err := s.hot.SetStatus(ctx, userID, domain.StatusOnline, 0); err != nil {
			logging.Warn(ctx, "failed to restore online status after queue timeout", zap.Error(err))
		}
		s.reg.BroadcastToClient(userID, "QUEUE_TIMEOUT", nil)
		return nil
	})
}

// IsQueued reports whether userID currently sits in either matchmaking
// queue, using the in-process membership set rather than a round trip
// to the hot store.
func (s *Service) IsQueued(userID domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued.Has(userID)
}
