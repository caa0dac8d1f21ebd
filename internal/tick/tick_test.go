package tick

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chesshub/chessd/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeGameTicker struct {
	mu    sync.Mutex
	calls map[domain.GameID]int
}

func newFakeGameTicker() *fakeGameTicker {
	return &fakeGameTicker{calls: make(map[domain.GameID]int)}
}

func (f *fakeGameTicker) Tick(ctx context.Context, gameID domain.GameID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[gameID]++
	return nil
}

func (f *fakeGameTicker) count(id domain.GameID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestAddRemoveTracksActiveSet(t *testing.T) {
	s := New(newFakeGameTicker())
	require.Zero(t, s.Len())
	s.Add("g1")
	s.Add("g1")
	s.Add("g2")
	require.Equal(t, 2, s.Len())
	s.Remove("g1")
	require.Equal(t, 1, s.Len())
	s.Remove("g1")
	require.Equal(t, 1, s.Len())
}

func TestRunTicksEveryActiveGame(t *testing.T) {
	defer goleak.VerifyNone(t)

	ft := newFakeGameTicker()
	s := New(ft)
	s.interval = 5 * time.Millisecond
	s.Add("g1")
	s.Add("g2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return ft.count("g1") >= 2 && ft.count("g2") >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestStopEndsRunLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(newFakeGameTicker())
	s.interval = 5 * time.Millisecond
	s.Add("g1")

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
