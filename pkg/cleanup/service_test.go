package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu      sync.Mutex
	calls   int
	idleFor time.Duration
	err     error
}

func (f *fakeSweeper) AbandonStale(_ context.Context, idleFor time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.idleFor = idleFor
	if f.err != nil {
		return 0, f.err
	}
	return 2, nil
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestService_SweepsOnStartAndOnTicks(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(Config{StaleAfter: time.Hour, SweepInterval: 5 * time.Millisecond}, sweeper)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return sweeper.count() >= 3 },
		time.Second, time.Millisecond, "expected the initial sweep plus ticks")

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.Equal(t, time.Hour, sweeper.idleFor)
}

func TestService_StopWaitsForTheLoop(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(Config{StaleAfter: time.Hour, SweepInterval: time.Minute}, sweeper)

	svc.Start(context.Background())
	svc.Stop()

	// Only the initial sweep ran; the ticker never fired.
	assert.Equal(t, 1, sweeper.count())
}

func TestService_StartIsIdempotent(t *testing.T) {
	sweeper := &fakeSweeper{}
	svc := NewService(Config{StaleAfter: time.Hour, SweepInterval: time.Minute}, sweeper)

	svc.Start(context.Background())
	svc.Start(context.Background())
	svc.Stop()

	assert.Equal(t, 1, sweeper.count())
}

func TestService_SweepErrorDoesNotStopTheLoop(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("db gone")}
	svc := NewService(Config{StaleAfter: time.Hour, SweepInterval: 5 * time.Millisecond}, sweeper)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return sweeper.count() >= 2 },
		time.Second, time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 14*24*time.Hour, cfg.StaleAfter)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
}
