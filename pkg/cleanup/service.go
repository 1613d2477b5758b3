// Package cleanup provides the session retention sweeper.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper is the slice of the session service the sweeper needs.
type SessionSweeper interface {
	AbandonStale(ctx context.Context, idleFor time.Duration) (int, error)
}

// Config bounds the sweeper.
type Config struct {
	// StaleAfter is how long a session may sit idle before it is abandoned.
	StaleAfter time.Duration
	// SweepInterval is the time between sweeps.
	SweepInterval time.Duration
}

// DefaultConfig abandons sessions idle for two weeks, sweeping hourly.
func DefaultConfig() Config {
	return Config{
		StaleAfter:    14 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}

// Service periodically abandons sessions nobody has touched within the
// retention window. Sweeps are idempotent and safe to run from multiple
// replicas.
type Service struct {
	config   Config
	sessions SessionSweeper

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg Config, sessions SessionSweeper) *Service {
	return &Service{config: cfg, sessions: sessions}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"stale_after", s.config.StaleAfter,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	count, err := s.sessions.AbandonStale(ctx, s.config.StaleAfter)
	if err != nil {
		slog.Error("Retention: abandon stale sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: abandoned stale sessions", "count", count)
	}
}
