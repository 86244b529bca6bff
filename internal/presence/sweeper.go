package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JamieW105/Ro-link-sub000/internal/metrics"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = 60 * time.Second

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// Sweeper runs Registry.Sweep on a fixed interval until its context is
// cancelled. A failed tick is logged and retried on the next one; a missed
// sweep only delays cleanup, it never marks a fresh row stale.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(r *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: r, interval: interval, logger: logger.With("component", "sweeper")}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	n, err := s.registry.Sweep(ctx)
	if err != nil {
		s.logger.Warn("presence sweep failed", "error", err)
		return
	}
	metrics.SweepDeleted(n)
	if n > 0 {
		s.logger.Info("pruned stale servers", "count", n)
	}
}
