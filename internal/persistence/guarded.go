package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the journal circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures before the breaker opens (default 5)
	OpenTimeout time.Duration // how long writes are skipped once open (default 30s)
	HalfOpenMax uint32        // trial writes allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
		HalfOpenMax: 3,
	}
}

// Guarded puts a circuit breaker in front of a store's writes. A journal that
// keeps failing (disk full, locked database) is skipped instead of slowing the
// output poller down with a busy timeout on every batch. Reads go straight
// through.
type Guarded struct {
	Store
	cb *gobreaker.CircuitBreaker
}

// NewGuarded wraps store.
func NewGuarded(store Store, cfg BreakerConfig, logger *slog.Logger) *Guarded {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "journal",
		MaxRequests: cfg.HalfOpenMax,
		Interval:    0, // Don't clear counts automatically
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's doing, not the journal's.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &Guarded{Store: store, cb: cb}
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) exec(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (g *Guarded) RunStarted(ctx context.Context, runID, episode, kind, command string, started time.Time) error {
	return g.exec(func() error {
		return g.Store.RunStarted(ctx, runID, episode, kind, command, started)
	})
}

func (g *Guarded) RunFinished(ctx context.Context, runID, status string, exitCode int, finished time.Time) error {
	return g.exec(func() error {
		return g.Store.RunFinished(ctx, runID, status, exitCode, finished)
	})
}

func (g *Guarded) AppendOutput(ctx context.Context, runID string, lines []string) error {
	return g.exec(func() error {
		return g.Store.AppendOutput(ctx, runID, lines)
	})
}
