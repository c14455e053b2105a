package dataservice

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCheckInterval = 30 * time.Second

// Prober is the bounded-time backend health check.
type Prober interface {
	Health(ctx context.Context) error
}

// AvailabilityConfig describes the cached health verdict's dependencies. The
// clock is injectable so staleness is testable without wall-clock sleeps.
type AvailabilityConfig struct {
	Prober   Prober
	Clock    func() time.Time
	Interval time.Duration
	Logger   *zap.Logger
}

// Availability caches the backend health verdict for a bounded interval, so
// at most one probe is issued per interval no matter how many operations are
// in flight. Concurrent callers observe a consistent verdict within the
// window.
type Availability struct {
	prober   Prober
	clock    func() time.Time
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

// NewAvailability constructs the cached health check.
func NewAvailability(cfg AvailabilityConfig) *Availability {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Availability{
		prober:   cfg.Prober,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Available returns the cached verdict, probing only when the cache is stale.
// A nil prober means no backend is configured at all.
func (a *Availability) Available(ctx context.Context) bool {
	if a.prober == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	if !a.checkedAt.IsZero() && now.Sub(a.checkedAt) < a.interval {
		return a.available
	}

	err := a.prober.Health(ctx)
	a.checkedAt = now
	a.available = err == nil
	if err != nil {
		a.logger.Debug("backend health probe failed", zap.Error(err))
	}
	return a.available
}

// MarkUnavailable records a transport failure observed outside the probe, so
// subsequent calls inside the window route locally instead of re-failing.
func (a *Availability) MarkUnavailable() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = false
	a.checkedAt = a.clock()
}
