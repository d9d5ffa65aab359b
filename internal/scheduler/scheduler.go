package scheduler

import (
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/todayinmycity/todayinmycity/internal/observability"
)

// Purger is a cache that can drop its expired entries.
type Purger interface {
	PurgeExpired() int
	Len() int
}

// Scheduler periodically purges expired entries from the proxy cache so memory is
// reclaimed for keys that are never read again.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cache     Purger
	interval  time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(cache Purger, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		cache:     cache,
		interval:  interval,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start schedules the purge job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.cache == nil {
		s.logger.Info("scheduler: no cache configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	if _, err := s.scheduler.Every(interval).Do(s.RunOnce); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler: cache purge scheduled", "interval", interval.String())
	return nil
}

// RunOnce purges expired entries and refreshes the cache size gauge.
func (s *Scheduler) RunOnce() {
	removed := s.cache.PurgeExpired()
	size := s.cache.Len()

	if s.metrics != nil {
		s.metrics.CacheEntries.Set(float64(size))
	}
	if removed > 0 {
		s.logger.Debug("scheduler: purged expired cache entries", "removed", removed, "remaining", size)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
