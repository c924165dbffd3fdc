/*
scheduler.go - Periodic catalog reload and lock-map maintenance

PURPOSE:
  Re-reads the rule directory on a timer so catalog edits go live without
  a restart, and sweeps idle per-consumer lock entries so the lock map
  does not grow with every consumer ever seen.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - A failed reload keeps the previous catalog snapshot serving
  - Lock entries idle for at least one full interval are dropped

CONFIGURATION:
  - Interval: How often to reload and sweep (zero disables the scheduler)

USAGE:
  scheduler := api.NewScheduler(catalog, processor, 15*time.Minute, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - factory/catalog.go: Reload semantics
  - loyalty/lock.go: The lock map being swept
*/
package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// Scheduler handles periodic catalog reloads and lock sweeps.
type Scheduler struct {
	Catalog   *factory.Catalog
	Processor *loyalty.Processor
	Interval  time.Duration
	Logger    *slog.Logger

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a new scheduler. An interval of zero disables it.
func NewScheduler(catalog *factory.Catalog, processor *loyalty.Processor, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Catalog:   catalog,
		Processor: processor,
		Interval:  interval,
		Logger:    logger,
		stop:      make(chan bool),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("scheduler started", "interval", s.Interval)
}

// Stop stops the scheduler and waits for the worker to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.Logger.Info("scheduler stopped")
	}
}

// RunNow triggers an immediate pass (for testing/admin).
func (s *Scheduler) RunNow() {
	s.tick()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	if err := s.Catalog.Reload(); err != nil {
		s.Logger.Error("scheduled rule reload failed, keeping previous catalog", "error", err)
	} else {
		s.Logger.Info("scheduled rule reload complete", "rules", s.Catalog.Len())
	}

	if s.Processor != nil {
		if removed := s.Processor.SweepLocks(s.Interval); removed > 0 {
			s.Logger.Info("swept idle consumer locks", "removed", removed)
		}
	}
}
