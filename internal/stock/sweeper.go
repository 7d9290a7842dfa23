package stock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the background pass runs.
const DefaultSweepInterval = time.Minute

// SweepReport is one completed pass plus its timing, kept as the
// queryable last-run record for the admin status endpoint.
type SweepReport struct {
	StartedAt time.Time  `json:"startedAt"`
	Duration  string     `json:"duration"`
	Stats     SweepStats `json:"stats"`
}

// SweeperStatus answers the admin status endpoint.
type SweeperStatus struct {
	Enabled   bool         `json:"enabled"`
	Running   bool         `json:"running"`
	Interval  string       `json:"interval"`
	LastRun   *SweepReport `json:"lastRun,omitempty"`
	TotalRuns int          `json:"totalRuns"`
}

// Sweeper is the backstop against clients that never call unlock: a
// periodic pass that releases reservations past their deadline. It is an
// explicit object with an injectable clock rather than a package-level
// timer, so tests can drive it deterministically.
type Sweeper struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger

	// Now is the injectable clock used to decide what counts as expired.
	Now func() time.Time

	mu        sync.Mutex
	enabled   bool
	running   bool
	lastRun   *SweepReport
	totalRuns int

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper builds a sweeper; Start must be called to begin the
// background loop. A zero interval falls back to DefaultSweepInterval.
func NewSweeper(store Store, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      log,
		Now:      time.Now,
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
	s.log.Info().Dur("interval", s.interval).Msg("stock sweeper started")
}

// Stop halts the background loop and waits for an in-flight pass.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info().Msg("stock sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("sweep pass failed")
			}
		case <-s.stop:
			return
		}
	}
}

// RunOnce executes one sweep pass immediately. Shared by the background
// ticker and the admin trigger endpoint; both get identical semantics.
// Safe to call concurrently — the store's guarded decrements mean two
// overlapping passes can never release the same reservation twice.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	started := s.Now()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	stats, err := s.store.ReleaseExpired(ctx, started)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{
		StartedAt: started,
		Duration:  s.Now().Sub(started).String(),
		Stats:     *stats,
	}

	s.mu.Lock()
	s.lastRun = report
	s.totalRuns++
	s.mu.Unlock()

	sweepRuns.Inc()
	sweepReleased.Add(float64(stats.TotalQuantityReleased))

	if stats.TotalQuantityReleased > 0 || len(stats.Errors) > 0 {
		s.log.Info().
			Int("productsUnlocked", stats.ProductsUnlocked).
			Int("variantsUnlocked", stats.VariantsUnlocked).
			Int("quantityReleased", stats.TotalQuantityReleased).
			Int("errors", len(stats.Errors)).
			Msg("sweep pass completed")
	}
	return report, nil
}

// Status reports the enabled/running flags and the last run for the admin
// status endpoint.
func (s *Sweeper) Status() SweeperStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SweeperStatus{
		Enabled:   s.enabled,
		Running:   s.running,
		Interval:  s.interval.String(),
		LastRun:   s.lastRun,
		TotalRuns: s.totalRuns,
	}
}
