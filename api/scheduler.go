/*
scheduler.go - Periodic recompute scheduler

PURPOSE:
  Batches written in freeze mode leave later days stale on purpose. The
  scheduler walks every chain on an interval and rederives rows from a
  trailing window so those corrections eventually reach later days.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each run recomputes every (store, item) chain from today - Lookback
  - Records the last run for health checks and tests

CONFIGURATION:
  - CheckInterval: How often to run (0 disables the scheduler)
  - Lookback: How many days back each run starts (default: 7)

USAGE:
  scheduler := NewRecomputeScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Recompute endpoint (manual recompute of one chain)
  - ledger/recompute.go: RecomputeAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/freshstock/ledger"
)

// Recomputer is the part of the engine the scheduler drives.
type Recomputer interface {
	RecomputeAll(ctx context.Context, start ledger.Date) ([]ledger.RecomputeResult, error)
}

// RecomputeRun describes one scheduler pass.
type RecomputeRun struct {
	StartedAt   time.Time
	From        ledger.Date
	Keys        int
	Examined    int
	Updated     int
	Err         error
	CompletedAt time.Time
}

// RecomputeScheduler periodically recomputes every chain.
type RecomputeScheduler struct {
	Engine        Recomputer
	Log           zerolog.Logger
	CheckInterval time.Duration
	Lookback      int
	// Now is overridable in tests.
	Now func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *RecomputeRun
}

// NewRecomputeScheduler creates a scheduler with a one hour interval and a week of lookback.
func NewRecomputeScheduler(engine Recomputer, log zerolog.Logger) *RecomputeScheduler {
	return &RecomputeScheduler{
		Engine:        engine,
		Log:           log.With().Str("component", "scheduler").Logger(),
		CheckInterval: time.Hour,
		Lookback:      7,
		Now:           time.Now,
	}
}

// Start begins the scheduler. A non-positive interval leaves it disabled.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		rs.Log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.Log.Info().Dur("interval", rs.CheckInterval).Int("lookback_days", rs.Lookback).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	if rs.ticker == nil {
		rs.mu.Unlock()
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.ticker = nil
	rs.mu.Unlock()

	rs.wg.Wait()
	rs.Log.Info().Msg("scheduler stopped")
}

// LastRun returns a copy of the most recent run, or nil before the first one.
func (rs *RecomputeScheduler) LastRun() *RecomputeRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun == nil {
		return nil
	}
	run := *rs.lastRun
	return &run
}

func (rs *RecomputeScheduler) run(tick <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	rs.RunOnce(ctx)

	for {
		select {
		case <-tick:
			rs.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce recomputes every chain from today minus the lookback window.
func (rs *RecomputeScheduler) RunOnce(ctx context.Context) RecomputeRun {
	now := rs.Now()
	run := RecomputeRun{
		StartedAt: now,
		From:      ledger.DateOf(now).AddDays(-rs.Lookback),
	}

	results, err := rs.Engine.RecomputeAll(ctx, run.From)
	run.Keys = len(results)
	for _, r := range results {
		run.Examined += r.Examined
		run.Updated += r.Updated
	}
	run.Err = err
	run.CompletedAt = rs.Now()

	ev := rs.Log.Info()
	if err != nil {
		ev = rs.Log.Error().Err(err)
	}
	ev.Stringer("from", run.From).
		Int("keys", run.Keys).
		Int("examined", run.Examined).
		Int("updated", run.Updated).
		Dur("duration", run.CompletedAt.Sub(run.StartedAt)).
		Msg("scheduled recompute finished")

	rs.mu.Lock()
	rs.lastRun = &run
	rs.mu.Unlock()
	return run
}
