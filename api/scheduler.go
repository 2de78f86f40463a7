/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Periodically settles objectives whose end date has passed: their final
  evaluation is recorded once, so later task edits cannot change what was
  owed.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects incentivized objectives whose end date is over
  - Skips objectives that already have a settlement
  - Objectives that fail (store errors, malformed incentives) are logged and
    retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSettlementScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSettlements endpoint (manual settlement)
  - incentive/settlement.go: Settler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/incentive"
)

// SettlementScheduler settles due objectives on a timer.
type SettlementScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *SchedulerRun
}

// SchedulerRun is the summary of one tick.
type SchedulerRun struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Settled   int       `json:"settled"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Error     string    `json:"error,omitempty"`
}

// NewSettlementScheduler creates a new scheduler.
func NewSettlementScheduler(handler *Handler) *SettlementScheduler {
	return &SettlementScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *SettlementScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		zap.L().Info("settlement scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	zap.L().Info("settlement scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	zap.L().Info("settlement scheduler stopped")
}

func (s *SettlementScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow settles every due objective immediately (for testing/admin).
func (s *SettlementScheduler) RunNow(ctx context.Context) SchedulerRun {
	h := s.Handler
	run := SchedulerRun{ID: uuid.NewString(), StartedAt: h.now()}

	report, err := h.Settler.SettleDue(ctx, run.StartedAt)
	run.Settled = len(report.Settled)
	run.Skipped = report.Skipped
	run.Failed = len(report.Failed)
	if err != nil {
		run.Error = err.Error()
		zap.L().Error("settlement run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	if h.Metrics != nil {
		h.Metrics.ObserveSettlement(report)
	}
	for _, st := range report.Settled {
		zap.L().Debug("objective settled",
			zap.String("objective_id", string(st.ObjectiveID)),
			zap.String("result", st.Result.String()),
			zap.String("status", settledOutcome(st)))
	}

	if run.Settled > 0 || run.Failed > 0 {
		zap.L().Info("settlement run completed",
			zap.String("run_id", run.ID),
			zap.Int("settled", run.Settled),
			zap.Int("skipped", run.Skipped),
			zap.Int("failed", run.Failed))
	}

	s.mu.Lock()
	s.lastRun = &run
	s.mu.Unlock()
	return run
}

// LastRun returns the most recent tick, if any.
func (s *SettlementScheduler) LastRun() (SchedulerRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun == nil {
		return SchedulerRun{}, false
	}
	return *s.lastRun, true
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *SettlementScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}

// settledOutcome reports whether a settlement paid anything.
func settledOutcome(st incentive.Settlement) string {
	if st.Result.IsZero() {
		return "unpaid"
	}
	return "paid"
}
