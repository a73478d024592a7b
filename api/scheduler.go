/*
scheduler.go - Monthly payroll batch scheduler

PURPOSE:
  Periodically generates draft runs for the configured orgs for the
  current month, so payroll does not depend on someone pressing
  "generate batch".

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each tick calls GenerateBatch for every org in OrgIDs
  - Employees that already have a run are skipped by the engine, so
    repeated ticks within a month are no-ops
  - A batch already held by another instance (lock conflict) is logged
    and skipped until the next tick

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: false via config)

USAGE:
  scheduler := NewBatchScheduler(svc, []int64{1, 2}, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GenerateBatch endpoint (manual batch)
  - payroll/batch.go: GenerateBatch
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// BatchScheduler runs monthly batches on a ticker.
type BatchScheduler struct {
	Service  payroll.Service
	OrgIDs   []int64
	Interval time.Duration
	Enabled  bool

	// Now picks the month to generate.
	Now func() time.Time

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBatchScheduler creates a new scheduler.
func NewBatchScheduler(svc payroll.Service, orgIDs []int64, logger *zap.Logger) *BatchScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchScheduler{
		Service:  svc,
		OrgIDs:   orgIDs,
		Interval: time.Hour,
		Enabled:  true,
		Now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (s *BatchScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("started", zap.Duration("interval", s.Interval), zap.Int64s("org_ids", s.OrgIDs))
}

// Stop stops the scheduler and waits for an in-flight tick.
func (s *BatchScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("stopped")
	}
}

func (s *BatchScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

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
	s.checkAndProcess(ctx)

	for {
		select {
		case <-ticker.C:
			s.checkAndProcess(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for testing/admin) and returns the
// batch results by org.
func (s *BatchScheduler) RunNow(ctx context.Context) map[int64]*payroll.BatchResult {
	return s.checkAndProcess(ctx)
}

// NextRunTime returns when the next scheduled check will occur.
func (s *BatchScheduler) NextRunTime() time.Time {
	return s.Now().Add(s.Interval)
}

func (s *BatchScheduler) checkAndProcess(ctx context.Context) map[int64]*payroll.BatchResult {
	month := generic.DateOf(s.Now()).StartOfMonth()
	results := make(map[int64]*payroll.BatchResult, len(s.OrgIDs))

	for _, orgID := range s.OrgIDs {
		if ctx.Err() != nil {
			return results
		}
		log := s.logger.With(zap.Int64("org_id", orgID), zap.String("month", month.MonthKey()))

		res, err := s.Service.GenerateBatch(ctx, payroll.BatchInput{OrgID: orgID, Month: month})
		switch {
		case err == nil:
		case generic.IsConflict(err):
			log.Info("batch already running elsewhere, skipping", zap.Error(err))
			continue
		default:
			log.Error("batch failed", zap.Error(err))
			continue
		}

		results[orgID] = res
		if res.Generated > 0 || len(res.Failed) > 0 {
			log.Info("batch completed",
				zap.String("batch_id", res.BatchID),
				zap.Int("generated", res.Generated),
				zap.Int("skipped", res.Skipped),
				zap.Int("failed", len(res.Failed)),
			)
		}
	}
	return results
}
