package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flightwatch/internal/aggregator"
	"flightwatch/internal/scanner"
	"flightwatch/internal/scheduler"
)

// Scanner runs one scan cycle.
type Scanner interface {
	ScanCycle(ctx context.Context) (scanner.Report, error)
}

// Aggregator runs one aggregation pass.
type Aggregator interface {
	Run(ctx context.Context, now time.Time) ([]aggregator.Result, error)
}

// LoopStatus is the last known outcome of one loop.
type LoopStatus struct {
	Runs       int64     `json:"runs"`
	Failures   int64     `json:"failures"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastOK     bool      `json:"last_ok"`
	LastError  string    `json:"last_error,omitempty"`
	LastReport any       `json:"last_report,omitempty"`
}

// Status is a snapshot of both loops.
type Status struct {
	StartedAt time.Time  `json:"started_at"`
	Scan      LoopStatus `json:"scan"`
	Aggregate LoopStatus `json:"aggregate"`
}

// Service orchestrates the scan and aggregation loops.
type Service struct {
	scanSched *scheduler.Scheduler
	aggSched  *scheduler.Scheduler
	scanner   Scanner
	agg       Aggregator
	logger    zerolog.Logger

	mu     sync.RWMutex
	status Status
}

// New constructs the orchestrator.
func New(scanSched, aggSched *scheduler.Scheduler, sc Scanner, agg Aggregator, logger zerolog.Logger) *Service {
	return &Service{
		scanSched: scanSched,
		aggSched:  aggSched,
		scanner:   sc,
		agg:       agg,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run starts both loops and blocks until ctx is cancelled. Neither loop stops
// on a cycle error; the returned error is nil after a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if s.scanSched == nil || s.aggSched == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.mu.Lock()
	s.status.StartedAt = time.Now().UTC()
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.scanSched.Run(groupCtx, s.ScanOnce)
	})
	group.Go(func() error {
		return s.aggSched.Run(groupCtx, s.AggregateOnce)
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// ScanOnce runs a single scan cycle and records its outcome.
func (s *Service) ScanOnce(ctx context.Context, started time.Time) error {
	report, err := s.scanner.ScanCycle(ctx)
	s.record(&s.status.Scan, started, report, err)
	return err
}

// AggregateOnce runs a single aggregation pass and records its outcome.
func (s *Service) AggregateOnce(ctx context.Context, started time.Time) error {
	results, err := s.agg.Run(ctx, started)
	s.record(&s.status.Aggregate, started, results, err)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	return nil
}

// Status returns a copy of the latest loop outcomes.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Service) record(loop *LoopStatus, started time.Time, report any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loop.Runs++
	loop.LastRun = started
	loop.LastReport = report
	loop.LastOK = err == nil
	loop.LastError = ""
	if err != nil {
		loop.Failures++
		loop.LastError = err.Error()
	}
}
