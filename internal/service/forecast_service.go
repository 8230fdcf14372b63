package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// ErrRunNotFound is returned when no run matches the lookup.
var ErrRunNotFound = errors.New("forecast run not found")

// Runner executes a single forecast run.
type Runner interface {
	RunWithID(ctx context.Context, runID string) (*domain.RunReport, error)
}

// ForecastService serializes runs behind the run lock and serves run history.
type ForecastService struct {
	runner  Runner
	runs    repository.RunRepository
	reports cache.ReportCache
	lock    cache.RunLock
	timeout time.Duration

	wg sync.WaitGroup
}

// NewForecastService wires a service. reports and lock default to the in-process versions;
// timeout bounds background runs started by Trigger (0 means no bound).
func NewForecastService(runner Runner, runs repository.RunRepository, reports cache.ReportCache, lock cache.RunLock, timeout time.Duration) *ForecastService {
	if reports == nil {
		reports = cache.NewNoopReportCache()
	}
	if lock == nil {
		lock = cache.NewLocalRunLock()
	}
	return &ForecastService{
		runner:  runner,
		runs:    runs,
		reports: reports,
		lock:    lock,
		timeout: timeout,
	}
}

// Run executes a run synchronously. It fails with domain.ErrRunInProgress when another run holds the lock.
func (s *ForecastService) Run(ctx context.Context) (*domain.RunReport, error) {
	runID := uuid.NewString()
	release, err := s.lock.Acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.execute(ctx, runID)
}

// Trigger takes the run lock and starts the run in the background, returning its id.
func (s *ForecastService) Trigger(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	release, err := s.lock.Acquire(ctx, runID)
	if err != nil {
		return "", err
	}

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer cancel()

		if _, err := s.execute(runCtx, runID); err != nil {
			log.Error().Err(err).Str("run_id", runID).Msg("triggered forecast run failed")
		}
	}()

	return runID, nil
}

// Wait blocks until every run started by Trigger has finished.
func (s *ForecastService) Wait() {
	s.wg.Wait()
}

func (s *ForecastService) execute(ctx context.Context, runID string) (*domain.RunReport, error) {
	report, err := s.runner.RunWithID(ctx, runID)
	if report != nil {
		if cerr := s.reports.SetReport(context.WithoutCancel(ctx), report); cerr != nil {
			log.Warn().Err(cerr).Str("run_id", runID).Msg("forecast: cache set report failed")
		}
	}
	return report, err
}

// Latest returns the most recent run.
func (s *ForecastService) Latest(ctx context.Context) (*domain.RunReport, error) {
	if report, ok, err := s.reports.GetLatest(ctx); err == nil && ok {
		return report, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("forecast: cache get latest failed")
	}

	report, err := s.runs.GetLatestRun(ctx)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrRunNotFound
	}
	return report, nil
}

// Get returns the run with the given id.
func (s *ForecastService) Get(ctx context.Context, runID string) (*domain.RunReport, error) {
	if report, ok, err := s.reports.GetReport(ctx, runID); err == nil && ok {
		return report, nil
	} else if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("forecast: cache get report failed")
	}

	report, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, ErrRunNotFound
	}
	return report, nil
}
