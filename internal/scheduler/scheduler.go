// Package scheduler runs the forecast on a cron schedule with retries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

const historySize = 20

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// JobResult records one scheduled execution, retries included.
type JobResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Scheduler triggers a single job on a cron spec (seconds field included).
type Scheduler struct {
	cron       *cron.Cron
	job        JobFunc
	spec       string
	maxRetries int
	retryDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	history []JobResult
}

// New validates spec and returns a stopped scheduler.
func New(spec string, job JobFunc, maxRetries int, retryDelay time.Duration) (*Scheduler, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		job:        job,
		spec:       spec,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		ctx:        ctx,
		cancel:     cancel,
	}

	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule forecast %q: %w", spec, err)
	}

	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	log.Info().Str("schedule", s.spec).Msg("Starting scheduler")
	s.cron.Start()
}

// Stop cancels a running job and waits for it to return.
func (s *Scheduler) Stop() {
	log.Info().Msg("Stopping scheduler")
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Scheduler stopped")
}

// Next returns the next scheduled time, or zero when not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce executes the job with retries and records the result.
func (s *Scheduler) RunOnce(ctx context.Context) JobResult {
	result := JobResult{StartTime: time.Now()}
	log.Info().Msg("scheduled forecast started")

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt + 1

		lastErr = s.job(ctx)
		if lastErr == nil {
			result.Success = true
			break
		}
		if !Retryable(lastErr) || attempt == s.maxRetries {
			break
		}

		log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("retry_in", s.retryDelay).Msg("scheduled forecast failed, retrying")

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = s.maxRetries
		case <-time.After(s.retryDelay):
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if !result.Success && lastErr != nil {
		result.Error = lastErr.Error()
	}

	s.record(result)

	if result.Success {
		log.Info().Dur("duration", result.Duration).Int("attempts", result.Attempts).Msg("scheduled forecast completed")
	} else {
		log.Error().Err(lastErr).Dur("duration", result.Duration).Int("attempts", result.Attempts).Msg("scheduled forecast failed")
	}
	return result
}

// Retryable reports whether a failed run is worth repeating. Only source
// outages are; a held lock or bad data will not change within the retry delay.
func Retryable(err error) bool {
	return errors.Is(err, domain.ErrDataUnavailable)
}

func (s *Scheduler) record(result JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, result)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// History returns recent results, oldest first.
func (s *Scheduler) History() []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]JobResult(nil), s.history...)
}
