package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("every day", func(ctx context.Context) error { return nil }, 0, 0)
	assert.Error(t, err)
}

func TestRunOnceRetriesUnavailable(t *testing.T) {
	calls := 0
	s, err := New("0 0 2 * * *", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("extract: %w", domain.ErrDataUnavailable)
		}
		return nil
	}, 3, time.Millisecond)
	require.NoError(t, err)

	result := s.RunOnce(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Empty(t, result.Error)
	assert.Len(t, s.History(), 1)
}

func TestRunOnceStopsOnPermanentError(t *testing.T) {
	calls := 0
	s, err := New("0 0 2 * * *", func(ctx context.Context) error {
		calls++
		return domain.ErrInsufficientData
	}, 3, time.Millisecond)
	require.NoError(t, err)

	result := s.RunOnce(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "insufficient data", result.Error)
}

func TestRunOnceGivesUpAfterRetries(t *testing.T) {
	calls := 0
	s, err := New("0 0 2 * * *", func(ctx context.Context) error {
		calls++
		return domain.ErrDataUnavailable
	}, 2, time.Millisecond)
	require.NoError(t, err)

	result := s.RunOnce(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
}

func TestRunOnceCancelledDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("0 0 2 * * *", func(ctx context.Context) error {
		cancel()
		return domain.ErrDataUnavailable
	}, 5, time.Hour)
	require.NoError(t, err)

	result := s.RunOnce(ctx)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, context.Canceled.Error(), result.Error)
}

func TestHistoryIsBounded(t *testing.T) {
	s, err := New("0 0 2 * * *", func(ctx context.Context) error { return nil }, 0, 0)
	require.NoError(t, err)

	for i := 0; i < historySize+5; i++ {
		s.RunOnce(context.Background())
	}
	assert.Len(t, s.History(), historySize)
}

func TestStartStop(t *testing.T) {
	s, err := New("0 0 2 * * *", func(ctx context.Context) error { return nil }, 0, 0)
	require.NoError(t, err)

	s.Start()
	next := s.Next()
	assert.False(t, next.IsZero())
	assert.Equal(t, 2, next.Hour())
	s.Stop()
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(domain.NewStageError(domain.StageExtract, domain.ErrDataUnavailable)))
	assert.False(t, Retryable(domain.ErrRunInProgress))
	assert.False(t, Retryable(errors.New("boom")))
}
