package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

const (
	reportKeyPrefix = keyPrefix + "report:"
	latestReportKey = reportKeyPrefix + "latest"
)

// ReportCache keeps recent run reports close to the API.
type ReportCache interface {
	GetReport(ctx context.Context, runID string) (*domain.RunReport, bool, error)
	GetLatest(ctx context.Context) (*domain.RunReport, bool, error)
	// SetReport stores the report under its id and as the latest report.
	SetReport(ctx context.Context, report *domain.RunReport) error
	InvalidateAll(ctx context.Context) error
}

func buildReportKey(runID string) string {
	return reportKeyPrefix + "run:" + runID
}

type redisReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReportCache(client *redis.Client, ttl time.Duration) ReportCache {
	return &redisReportCache{client: client, ttl: ttl}
}

func (c *redisReportCache) GetReport(ctx context.Context, runID string) (*domain.RunReport, bool, error) {
	return c.get(ctx, buildReportKey(runID))
}

func (c *redisReportCache) GetLatest(ctx context.Context) (*domain.RunReport, bool, error) {
	return c.get(ctx, latestReportKey)
}

func (c *redisReportCache) get(ctx context.Context, key string) (*domain.RunReport, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, false, fmt.Errorf("decode cached report: %w", err)
	}
	return &report, true, nil
}

func (c *redisReportCache) SetReport(ctx context.Context, report *domain.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, buildReportKey(report.RunID), payload, c.ttl)
	pipe.Set(ctx, latestReportKey, payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *redisReportCache) InvalidateAll(ctx context.Context) error {
	return deleteKeysWithPrefix(ctx, c.client, reportKeyPrefix, scanBatchSize)
}

type noopReportCache struct{}

func NewNoopReportCache() ReportCache {
	return &noopReportCache{}
}

func (n *noopReportCache) GetReport(ctx context.Context, runID string) (*domain.RunReport, bool, error) {
	return nil, false, nil
}

func (n *noopReportCache) GetLatest(ctx context.Context) (*domain.RunReport, bool, error) {
	return nil, false, nil
}

func (n *noopReportCache) SetReport(ctx context.Context, report *domain.RunReport) error {
	return nil
}

func (n *noopReportCache) InvalidateAll(ctx context.Context) error {
	return nil
}
