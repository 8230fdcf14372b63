package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

const runLockKey = keyPrefix + "run:lock"

// RunLock keeps forecast runs from overlapping.
type RunLock interface {
	// Acquire takes the lock for owner or returns domain.ErrRunInProgress.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, owner string) (release func(), err error)
}

// localRunLock guards runs within one process.
type localRunLock struct {
	mu    sync.Mutex
	owner string
}

func NewLocalRunLock() RunLock {
	return &localRunLock{}
}

func (l *localRunLock) Acquire(ctx context.Context, owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return nil, fmt.Errorf("%w: held by %s", domain.ErrRunInProgress, l.owner)
	}
	l.owner = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.owner = ""
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisRunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRunLock guards runs across processes with SET NX and a TTL.
func NewRedisRunLock(client *redis.Client, ttl time.Duration) RunLock {
	return &redisRunLock{client: client, ttl: ttl}
}

func (l *redisRunLock) Acquire(ctx context.Context, owner string) (func(), error) {
	ok, err := l.client.SetNX(ctx, runLockKey, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, runLockKey).Result()
		return nil, fmt.Errorf("%w: held by %s", domain.ErrRunInProgress, holder)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{runLockKey}, owner).Err(); err != nil {
				log.Warn().Err(err).Str("owner", owner).Msg("failed to release run lock")
			}
		})
	}, nil
}
