package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRunLocked means another run holds the lock for the same channel.
var ErrRunLocked = errors.New("another run is in progress")

const runLockTTL = 2 * time.Hour

// Deletes the key only if it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RunLock keeps two pipeline runs from processing the same channel at once.
type RunLock struct {
	client lockClient
	ttl    time.Duration
	log    *slog.Logger
}

func NewRunLock(client *redis.Client, log *slog.Logger) *RunLock {
	return &RunLock{client: client, ttl: runLockTTL, log: log}
}

// Acquire takes the lock for name. The returned release func is safe to call
// once the run ends, even after the TTL expired and someone else took over.
func (l *RunLock) Acquire(ctx context.Context, name string) (func(), error) {
	key := fmt.Sprintf("yt2mail_run_lock:%s", name)
	token := uuid.NewString()

	locked, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRunLocked, name)
	}

	return func() {
		if err := l.client.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release run lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
