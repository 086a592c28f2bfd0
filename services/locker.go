package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"course-progression/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work per key, e.g. "lesson:<user>:<lesson>".
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex. Entries are dropped when unused.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[string]*keyLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLocker serializes across service instances with SET NX PX.
type RedisLocker struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	log        *logger.Logger
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ErrLockTimeout is returned when the lock could not be taken before ctx expired.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// NewRedisLocker connects to redisURL (redis://host:port/db) and pings it.
func NewRedisLocker(ctx context.Context, redisURL string, log *logger.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisLocker{
		rdb:        rdb,
		prefix:     "progress:lock:",
		ttl:        15 * time.Second,
		retryDelay: 25 * time.Millisecond,
		log:        log.With("service", "RedisLocker"),
	}, nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
			}
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(l.retryDelay):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release with a fresh context; the request context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.rdb, []string{fullKey}, token).Err(); err != nil {
				l.log.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
