package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"bulletin-verifier/domain"
)

// Locker serializes verification runs per candidate folder. Acquire fails
// with domain.ErrFolderBusy instead of waiting.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker locks within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrFolderBusy, key)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

const redisLockPrefix = "bulletin-verifier:lock:"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker locks across worker processes sharing one Redis. The TTL bounds
// how long a crashed worker can keep a folder locked; a live holder renews
// the key every TTL/3 until it releases it.
type RedisLocker struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisLocker(addr, password string, db int, ttl time.Duration) (*RedisLocker, error) {
	if ttl < 3*time.Millisecond {
		return nil, fmt.Errorf("invalid lock ttl %s", ttl)
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, redisLockPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFolderBusy, key)
	}

	redisKey := redisLockPrefix + key
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, l.ttl/3, func() (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			defer cancel()
			n, err := renewScript.Run(ctx, l.rdb, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, key)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.rdb, []string{redisKey}, token).Err(); err != nil {
				log := Logger()
				log.Warn().Err(err).Str("folder", key).Msg("Failed to release folder lock")
			}
		})
	}, nil
}

// keepAlive calls renew every interval until stop is closed or the lock is
// found lost. A failed renewal is retried on the next tick.
func keepAlive(stop <-chan struct{}, interval time.Duration, renew func() (bool, error), key string) {
	log := Logger().With().Str("folder", key).Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := renew()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to renew folder lock")
				continue
			}
			if !held {
				log.Error().Msg("Folder lock lost before release")
				return
			}
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
