// Package runlock serialises reconciliation runs that share an account store.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("run lock held by another process")

// Release gives up a lock obtained from Acquire.
type Release func(ctx context.Context) error

// Locker grants exclusive access to a single reconciliation run.
type Locker interface {
	Acquire(ctx context.Context) (Release, error)
}

// Noop never blocks. It is used when no lock backend is configured.
type Noop struct{}

func (Noop) Acquire(context.Context) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-instance Redis lock with a TTL so a crashed run
// cannot hold it forever.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

// Dial connects to addr and verifies the server responds.
func Dial(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

func (l *RedisLocker) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}
