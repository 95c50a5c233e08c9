// internal/store/redislock/redislock.go

// Package redislock serializes work on a book across service instances with
// a Redis lease: SET NX PX to take it, compare-and-delete to give it back.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix         = "lock:book:"
	defaultTTL        = 5 * time.Second
	defaultRetryDelay = 10 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Locker hands out per-book leases. A holder that outlives the TTL loses the
// lease; the uniqueness guard in the record store still stops a double loan.
type Locker struct {
	client     *redis.Client
	ttl        time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

type Option func(*Locker) error

func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		l.ttl = ttl
		return nil
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(l *Locker) error {
		l.retryDelay = d
		return nil
	}
}

// WithLogger sets where failed releases are reported. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) error {
		l.logger = logger
		return nil
	}
}

func New(client *redis.Client, opts ...Option) (*Locker, error) {
	l := &Locker{
		client:     client,
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Lock polls until the lease is taken or ctx is done.
func (l *Locker) Lock(ctx context.Context, bookID uuid.UUID) (func(), error) {
	key := keyPrefix + bookID.String()
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release deletes the key only while it still holds our token. It runs on a
// fresh context so a cancelled request still frees its lease. A failed
// release leaves the key to expire with its TTL.
func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release book lock",
			"key", key,
			"ttl", l.ttl,
			"error", err,
		)
	}
}
