// Package redislock implements the FingerprintLocker port on Redis so that
// several contactlink instances sharing one database serialize on the same
// fingerprints.
package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ericfisherdev/contactlink/internal/adapter/driven/lock"
	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.FingerprintLocker = (*Locker)(nil)

const (
	defaultPrefix        = "contactlink:lock:"
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

// releaseScript deletes a lock key only while it still carries the caller's
// token, so an expired hold never releases somebody else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Options tunes a Locker. Zero values select the defaults.
type Options struct {
	// Prefix is prepended to every fingerprint to form the Redis key.
	Prefix string
	// TTL caps how long a crashed holder can keep a key.
	TTL time.Duration
	// Timeout bounds how long Lock waits for all keys.
	Timeout time.Duration
	// RetryInterval is the pause between SET NX attempts on a held key.
	RetryInterval time.Duration
}

// Locker holds fingerprints as Redis keys set with SET NX PX.
type Locker struct {
	client redis.Cmdable
	opts   Options
	logger *slog.Logger
}

// NewLocker creates a Locker on client.
func NewLocker(client redis.Cmdable, opts Options, logger *slog.Logger) *Locker {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = lock.DefaultTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, opts: opts, logger: logger}
}

// Lock acquires every key in sorted order under one ownership token. Keys
// still held by others after the timeout yield driven.ErrConflict; Redis
// errors are returned as is. Partial holds are released before returning an
// error.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = lock.NormalizeKeys(keys)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		redisKey := l.opts.Prefix + key
		if err := l.acquire(waitCtx, redisKey, token); err != nil {
			l.release(held, token)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock fingerprint %q: %w", key, err)
		}
		held = append(held, redisKey)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(held, token) })
	}, nil
}

func (l *Locker) acquire(ctx context.Context, redisKey, token string) error {
	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.opts.TTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return driven.ErrConflict
			}
			return fmt.Errorf("set nx: %w", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return driven.ErrConflict
		case <-ticker.C:
		}
	}
}

// release runs on a fresh context so that a canceled request still frees its
// keys.
func (l *Locker) release(redisKeys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Timeout)
	defer cancel()

	for i := len(redisKeys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, l.client, []string{redisKeys[i]}, token).Err(); err != nil {
			l.logger.Warn("release fingerprint lock", "key", redisKeys[i], "error", err)
		}
	}
}
