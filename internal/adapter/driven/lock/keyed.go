// Package lock provides an in-process FingerprintLocker for single-instance
// deployments.
package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/contactlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.FingerprintLocker = (*KeyedLocker)(nil)

// DefaultTimeout bounds how long Lock waits for contended keys.
const DefaultTimeout = 5 * time.Second

// KeyedLocker hands out exclusive holds on string keys. Each key is a
// one-slot channel; slots are created on demand and dropped once nobody
// holds or waits for them.
type KeyedLocker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker creates a KeyedLocker. A non-positive timeout selects
// DefaultTimeout.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeyedLocker{
		slots:   make(map[string]*slot),
		timeout: timeout,
	}
}

// Lock acquires every key in sorted order, so two callers sharing keys can
// never deadlock. Duplicate keys are held once. If the keys are not all held
// within the timeout, the partial holds are released and driven.ErrConflict
// is returned.
func (l *KeyedLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = NormalizeKeys(keys)

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		s := l.acquireSlot(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-waitCtx.Done():
			l.releaseSlot(key, false)
			l.unlockAll(held)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("wait for fingerprint %q: %w", key, driven.ErrConflict)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlockAll(held) })
	}, nil
}

// Held reports how many keys currently have a slot. Tests use it to check
// that slots are cleaned up.
func (l *KeyedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *KeyedLocker) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.releaseSlot(keys[i], true)
	}
}

func (l *KeyedLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *KeyedLocker) releaseSlot(key string, holding bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		return
	}
	if holding {
		<-s.ch
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// NormalizeKeys returns the distinct non-empty keys in sorted order. Lockers
// acquire keys in this order.
func NormalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
