package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/parley/pkg/ports"
)

// Locker implements ports.DistributedLocker for a single process.
// Locks expire after their TTL so a forgotten unlock cannot wedge a key.
type Locker struct {
	mu    sync.Mutex
	held  map[string]*lease
	retry time.Duration
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocker creates an in-process locker.
func NewLocker() *Locker {
	return &Locker{
		held:  make(map[string]*lease),
		retry: 10 * time.Millisecond,
	}
}

var tokens struct {
	sync.Mutex
	next uint64
}

func nextToken() uint64 {
	tokens.Lock()
	defer tokens.Unlock()
	tokens.next++
	return tokens.next
}

// Lock blocks until the key is free, the context is canceled or an existing lease expires.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	token := nextToken()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		if l.tryAcquire(key, token, ttl) {
			return func(context.Context) error {
				l.mu.Lock()
				defer l.mu.Unlock()
				if cur, ok := l.held[key]; ok && cur.token == token {
					delete(l.held, key)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) tryAcquire(key string, token uint64, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if cur, ok := l.held[key]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return false
	}
	exp := time.Time{}
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	l.held[key] = &lease{token: token, expires: exp}
	return true
}
