// Package mutex serializes deployer operations per server and per
// deployment, so two concurrent commands never race to install or
// configure the same target. In a single orchestratord process an
// in-process sync.Mutex is sufficient; Redis backing exists for the
// multi-replica deployment the spec allows as a future direction.
package mutex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker acquires and releases a named lock, returning a release func.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker keyed by resource name.
type Local struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocal builds an in-process Locker.
func NewLocal() *Local {
	return &Local{locks: map[string]*sync.Mutex{}}
}

func (l *Local) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// Lock blocks until key is acquired or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	m := l.keyLock(key)
	done := make(chan struct{})
	go func() {
		m.Lock()
		close(done)
	}()
	select {
	case <-done:
		return m.Unlock, nil
	case <-ctx.Done():
		go func() { <-done; m.Unlock() }() // still acquires eventually; release once it does
		return nil, ctx.Err()
	}
}

// Redis is a distributed Locker backed by a SET NX EX / Lua-unlock
// pattern, for orchestrator deployments running more than one replica.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis builds a Redis-backed Locker against addr.
func NewRedis(addr string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock polls for the lock every 100ms until acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	lockKey := "fleet:lock:" + key
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("mutex: redis setnx: %w", err)
		}
		if ok {
			release := func() {
				_ = unlockScript.Run(context.Background(), r.client, []string{lockKey}, token).Err()
			}
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the underlying Redis connection pool.
func (r *Redis) Close() error { return r.client.Close() }
