package data

import (
	"context"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockTTL bounds how long an airport lock can be held. A collector that
// dies mid-cycle must not fence the airport out forever.
const lockTTL = 10 * time.Minute

// releaseScript releases a lock only if the caller still owns it, so a
// worker that overran the TTL cannot release a lock re-acquired by a peer.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AirportLocker hands out per-airport collection locks.
//
// With Redis available the lock is distributed: multiple collector
// replicas can run and each airport is still collected once per cycle.
// Without Redis it degrades to a process-local lock, which is correct for
// a single replica.
type AirportLocker struct {
	client *redis.Client
	logger *log.Helper

	mu    sync.Mutex
	local map[string]bool
}

// NewAirportLocker creates an AirportLocker. A nil Redis client selects
// the process-local fallback.
func NewAirportLocker(rdb *redis.Client, logger log.Logger) *AirportLocker {
	return &AirportLocker{
		client: rdb,
		logger: log.NewHelper(logger),
		local:  make(map[string]bool),
	}
}

// TryAcquire attempts to take the lock for one airport without blocking.
// It returns a release function and true on success, or nil and false when
// another worker holds the airport.
func (l *AirportLocker) TryAcquire(ctx context.Context, icao string) (func(), bool) {
	if l.client == nil {
		return l.tryAcquireLocal(icao)
	}

	key := BuildCacheKey(CacheKeyLock, icao)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		l.logger.Warnw("airport lock unavailable, falling back to local lock",
			"airport", icao, "error", err)
		return l.tryAcquireLocal(icao)
	}
	if !ok {
		return nil, false
	}

	release := func() {
		// Release outlives the collection context on purpose.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.logger.Warnw("failed to release airport lock, TTL will expire it",
				"airport", icao, "error", err)
		}
	}
	return release, true
}

func (l *AirportLocker) tryAcquireLocal(icao string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.local[icao] {
		return nil, false
	}
	l.local[icao] = true

	release := func() {
		l.mu.Lock()
		delete(l.local, icao)
		l.mu.Unlock()
	}
	return release, true
}
